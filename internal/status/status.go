// Package status holds the decision tables that turn calendar status tokens
// into busy, meeting and response states.
package status

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gcalsync/internal/model"
)

// ErrUnrecognizedStatus reports a status token outside the known set.
var ErrUnrecognizedStatus = errors.New("status: unrecognized status")

// ParseBusyStatus parses a busy status token as Exchange returns it.
func ParseBusyStatus(token string) (model.BusyStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "BUSY":
		return model.Busy, nil
	case "FREE":
		return model.Free, nil
	case "OUTOFOFFICE", "OOF":
		return model.OutOfOffice, nil
	case "TENTATIVE":
		return model.Tentative, nil
	}
	return model.Busy, fmt.Errorf("%w: busy status %q", ErrUnrecognizedStatus, token)
}

// ParseMeetingStatus maps an ICS STATUS token to a meeting status. Unknown
// tokens yield MeetingConfirmed with ErrUnrecognizedStatus.
func ParseMeetingStatus(token string) (model.MeetingStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "CANCELLED", "CANCELED":
		return model.MeetingCancelled, nil
	case "CONFIRMED":
		return model.MeetingConfirmed, nil
	case "TENTATIVE":
		return model.MeetingTentative, nil
	}
	return model.MeetingConfirmed, fmt.Errorf("%w: meeting status %q", ErrUnrecognizedStatus, token)
}

// ParseResponseStatus accepts either the enum name or its wire integer.
func ParseResponseStatus(token string) (model.ResponseStatus, error) {
	token = strings.TrimSpace(token)
	if n, err := strconv.Atoi(token); err == nil && n >= 0 && n <= int(model.ResponseNotResponded) {
		return model.ResponseStatus(n), nil
	}
	for s := model.ResponseNone; s <= model.ResponseNotResponded; s++ {
		if strings.EqualFold(token, s.String()) {
			return s, nil
		}
	}
	return model.ResponseNone, fmt.Errorf("%w: response status %q", ErrUnrecognizedStatus, token)
}

// ParseInstanceType accepts either the enum name or its wire integer.
func ParseInstanceType(token string) (model.InstanceType, error) {
	token = strings.TrimSpace(token)
	if n, err := strconv.Atoi(token); err == nil && n >= 0 && n <= int(model.InstanceException) {
		return model.InstanceType(n), nil
	}
	for it := model.InstanceSingle; it <= model.InstanceException; it++ {
		if strings.EqualFold(token, it.String()) {
			return it, nil
		}
	}
	return model.InstanceSingle, fmt.Errorf("%w: instance type %q", ErrUnrecognizedStatus, token)
}

// MeetingStatusForEvent maps a feed STATUS to a meeting status. Feeds that
// only project free/busy omit STATUS, so the default is Confirmed.
func MeetingStatusForEvent(s model.EventStatus) model.MeetingStatus {
	switch s {
	case model.EventStatusCancelled:
		return model.MeetingCancelled
	case model.EventStatusTentative:
		return model.MeetingTentative
	default:
		return model.MeetingConfirmed
	}
}

// ParticipantStatus returns the busy status implied by the user's attendee
// entry on ev. Without a matching attendee the user is Busy: free/busy
// projections carry no attendee list at all.
func ParticipantStatus(user model.User, ev model.Event) model.BusyStatus {
	for _, a := range ev.Attendees {
		if !user.MatchesEmail(a.Email) {
			continue
		}
		switch a.Status {
		case model.ParticipantAccepted:
			return model.Busy
		case model.ParticipantDeclined:
			return model.Free
		case model.ParticipantNeedsAction, model.ParticipantTentative:
			return model.Tentative
		}
		return model.Busy
	}
	return model.Busy
}

// UserStatusForEvent decides how ev shows in user's free/busy data.
func UserStatusForEvent(user model.User, ev model.Event) model.BusyStatus {
	if !ev.HasTimes() {
		return model.Free
	}

	meeting := MeetingStatusForEvent(ev.Status)
	if meeting == model.MeetingCancelled {
		return model.Free
	}

	st := ParticipantStatus(user, ev)
	if st == model.Free {
		return model.Free
	}
	if meeting == model.MeetingTentative && st == model.Busy {
		return model.Tentative
	}
	return st
}

// Response is an attendee response as reported to the source calendar.
type Response int

const (
	ResponseNeedsAction Response = iota
	ResponseAccepted
	ResponseDeclined
	ResponseTentative
	ResponseUninvited
	ResponseOrganizer
)

func (r Response) String() string {
	switch r {
	case ResponseNeedsAction:
		return "needs_action"
	case ResponseAccepted:
		return "accepted"
	case ResponseDeclined:
		return "declined"
	case ResponseTentative:
		return "tentative"
	case ResponseUninvited:
		return "uninvited"
	case ResponseOrganizer:
		return "organizer"
	default:
		return "unknown"
	}
}

// ResponseFromExchange maps an Exchange response status.
func ResponseFromExchange(s model.ResponseStatus) Response {
	switch s {
	case model.ResponseNotResponded:
		return ResponseNeedsAction
	case model.ResponseAccepted:
		return ResponseAccepted
	case model.ResponseDeclined:
		return ResponseDeclined
	case model.ResponseTentative:
		return ResponseTentative
	case model.ResponseOrganized:
		return ResponseOrganizer
	default:
		return ResponseUninvited
	}
}

// ResponseFromBusyStatus maps a busy status to the response it implies.
func ResponseFromBusyStatus(s model.BusyStatus) Response {
	switch s {
	case model.Busy, model.OutOfOffice:
		return ResponseAccepted
	case model.Free:
		return ResponseDeclined
	case model.Tentative:
		return ResponseTentative
	default:
		return ResponseUninvited
	}
}
