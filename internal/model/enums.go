package model

// BusyStatus is how a span of time shows in free/busy data.
type BusyStatus int

const (
	Busy BusyStatus = iota
	Free
	OutOfOffice
	Tentative
)

func (s BusyStatus) String() string {
	switch s {
	case Busy:
		return "Busy"
	case Free:
		return "Free"
	case OutOfOffice:
		return "OutOfOffice"
	case Tentative:
		return "Tentative"
	default:
		return "Unknown"
	}
}

type MeetingStatus int

const (
	MeetingCancelled MeetingStatus = iota
	MeetingConfirmed
	MeetingTentative
)

func (s MeetingStatus) String() string {
	switch s {
	case MeetingCancelled:
		return "Cancelled"
	case MeetingConfirmed:
		return "Confirmed"
	case MeetingTentative:
		return "Tentative"
	default:
		return "Unknown"
	}
}

// ResponseStatus values are the integers Exchange stores on the wire.
type ResponseStatus int

const (
	ResponseNone         ResponseStatus = 0
	ResponseOrganized    ResponseStatus = 1
	ResponseTentative    ResponseStatus = 2
	ResponseAccepted     ResponseStatus = 3
	ResponseDeclined     ResponseStatus = 4
	ResponseNotResponded ResponseStatus = 5
)

func (s ResponseStatus) String() string {
	switch s {
	case ResponseNone:
		return "None"
	case ResponseOrganized:
		return "Organized"
	case ResponseTentative:
		return "Tentative"
	case ResponseAccepted:
		return "Accepted"
	case ResponseDeclined:
		return "Declined"
	case ResponseNotResponded:
		return "NotResponded"
	default:
		return "Unknown"
	}
}

// InstanceType values are the integers Exchange stores on the wire.
type InstanceType int

const (
	InstanceSingle    InstanceType = 0
	InstanceMaster    InstanceType = 1
	InstanceInstance  InstanceType = 2
	InstanceException InstanceType = 3
)

func (t InstanceType) String() string {
	switch t {
	case InstanceSingle:
		return "Single"
	case InstanceMaster:
		return "Master"
	case InstanceInstance:
		return "Instance"
	case InstanceException:
		return "Exception"
	default:
		return "Unknown"
	}
}

// Owner records who created an appointment.
type Owner int

const (
	// OwnerExchange marks appointments created by users on the server.
	OwnerExchange Owner = iota
	// OwnerSync marks placeholders written by this service.
	OwnerSync
)

func (o Owner) String() string {
	if o == OwnerSync {
		return "sync"
	}
	return "exchange"
}

// EventStatus is the iCalendar STATUS of a source event. The zero value
// means the feed did not say.
type EventStatus string

const (
	EventStatusUnset     EventStatus = ""
	EventStatusConfirmed EventStatus = "CONFIRMED"
	EventStatusCancelled EventStatus = "CANCELLED"
	EventStatusTentative EventStatus = "TENTATIVE"
)

// ParticipantStatus is the iCalendar PARTSTAT of an attendee.
type ParticipantStatus string

const (
	ParticipantNeedsAction ParticipantStatus = "NEEDS-ACTION"
	ParticipantAccepted    ParticipantStatus = "ACCEPTED"
	ParticipantDeclined    ParticipantStatus = "DECLINED"
	ParticipantTentative   ParticipantStatus = "TENTATIVE"
	ParticipantDelegated   ParticipantStatus = "DELEGATED"
)
