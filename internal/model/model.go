package model

import (
	"strings"
	"time"

	"gcalsync/internal/daterange"
)

// User is a mailbox being synchronized.
type User struct {
	Email string

	// FeedURL is the ICS feed holding the user's source calendar.
	FeedURL string

	// LegacyExchangeDN locates the user's free/busy message, e.g.
	// "/o=Example/ou=First Administrative Group/cn=Recipients/cn=alice".
	LegacyExchangeDN string

	// FreeBusyCommonName is the subject of the free/busy message.
	FreeBusyCommonName string

	// MailboxURL overrides the calendar folder URL. When empty it is derived
	// from the server URL and the mailbox alias.
	MailboxURL string

	// ExternalEmail is the address the user has in the source calendar
	// domain, if that differs from Email.
	ExternalEmail string

	Location *time.Location
}

// Alias returns the local part of the user's email address.
func (u User) Alias() string {
	alias, _, _ := strings.Cut(u.Email, "@")
	return alias
}

// MatchesEmail reports whether addr is one of the user's addresses.
func (u User) MatchesEmail(addr string) bool {
	if addr == "" {
		return false
	}
	return strings.EqualFold(addr, u.Email) ||
		(u.ExternalEmail != "" && strings.EqualFold(addr, u.ExternalEmail))
}

// Attendee is a participant of a source calendar event.
type Attendee struct {
	Email  string
	Status ParticipantStatus
}

// Event is a single concrete instance of a source calendar event, after
// recurrence expansion.
type Event struct {
	SourceID string
	UID      string

	// InstanceKey uniquely identifies one occurrence of a recurring event.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay  bool
	Private bool

	Status    EventStatus
	Attendees []Attendee

	Start time.Time
	End   time.Time
}

// HasTimes reports whether the event carries a usable time span.
func (e Event) HasTimes() bool {
	return !e.Start.IsZero() && !e.End.IsZero()
}

// Range returns the event span in UTC.
func (e Event) Range() daterange.Range {
	return daterange.New(e.Start.UTC(), e.End.UTC())
}

// Appointment is a calendar item on the Exchange side, either read from the
// server or built from a source event.
type Appointment struct {
	Range daterange.Range

	Subject   string
	Body      string
	Location  string
	Organizer string
	Comment   string

	BusyStatus     BusyStatus
	MeetingStatus  MeetingStatus
	ResponseStatus ResponseStatus
	InstanceType   InstanceType

	IsPrivate   bool
	AllDayEvent bool

	Created time.Time

	// HRef is the item URL on the server; empty until created.
	HRef string

	Owner Owner
}

// Owned reports whether the appointment was written by the sync engine and
// may therefore be updated or deleted by it.
func (a *Appointment) Owned() bool {
	return a != nil && a.Owner == OwnerSync
}
