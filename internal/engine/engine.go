// Package engine merges a user's published free/busy data with appointment
// detail and decides which placeholder appointments to create or delete so
// Exchange reflects the source calendar.
package engine

import (
	"context"

	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	"gcalsync/internal/model"
)

// AppointmentSource lists the appointments in a user's calendar folder.
type AppointmentSource interface {
	FetchAppointments(ctx context.Context, user model.User, window daterange.Range) ([]*model.Appointment, error)
}

// FreeBusySource reads a user's published free/busy data.
type FreeBusySource interface {
	FetchFreeBusy(ctx context.Context, user model.User, window daterange.Range) (freebusy.FreeBusy, error)
}

// FreeBusySink publishes encoded month blocks. start and end are the window
// bounds in minutes since 1601.
type FreeBusySink interface {
	WriteFreeBusy(ctx context.Context, user model.User, keys []int, blocks []string, start, end float64) error
}

// AppointmentSink writes appointments to a user's calendar folder.
type AppointmentSink interface {
	CreateAppointment(ctx context.Context, user model.User, appt *model.Appointment) error
	UpdateAppointment(ctx context.Context, user model.User, appt *model.Appointment) error
	DeleteAppointment(ctx context.Context, user model.User, appt *model.Appointment) error
}

// Writer brings one user's Exchange data in line with the source events.
type Writer interface {
	SyncUser(ctx context.Context, user model.User, window daterange.Range, events []model.Event) error
}

// CalendarInfo is what Exchange currently shows for a user.
type CalendarInfo struct {
	User     model.User
	Window   daterange.Range
	FreeBusy freebusy.FreeBusy

	// BusyTimes holds the merged time blocks.
	BusyTimes *freebusy.Collection

	// HaveAppointmentDetail is false when the appointment lookup was
	// disabled or failed. Blocks then carry no appointments.
	HaveAppointmentDetail bool
}
