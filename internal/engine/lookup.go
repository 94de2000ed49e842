package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
)

// CalendarService reads a user's free/busy data and appointments and
// merges them.
type CalendarService struct {
	FreeBusy FreeBusySource

	// Appointments may be nil to skip the appointment lookup.
	Appointments AppointmentSource
}

// Lookup fetches free/busy data and appointments concurrently and merges
// them once both have finished. A failed appointment lookup leaves the
// result without appointment detail; a failed free/busy lookup is an error.
func (s *CalendarService) Lookup(ctx context.Context, user model.User, window daterange.Range) (*CalendarInfo, error) {
	var (
		fb       freebusy.FreeBusy
		appts    []*model.Appointment
		apptsErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fb, err = s.FreeBusy.FetchFreeBusy(gctx, user, window)
		if err != nil {
			return fmt.Errorf("engine: free/busy lookup for %s: %w", user.Email, err)
		}
		return nil
	})
	if s.Appointments != nil {
		g.Go(func() error {
			appts, apptsErr = s.Appointments.FetchAppointments(gctx, user, window)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	info := &CalendarInfo{
		User:                  user,
		Window:                window,
		FreeBusy:              fb,
		HaveAppointmentDetail: s.Appointments != nil && apptsErr == nil,
	}
	if apptsErr != nil {
		appLog.Warn("appointment lookup failed, continuing without detail", "user", user.Email, "err", apptsErr)
		appts = nil
	}
	info.BusyTimes = Merge(fb, appts, window)
	return info, nil
}
