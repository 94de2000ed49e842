package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gcalsync/internal/daterange"
	"gcalsync/internal/intervaltree"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
	"gcalsync/internal/status"
)

// DefaultSubject is the subject of placeholder appointments.
const DefaultSubject = "Busy"

// Plan is the set of changes that brings a user's calendar folder in line
// with the source events. The three lists never share an appointment.
type Plan struct {
	Delete []*model.Appointment
	Update []*model.Appointment
	Create []*model.Appointment
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Delete) == 0 && len(p.Update) == 0 && len(p.Create) == 0
}

// AppointmentWriter keeps one placeholder appointment per source event in
// the user's Exchange calendar. Only appointments it owns are ever changed.
type AppointmentWriter struct {
	Calendar *CalendarService
	Sink     AppointmentSink

	// Subject is used for new appointments; DefaultSubject when empty.
	Subject string

	now func() time.Time
}

// NewAppointmentWriter returns a writer creating placeholders titled
// subject, or DefaultSubject when subject is empty.
func NewAppointmentWriter(calendar *CalendarService, sink AppointmentSink, subject string) *AppointmentWriter {
	return &AppointmentWriter{
		Calendar: calendar,
		Sink:     sink,
		Subject:  subject,
	}
}

// SyncUser looks up what Exchange holds for user, plans the changes and
// applies deletes and creates. Planned updates are logged but not written.
func (w *AppointmentWriter) SyncUser(ctx context.Context, user model.User, window daterange.Range, events []model.Event) error {
	info, err := w.Calendar.Lookup(ctx, user, window)
	if err != nil {
		return err
	}

	plan := w.Plan(info, user, events)
	appLog.Info("appointment sync planned",
		"user", user.Email,
		"delete", len(plan.Delete),
		"update", len(plan.Update),
		"create", len(plan.Create),
	)
	return w.Apply(ctx, user, plan)
}

// Apply deletes then creates. A failed item does not stop the others; all
// failures are returned together.
func (w *AppointmentWriter) Apply(ctx context.Context, user model.User, plan Plan) error {
	var errs []error
	for _, appt := range plan.Delete {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Sink.DeleteAppointment(ctx, user, appt); err != nil {
			errs = append(errs, fmt.Errorf("engine: delete %s: %w", appt.Range, err))
		}
	}
	// TODO: publish plan.Update once the sink can PROPPATCH existing items
	// without resetting their attendee state.
	for _, appt := range plan.Create {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Sink.CreateAppointment(ctx, user, appt); err != nil {
			errs = append(errs, fmt.Errorf("engine: create %s: %w", appt.Range, err))
		}
	}
	return errors.Join(errs...)
}

// Plan compares the appointments in info with the source events. Without
// appointment detail nothing can be told apart safely and the plan is empty.
func (w *AppointmentWriter) Plan(info *CalendarInfo, user model.User, events []model.Event) Plan {
	var plan Plan
	if info == nil || !info.HaveAppointmentDetail || info.BusyTimes == nil {
		appLog.Debug("no appointment detail, skipping", "user", user.Email)
		return plan
	}

	incoming := intervaltree.New[*model.Appointment]()
	for _, ev := range events {
		if !ev.HasTimes() {
			continue
		}
		appt := w.newAppointment(user, ev)
		incoming.Insert(appt.Range, appt)
	}

	deleted := make(map[*model.Appointment]bool)
	markDeleted := func(a *model.Appointment) {
		if deleted[a] {
			return
		}
		deleted[a] = true
		plan.Delete = append(plan.Delete, a)
		plan.Update = slices.DeleteFunc(plan.Update, func(u *model.Appointment) bool { return u == a })
	}

	// Placeholders marked free or tentative need not sit in any busy block,
	// so every owned appointment in the window is checked.
	existing := info.BusyTimes.Appointments()
	for _, appt := range existing.All() {
		if appt.Owned() && incoming.FindExact(appt.Range).IsAbsent() {
			markDeleted(appt)
		}
	}

	updated := make(map[*model.Appointment]bool)
	for _, appt := range incoming.Values() {
		if appt.MeetingStatus == model.MeetingCancelled {
			for _, old := range existing.Get(appt.Range) {
				if old.Owned() {
					markDeleted(old)
				}
			}
			continue
		}

		var target *model.Appointment
		for _, old := range existing.Get(appt.Range) {
			if old.Owned() && !deleted[old] {
				target = old
				break
			}
		}
		if target == nil {
			plan.Create = append(plan.Create, appt)
			continue
		}
		if copyAppointment(target, appt) && !updated[target] {
			updated[target] = true
			plan.Update = append(plan.Update, target)
		}
	}
	return plan
}

func (w *AppointmentWriter) newAppointment(user model.User, ev model.Event) *model.Appointment {
	subject := w.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	now := time.Now
	if w.now != nil {
		now = w.now
	}
	return &model.Appointment{
		Range:         ev.Range(),
		Subject:       subject,
		Location:      ev.Location,
		AllDayEvent:   ev.AllDay,
		IsPrivate:     ev.Private,
		MeetingStatus: status.MeetingStatusForEvent(ev.Status),
		BusyStatus:    status.UserStatusForEvent(user, ev),
		InstanceType:  model.InstanceSingle,
		Created:       now().UTC(),
		Owner:         model.OwnerSync,
	}
}

// copyAppointment copies the fields the sync engine manages from src to dst
// and reports whether any of them changed.
func copyAppointment(dst, src *model.Appointment) bool {
	changed := !dst.Range.Equal(src.Range) ||
		dst.Subject != src.Subject ||
		dst.Body != src.Body ||
		dst.Location != src.Location ||
		dst.Comment != src.Comment ||
		dst.AllDayEvent != src.AllDayEvent ||
		dst.IsPrivate != src.IsPrivate ||
		dst.MeetingStatus != src.MeetingStatus ||
		dst.InstanceType != src.InstanceType ||
		dst.BusyStatus != src.BusyStatus
	if !changed {
		return false
	}

	dst.Range = src.Range
	dst.Subject = src.Subject
	dst.Body = src.Body
	dst.Location = src.Location
	dst.Comment = src.Comment
	dst.AllDayEvent = src.AllDayEvent
	dst.IsPrivate = src.IsPrivate
	dst.MeetingStatus = src.MeetingStatus
	dst.InstanceType = src.InstanceType
	dst.BusyStatus = src.BusyStatus
	return true
}
