package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	"gcalsync/internal/model"
)

var errCreate = errors.New("create failed")

// fakeExchange stands in for the WebDAV client.
type fakeExchange struct {
	mu sync.Mutex

	fb       freebusy.FreeBusy
	fbErr    error
	appts    []*model.Appointment
	apptsErr error

	failCreate map[time.Time]bool

	created []*model.Appointment
	updated []*model.Appointment
	deleted []*model.Appointment

	keys       []int
	blocks     []string
	start, end float64
}

func (f *fakeExchange) FetchFreeBusy(ctx context.Context, user model.User, window daterange.Range) (freebusy.FreeBusy, error) {
	return f.fb, f.fbErr
}

func (f *fakeExchange) FetchAppointments(ctx context.Context, user model.User, window daterange.Range) ([]*model.Appointment, error) {
	return f.appts, f.apptsErr
}

func (f *fakeExchange) WriteFreeBusy(ctx context.Context, user model.User, keys []int, blocks []string, start, end float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys, f.blocks, f.start, f.end = keys, blocks, start, end
	return nil
}

func (f *fakeExchange) CreateAppointment(ctx context.Context, user model.User, appt *model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate[appt.Range.Start] {
		return errCreate
	}
	f.created = append(f.created, appt)
	return nil
}

func (f *fakeExchange) UpdateAppointment(ctx context.Context, user model.User, appt *model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, appt)
	return nil
}

func (f *fakeExchange) DeleteAppointment(ctx context.Context, user model.User, appt *model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, appt)
	return nil
}

// addExisting records r as a busy span holding one appointment.
func (f *fakeExchange) addExisting(r daterange.Range, owner model.Owner) *model.Appointment {
	appt := &model.Appointment{Range: r, BusyStatus: model.Busy, Owner: owner}
	f.fb.All = append(f.fb.All, r)
	f.fb.Busy = append(f.fb.Busy, r)
	f.appts = append(f.appts, appt)
	return appt
}

func newWriter(f *fakeExchange) *AppointmentWriter {
	w := NewAppointmentWriter(&CalendarService{FreeBusy: f, Appointments: f}, f, "")
	w.now = func() time.Time { return time.Date(2007, time.July, 1, 0, 0, 0, 0, time.UTC) }
	return w
}

func ranges(appts []*model.Appointment) []daterange.Range {
	out := make([]daterange.Range, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.Range)
	}
	return out
}

func event(r daterange.Range) model.Event {
	return model.Event{Start: r.Start, End: r.End}
}

func events(rs ...daterange.Range) []model.Event {
	out := make([]model.Event, 0, len(rs))
	for _, r := range rs {
		out = append(out, event(r))
	}
	return out
}
