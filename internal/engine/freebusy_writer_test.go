package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	"gcalsync/internal/model"
)

func may(d, hh, mm int) time.Time {
	return time.Date(2008, time.May, d, hh, mm, 0, 0, time.UTC)
}

func TestBusyRanges(t *testing.T) {
	declined := model.Event{
		Start: may(2, 9, 0), End: may(2, 10, 0),
		Attendees: []model.Attendee{{Email: user.Email, Status: model.ParticipantDeclined}},
	}
	cancelled := model.Event{Start: may(3, 9, 0), End: may(3, 10, 0), Status: model.EventStatusCancelled}
	tentative := model.Event{Start: may(4, 9, 0), End: may(4, 10, 0), Status: model.EventStatusTentative}

	got := BusyRanges(user, []model.Event{
		{Start: may(1, 10, 0), End: may(1, 11, 0)},
		{Start: may(1, 10, 30), End: may(1, 12, 0)},
		declined,
		cancelled,
		tentative,
		{}, // no times
	})

	assert.Equal(t, []daterange.Range{
		daterange.New(may(1, 10, 0), may(1, 12, 0)),
		daterange.New(may(4, 9, 0), may(4, 10, 0)),
	}, got)
}

func TestFreeBusyWriterSyncUser(t *testing.T) {
	f := &fakeExchange{}
	window := daterange.New(time.Date(2008, time.April, 20, 0, 0, 0, 0, time.UTC), time.Date(2008, time.June, 1, 0, 0, 0, 0, time.UTC))

	evs := []model.Event{
		{Start: may(1, 10, 0), End: may(1, 11, 0)},
		{Start: time.Date(2008, time.April, 30, 23, 0, 0, 0, time.UTC), End: may(1, 1, 0)},
	}
	require.NoError(t, NewFreeBusyWriter(f).SyncUser(context.Background(), user, window, evs))

	assert.Equal(t, []int{2008*16 + 4, 2008*16 + 5, 2008*16 + 6}, f.keys)
	assert.Equal(t, freebusy.ToEpochMinutes(window.Start), f.start)
	assert.Equal(t, freebusy.ToEpochMinutes(window.End), f.end)

	got, err := freebusy.DecodeBlocks(f.keys, f.blocks)
	require.NoError(t, err)
	assert.Equal(t, []daterange.Range{
		daterange.New(time.Date(2008, time.April, 30, 23, 0, 0, 0, time.UTC), time.Date(2008, time.April, 30, 23, 59, 0, 0, time.UTC)),
		daterange.New(may(1, 0, 0), may(1, 1, 0)),
		daterange.New(may(1, 10, 0), may(1, 11, 0)),
	}, got)
}

func TestFreeBusyWriterRejectsReversedEvent(t *testing.T) {
	f := &fakeExchange{}
	evs := []model.Event{{Start: may(2, 10, 0), End: may(1, 10, 0)}}

	err := NewFreeBusyWriter(f).SyncUser(context.Background(), user, daterange.New(may(1, 0, 0), may(30, 0, 0)), evs)
	assert.ErrorIs(t, err, daterange.ErrInvalidRange)
	assert.Nil(t, f.keys)
}
