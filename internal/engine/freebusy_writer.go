package engine

import (
	"context"
	"fmt"

	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
	"gcalsync/internal/status"
)

// FreeBusyWriter publishes the source events straight into the user's
// Schedule+ free/busy message, without touching the calendar folder.
type FreeBusyWriter struct {
	Sink FreeBusySink
}

// NewFreeBusyWriter returns a writer publishing through sink.
func NewFreeBusyWriter(sink FreeBusySink) *FreeBusyWriter {
	return &FreeBusyWriter{Sink: sink}
}

// BusyRanges returns the condensed UTC spans in which user is not free.
func BusyRanges(user model.User, events []model.Event) []daterange.Range {
	var ranges []daterange.Range
	for _, ev := range events {
		if status.UserStatusForEvent(user, ev) == model.Free {
			continue
		}
		ranges = append(ranges, ev.Range())
	}
	return freebusy.Condense(ranges)
}

// SyncUser replaces the user's published busy times in the window with the
// spans in which the source events keep them busy.
func (w *FreeBusyWriter) SyncUser(ctx context.Context, user model.User, window daterange.Range, events []model.Event) error {
	ranges := BusyRanges(user, events)

	keys, blocks, err := freebusy.EncodeRanges(window.Start.UTC(), window.End.UTC(), ranges)
	if err != nil {
		return fmt.Errorf("engine: encode free/busy for %s: %w", user.Email, err)
	}

	start := freebusy.ToEpochMinutes(window.Start)
	end := freebusy.ToEpochMinutes(window.End)
	if err := w.Sink.WriteFreeBusy(ctx, user, keys, blocks, start, end); err != nil {
		return fmt.Errorf("engine: write free/busy for %s: %w", user.Email, err)
	}

	appLog.Info("free/busy published", "user", user.Email, "ranges", len(ranges), "months", len(keys))
	return nil
}
