package ics

import (
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"gcalsync/internal/daterange"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
)

const defaultMaxOccurrences = 5000

// ExpandOptions controls recurrence expansion.
type ExpandOptions struct {
	// Window bounds the occurrences returned, inclusive.
	Window daterange.Range

	// Location places all-day events; time.UTC when nil.
	Location *time.Location

	// MaxOccurrences caps instances per recurring event.
	MaxOccurrences int
}

// Expand turns parsed events into concrete instances inside the window,
// applying EXDATEs and RECURRENCE-ID overrides. The result is ordered by
// start.
func Expand(events []ParsedEvent, opts ExpandOptions) []model.Event {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	var out []model.Event
	for _, uid := range uids {
		for _, ev := range bases[uid] {
			if ev.RRule == "" {
				out = appendInstance(out, ev, overrides[uid], ev.Start, ev.End, opts)
				continue
			}
			out = append(out, expandRecurring(ev, overrides[uid], opts)...)
		}
	}

	slices.SortStableFunc(out, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})
	return out
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, opts ExpandOptions) []model.Event {
	rule, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("invalid RRULE, skipping", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return nil
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	duration := ev.End.Sub(ev.Start)
	// Instances that started before the window may still reach into it.
	starts := set.Between(opts.Window.Start.In(loc).Add(-duration), opts.Window.End.In(loc), true)
	if len(starts) > opts.MaxOccurrences {
		appLog.Warn("recurrence truncated", "uid", ev.UID, "cap", opts.MaxOccurrences)
		starts = starts[:opts.MaxOccurrences]
	}

	var out []model.Event
	for _, s := range starts {
		out = appendInstance(out, ev, overrides, s, s.Add(duration), opts)
	}
	return out
}

// appendInstance adds one instance of ev, or the override replacing it,
// when it falls inside the window.
func appendInstance(out []model.Event, ev ParsedEvent, overrides []ParsedEvent, start, end time.Time, opts ExpandOptions) []model.Event {
	key := start
	for _, o := range overrides {
		if o.Recurrence.Equal(start) {
			ev, start, end = o, o.Start, o.End
			break
		}
	}

	if ev.AllDay {
		start = floatingDate(start, opts.Location)
		end = floatingDate(end, opts.Location)
	}
	if !opts.Window.Overlaps(daterange.New(start, end)) && !daterange.New(start, end).Overlaps(opts.Window) {
		return out
	}

	return append(out, model.Event{
		SourceID:    ev.FeedID,
		UID:         ev.UID,
		InstanceKey: ev.UID + "/" + key.UTC().Format(time.RFC3339),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Private:     ev.Private,
		Status:      ev.Status,
		Attendees:   ev.Attendees,
		Start:       start,
		End:         end,
	})
}

// floatingDate keeps the calendar date of t and moves it to midnight in loc.
func floatingDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
