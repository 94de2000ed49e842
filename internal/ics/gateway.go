// Package ics reads users' source calendars from ICS feeds and expands them
// into the event instances the sync engine works on.
package ics

import (
	"context"
	"fmt"
	"time"

	"gcalsync/internal/daterange"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
)

// Gateway queries a user's feed for the events inside a window.
type Gateway struct {
	Fetcher *Fetcher
}

// NewGateway returns a gateway reading feeds through fetcher.
func NewGateway(fetcher *Fetcher) *Gateway {
	return &Gateway{Fetcher: fetcher}
}

// QueryFeed returns the user's event instances overlapping window, ordered
// by start. Instances without a usable time span are dropped.
func (g *Gateway) QueryFeed(ctx context.Context, user model.User, window daterange.Range) ([]model.Event, error) {
	if user.FeedURL == "" {
		return nil, fmt.Errorf("ics: no feed configured for %s", user.Email)
	}

	feed, err := g.Fetcher.Fetch(ctx, user.FeedURL)
	if err != nil {
		return nil, err
	}

	parsed, err := Parse(user.Email, feed.Body)
	if err != nil {
		return nil, err
	}

	loc := user.Location
	if loc == nil {
		loc = time.UTC
	}
	all := Expand(parsed, ExpandOptions{Window: window, Location: loc})

	events := all[:0]
	for _, ev := range all {
		if ev.HasTimes() {
			events = append(events, ev)
		}
	}

	appLog.Info("feed queried",
		"user", user.Email,
		"events", len(events),
		"not_modified", feed.NotModified,
		"from_cache", feed.FromCache,
	)
	return events, nil
}
