package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gcalsync/internal/daterange"
	"gcalsync/internal/model"
)

var errFeed = errors.New("feed unavailable")

type fakeFeeds struct {
	fail map[string]bool

	// hold, when set, delays every failing query until it is closed.
	hold chan struct{}
}

func (f *fakeFeeds) QueryFeed(ctx context.Context, user model.User, window daterange.Range) ([]model.Event, error) {
	if f.fail[user.Email] {
		if f.hold != nil {
			<-f.hold
		}
		return nil, fmt.Errorf("query %s: %w", user.Email, errFeed)
	}
	return []model.Event{{UID: user.Email, Start: window.Start, End: window.Start.Add(time.Hour)}}, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	synced  map[string]int
	windows []daterange.Range

	// block, when set, holds every SyncUser until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (w *fakeWriter) SyncUser(ctx context.Context, user model.User, window daterange.Range, events []model.Event) error {
	if w.block != nil {
		w.entered <- struct{}{}
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.synced == nil {
		w.synced = make(map[string]int)
	}
	w.synced[user.Email] += len(events)
	w.windows = append(w.windows, window)
	return nil
}

func users(n int) []model.User {
	out := make([]model.User, n)
	for i := range out {
		out[i] = model.User{Email: fmt.Sprintf("user%d@example.com", i)}
	}
	return out
}

var fixedNow = time.Date(2008, time.May, 1, 12, 0, 0, 0, time.UTC)

func newProcess(feeds FeedSource, w *fakeWriter, store *StateStore, opts Options) *Process {
	p := NewProcess(feeds, w, store, opts)
	p.now = func() time.Time { return fixedNow }
	return p
}
