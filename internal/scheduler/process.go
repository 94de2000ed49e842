// Package scheduler runs sync passes: every configured user is read from
// their feed and written to the server by a small pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gcalsync/internal/daterange"
	"gcalsync/internal/engine"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
)

// ErrErrorThresholdExceeded aborts a pass once too many users have failed.
var ErrErrorThresholdExceeded = errors.New("scheduler: error threshold exceeded")

// FeedSource returns a user's source calendar events inside a window.
type FeedSource interface {
	QueryFeed(ctx context.Context, user model.User, window daterange.Range) ([]model.Event, error)
}

type Options struct {
	// ThreadCount is the number of workers; at least one runs.
	ThreadCount int

	// ErrorThreshold is the number of failed users tolerated in a pass.
	ErrorThreshold int

	// WindowDays N syncs [now-N days, now+N days].
	WindowDays int
}

// UserResult is the outcome of one user in a pass.
type UserResult struct {
	Email    string        `json:"email"`
	Events   int           `json:"events"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary describes a finished pass.
type Summary struct {
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Window   daterange.Range `json:"-"`
	Synced   int             `json:"synced"`
	Failed   int             `json:"failed"`
	Skipped  int             `json:"skipped"`
	Err      string          `json:"error,omitempty"`
	Users    []UserResult    `json:"users"`
}

// Process synchronizes users from their feeds to the server.
type Process struct {
	Feeds  FeedSource
	Writer engine.Writer
	Store  *StateStore

	opts Options
	now  func() time.Time
}

// NewProcess returns a process with at least one worker and a window of
// at least one day each side.
func NewProcess(feeds FeedSource, writer engine.Writer, store *StateStore, opts Options) *Process {
	if opts.ThreadCount < 1 {
		opts.ThreadCount = 1
	}
	if opts.WindowDays < 1 {
		opts.WindowDays = 1
	}
	return &Process{Feeds: feeds, Writer: writer, Store: store, opts: opts, now: time.Now}
}

// Window is the sync window around now.
func (p *Process) Window(now time.Time) daterange.Range {
	now = now.UTC()
	span := time.Duration(p.opts.WindowDays) * 24 * time.Hour
	return daterange.New(now.Add(-span), now.Add(span))
}

// userQueue hands users to workers in order.
type userQueue struct {
	mu    sync.Mutex
	users []model.User
}

func (q *userQueue) pop() (model.User, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.users) == 0 {
		return model.User{}, false
	}
	u := q.users[0]
	q.users = q.users[1:]
	return u, true
}

// Run syncs every user once. A failing user is logged and counted without
// stopping the others; once more than ErrorThreshold users have failed the
// pass stops with ErrErrorThresholdExceeded. Users not reached are reported
// as skipped.
func (p *Process) Run(ctx context.Context, users []model.User) (Summary, error) {
	started := p.now()
	window := p.Window(started)
	sum := Summary{Started: started, Window: window}

	if len(users) == 0 {
		appLog.Warn("no users configured, nothing to sync")
		sum.Finished = p.now()
		return sum, nil
	}

	threads := min(p.opts.ThreadCount, len(users))
	appLog.Info("sync pass started", "users", len(users), "threads", threads, "window", window.String())

	queue := &userQueue{users: append([]model.User(nil), users...)}
	var (
		errCount atomic.Int64
		mu       sync.Mutex
		results  []UserResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				user, ok := queue.pop()
				if !ok {
					return nil
				}

				res, aborted := p.syncUser(gctx, user, window)
				if aborted {
					return gctx.Err()
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()

				if res.Err == "" {
					continue
				}
				n := errCount.Add(1)
				if n > int64(p.opts.ErrorThreshold) {
					return fmt.Errorf("%w: %d users failed", ErrErrorThresholdExceeded, n)
				}
			}
			return gctx.Err()
		})
	}
	err := g.Wait()

	if p.Store != nil {
		if perr := p.Store.Persist(); perr != nil {
			appLog.Error("failed to persist sync state", perr)
		}
	}

	sum.Finished = p.now()
	sum.Users = results
	for _, r := range results {
		if r.Err == "" {
			sum.Synced++
		} else {
			sum.Failed++
		}
	}
	sum.Skipped = len(users) - len(results)
	if err != nil {
		sum.Err = err.Error()
		appLog.Error("sync pass aborted", err, "synced", sum.Synced, "failed", sum.Failed, "skipped", sum.Skipped)
		return sum, err
	}

	appLog.Info("sync pass complete", "synced", sum.Synced, "failed", sum.Failed, "took", sum.Finished.Sub(started))
	return sum, nil
}

// syncUser reports aborted when the pass was cancelled while the user was in
// flight. Such a user counts as skipped, not failed.
func (p *Process) syncUser(ctx context.Context, user model.User, window daterange.Range) (res UserResult, aborted bool) {
	start := time.Now()
	login := strings.ToLower(user.Email)
	res = UserResult{Email: login}

	err := func() error {
		appLog.Info("processing user", "user", login, "window", window.String())
		events, err := p.Feeds.QueryFeed(ctx, user, window)
		if err != nil {
			return err
		}
		res.Events = len(events)
		return p.Writer.SyncUser(ctx, user, window, events)
	}()
	res.Duration = time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			appLog.Warn("user sync aborted", "user", login, "err", err)
			return res, true
		}
		res.Err = err.Error()
		appLog.Error("failed to sync user", err, "user", login)
		return res, false
	}
	if p.Store != nil {
		p.Store.Update(login, p.now())
	}
	return res, false
}
