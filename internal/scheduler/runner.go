package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
)

// Runner triggers sync passes on a cron schedule. Passes never overlap: a
// trigger arriving while a pass is running is dropped.
type Runner struct {
	process *Process
	users   []model.User
	spec    string

	running atomic.Bool

	mu   sync.RWMutex
	last *Summary

	cron   *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

// NewRunner parses the cron schedule and returns a stopped runner.
func NewRunner(spec string, process *Process, users []model.User) (*Runner, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: refresh schedule %q: %w", spec, err)
	}
	return &Runner{process: process, users: users, spec: spec}, nil
}

// Start schedules passes until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.runCtx, r.cancel = context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(r.spec, func() { r.RunOnce(r.runCtx) }); err != nil {
		r.cancel()
		return fmt.Errorf("scheduler: %w", err)
	}
	c.Start()
	r.cron = c
	appLog.Info("scheduler started", "refresh", r.spec, "users", len(r.users))
	return nil
}

// Stop cancels the running pass, if any, and waits for it to return.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunOnce runs a pass now unless one is already running. It reports
// whether a pass ran.
func (r *Runner) RunOnce(ctx context.Context) (Summary, bool, error) {
	if !r.running.CompareAndSwap(false, true) {
		appLog.Warn("previous sync pass still running, skipping")
		return Summary{}, false, nil
	}
	defer r.running.Store(false)

	sum, err := r.process.Run(ctx, r.users)
	r.mu.Lock()
	r.last = &sum
	r.mu.Unlock()
	return sum, true, err
}

// Running reports whether a pass is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// LastRun returns the summary of the last finished pass.
func (r *Runner) LastRun() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Users returns the users each pass syncs.
func (r *Runner) Users() []model.User {
	return r.users
}

// State returns the per-user last sync times.
func (r *Runner) State() *StateStore {
	return r.process.Store
}
