// Package runloop provides the timer-based delayed-task scheduler used by
// the TX service and the operational FSM's watchdog kick: run one task at
// an arbitrary future instant, replaceable before it fires. One-shot tasks
// run on time.AfterFunc goroutines and repeating tasks on a ticker
// goroutine; tasks are not serialised onto a single goroutine.
package runloop

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of scheduled work. It receives the context the RunLoop was
// started with, cancelled when Stop is called.
type Task func(ctx context.Context)

// RunLoop executes at most one pending delayed Task at a time. Posting a
// new task cancels any task still pending. Safe for concurrent use.
type RunLoop struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	timer      *time.Timer
	generation uint64
}

// New constructs a stopped RunLoop.
func New() *RunLoop {
	return &RunLoop{}
}

// Start makes the loop ready to accept PostAt/PostAfter calls. Calling
// Start twice without an intervening Stop is a no-op.
func (r *RunLoop) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
}

// Stop cancels any pending task and the loop's context.
func (r *RunLoop) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.running = false
}

// PostAfter schedules task to run after d, replacing any task previously
// posted and not yet fired. Returns a cancel func that prevents this
// specific task from firing if called before d elapses.
func (r *RunLoop) PostAfter(d time.Duration, task Task) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return func() {}
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.generation++
	gen := r.generation
	ctx := r.ctx

	r.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		stale := gen != r.generation
		r.mu.Unlock()
		if stale {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		task(ctx)
	})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if gen == r.generation && r.timer != nil {
			r.timer.Stop()
		}
	}
}

// PostAt schedules task to run at the given wall-clock instant.
func (r *RunLoop) PostAt(when time.Time, task Task) func() {
	return r.PostAfter(time.Until(when), task)
}

// PostEvery schedules task to run repeatedly every interval d, starting
// after the first d, until Stop is called or the returned func is invoked.
// Grounded on the FSM's watchdog-kick cadence requirement.
func (r *RunLoop) PostEvery(d time.Duration, task Task) func() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return func() {}
	}
	ctx := r.ctx
	r.mu.Unlock()

	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopCh) }) }

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()

	return stop
}
