// Package poller watches a remote asynchronous job until it reaches a
// terminal state or exhausts its attempt budget.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// TimeoutReason is the outcome reason when the attempt budget runs out.
const TimeoutReason = "timeout"

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 60
)

var ErrCancelled = errors.New("watch cancelled")

// Status is one polled job status.
type Status interface {
	Phase() Phase
	FailureReason() string
}

type FetchFunc[S Status] func(ctx context.Context, jobID string) (S, error)

// Outcome is delivered exactly once per watch that was not cancelled.
type Outcome[S Status] struct {
	OK       bool
	Status   S
	Reason   string
	TimedOut bool
	Attempts int
}

// Scheduler supplies the waits between fetches.
type Scheduler interface {
	After(d time.Duration) <-chan time.Time
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RealScheduler waits on the wall clock.
func RealScheduler() Scheduler {
	return realScheduler{}
}

type Options[S Status] struct {
	// Interval is the wait after a successful fetch.
	Interval time.Duration
	// ErrorInterval is the wait after a failed fetch. Defaults to twice Interval.
	ErrorInterval time.Duration
	// MaxAttempts bounds the number of fetches, successful or not.
	MaxAttempts int

	OnProgress func(status S)
	OnError    func(attempt int, err error)
	OnTerminal func(outcome Outcome[S])

	Scheduler Scheduler
}

func (o Options[S]) withDefaults() Options[S] {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.ErrorInterval < o.Interval {
		o.ErrorInterval = 2 * o.Interval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Scheduler == nil {
		o.Scheduler = realScheduler{}
	}
	return o
}

// Run polls jobID synchronously. The first fetch happens immediately. Every
// fetch, including one that errors, consumes one attempt. Run returns
// ErrCancelled without invoking any further callback once ctx is done.
func Run[S Status](ctx context.Context, jobID string, fetch FetchFunc[S], opts Options[S]) (Outcome[S], error) {
	opts = opts.withDefaults()

	var last S
	var wait time.Duration
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return Outcome[S]{}, ErrCancelled
			case <-opts.Scheduler.After(wait):
			}
		}
		if ctx.Err() != nil {
			return Outcome[S]{}, ErrCancelled
		}

		status, err := fetch(ctx, jobID)
		if ctx.Err() != nil {
			return Outcome[S]{}, ErrCancelled
		}
		if err != nil {
			if opts.OnError != nil {
				opts.OnError(attempt, err)
			}
			wait = opts.ErrorInterval
			continue
		}
		wait = opts.Interval
		last = status

		if opts.OnProgress != nil {
			opts.OnProgress(status)
		}
		if ctx.Err() != nil {
			return Outcome[S]{}, ErrCancelled
		}

		switch status.Phase() {
		case PhaseCompleted:
			return finish(opts, Outcome[S]{OK: true, Status: status, Attempts: attempt}), nil
		case PhaseFailed:
			reason := status.FailureReason()
			if reason == "" {
				reason = "job failed"
			}
			return finish(opts, Outcome[S]{Status: status, Reason: reason, Attempts: attempt}), nil
		}
	}

	return finish(opts, Outcome[S]{Status: last, Reason: TimeoutReason, TimedOut: true, Attempts: opts.MaxAttempts}), nil
}

func finish[S Status](opts Options[S], out Outcome[S]) Outcome[S] {
	if opts.OnTerminal != nil {
		opts.OnTerminal(out)
	}
	return out
}

// Handle controls a watch running in its own goroutine.
type Handle[S Status] struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	outcome Outcome[S]
	err     error
}

// Watch starts Run in a goroutine.
func Watch[S Status](ctx context.Context, jobID string, fetch FetchFunc[S], opts Options[S]) *Handle[S] {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle[S]{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		out, err := Run(ctx, jobID, fetch, opts)
		h.mu.Lock()
		h.outcome, h.err = out, err
		h.mu.Unlock()
	}()
	return h
}

// Cancel stops observing without waiting. Safe to call from a callback.
func (h *Handle[S]) Cancel() {
	h.cancel()
}

// Stop cancels the watch and waits for it to exit. No callback runs after
// Stop returns. It must not be called from inside a callback.
func (h *Handle[S]) Stop() {
	h.cancel()
	<-h.done
}

func (h *Handle[S]) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome once Done is closed.
func (h *Handle[S]) Result() (Outcome[S], error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.err
}
