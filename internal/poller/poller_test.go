package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStatus struct {
	phase  Phase
	reason string
	done   int
}

func (s fakeStatus) Phase() Phase          { return s.phase }
func (s fakeStatus) FailureReason() string { return s.reason }

// instantScheduler fires immediately and records every requested wait.
type instantScheduler struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *instantScheduler) After(d time.Duration) <-chan time.Time {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (s *instantScheduler) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// neverScheduler never fires.
type neverScheduler struct{}

func (neverScheduler) After(time.Duration) <-chan time.Time { return nil }

func scripted(steps ...any) (FetchFunc[fakeStatus], *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context, jobID string) (fakeStatus, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(steps) {
			i = len(steps) - 1
		}
		switch v := steps[i].(type) {
		case error:
			return fakeStatus{}, v
		case fakeStatus:
			return v, nil
		}
		panic("bad step")
	}, &calls
}

func TestRun_AlwaysErrorTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	for _, n := range []int{1, 2, 5, 12} {
		fetch, calls := scripted(errors.New("connection refused"))
		sched := &instantScheduler{}
		var terminals []Outcome[fakeStatus]
		var progress int

		out, err := Run(context.Background(), "job-1", fetch, Options[fakeStatus]{
			Interval:      time.Second,
			ErrorInterval: 5 * time.Second,
			MaxAttempts:   n,
			OnProgress:    func(fakeStatus) { progress++ },
			OnTerminal:    func(o Outcome[fakeStatus]) { terminals = append(terminals, o) },
			Scheduler:     sched,
		})
		if err != nil {
			t.Fatalf("n=%d: Run() error = %v", n, err)
		}
		if got := int(calls.Load()); got != n {
			t.Errorf("n=%d: fetch calls = %d, want %d", n, got, n)
		}
		if out.OK || out.Reason != TimeoutReason || !out.TimedOut {
			t.Errorf("n=%d: outcome = %+v, want timeout", n, out)
		}
		if len(terminals) != 1 {
			t.Errorf("n=%d: OnTerminal calls = %d, want 1", n, len(terminals))
		}
		if progress != 0 {
			t.Errorf("n=%d: OnProgress calls = %d, want 0", n, progress)
		}
		for _, w := range sched.Waits() {
			if w != 5*time.Second {
				t.Errorf("n=%d: wait = %v, want error interval 5s", n, w)
			}
		}
		if got := len(sched.Waits()); got != n-1 {
			t.Errorf("n=%d: waits = %d, want %d", n, got, n-1)
		}
	}
}

func TestRun_ProgressUntilCompleted(t *testing.T) {
	fetch, calls := scripted(
		fakeStatus{phase: PhasePending, done: 0},
		fakeStatus{phase: PhaseRunning, done: 1},
		fakeStatus{phase: PhaseCompleted, done: 3},
	)
	sched := &instantScheduler{}
	var seen []int
	var terminal *Outcome[fakeStatus]

	out, err := Run(context.Background(), "job-1", fetch, Options[fakeStatus]{
		Interval:    2 * time.Second,
		MaxAttempts: 10,
		OnProgress:  func(s fakeStatus) { seen = append(seen, s.done) },
		OnTerminal:  func(o Outcome[fakeStatus]) { terminal = &o },
		Scheduler:   sched,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.OK || out.Status.done != 3 || out.Attempts != 3 {
		t.Errorf("outcome = %+v, want OK after 3 attempts", out)
	}
	if calls.Load() != 3 {
		t.Errorf("fetch calls = %d, want 3", calls.Load())
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 3 {
		t.Errorf("progress = %v, want [0 1 3]", seen)
	}
	if terminal == nil || !terminal.OK {
		t.Errorf("OnTerminal = %+v, want OK", terminal)
	}
	waits := sched.Waits()
	if len(waits) != 2 || waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want two waits of 2s", waits)
	}
}

func TestRun_Failed(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"with reason", "GPU out of memory", "GPU out of memory"},
		{"without reason", "", "job failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch, calls := scripted(
				fakeStatus{phase: PhasePending},
				fakeStatus{phase: PhaseFailed, reason: tt.reason},
			)
			out, err := Run(context.Background(), "job-1", fetch, Options[fakeStatus]{
				MaxAttempts: 10,
				Scheduler:   &instantScheduler{},
			})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if out.OK || out.TimedOut || out.Reason != tt.want {
				t.Errorf("outcome = %+v, want failure %q", out, tt.want)
			}
			if calls.Load() != 2 {
				t.Errorf("fetch calls = %d, want 2", calls.Load())
			}
		})
	}
}

func TestRun_ErrorsShareAttemptBudget(t *testing.T) {
	fetch, calls := scripted(
		errors.New("502"),
		fakeStatus{phase: PhasePending},
		errors.New("502"),
		fakeStatus{phase: PhasePending},
	)
	sched := &instantScheduler{}
	var errs []int

	out, _ := Run(context.Background(), "job-1", fetch, Options[fakeStatus]{
		Interval:      time.Second,
		ErrorInterval: 4 * time.Second,
		MaxAttempts:   4,
		OnError:       func(attempt int, err error) { errs = append(errs, attempt) },
		Scheduler:     sched,
	})

	if !out.TimedOut {
		t.Fatalf("outcome = %+v, want timeout", out)
	}
	if calls.Load() != 4 {
		t.Errorf("fetch calls = %d, want 4", calls.Load())
	}
	if len(errs) != 2 || errs[0] != 1 || errs[1] != 3 {
		t.Errorf("error attempts = %v, want [1 3]", errs)
	}
	want := []time.Duration{4 * time.Second, time.Second, 4 * time.Second}
	waits := sched.Waits()
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("waits[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
	if out.Status.phase != PhasePending {
		t.Errorf("last status = %+v, want last pending", out.Status)
	}
}

func TestRun_ErrorIntervalDefaultsLongerThanInterval(t *testing.T) {
	opts := Options[fakeStatus]{Interval: time.Second, ErrorInterval: time.Millisecond}.withDefaults()
	if opts.ErrorInterval <= opts.Interval {
		t.Errorf("ErrorInterval = %v, want longer than %v", opts.ErrorInterval, opts.Interval)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetch, calls := scripted(fakeStatus{phase: PhaseCompleted})
	var terminals int

	_, err := Run(ctx, "job-1", fetch, Options[fakeStatus]{
		OnTerminal: func(Outcome[fakeStatus]) { terminals++ },
		Scheduler:  &instantScheduler{},
	})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Run() error = %v, want ErrCancelled", err)
	}
	if calls.Load() != 0 || terminals != 0 {
		t.Errorf("calls=%d terminals=%d, want 0/0", calls.Load(), terminals)
	}
}

func TestWatch_StopPreventsFurtherCallbacks(t *testing.T) {
	fetch, calls := scripted(fakeStatus{phase: PhasePending})
	var progress, terminals atomic.Int32
	first := make(chan struct{}, 1)

	h := Watch(context.Background(), "job-1", fetch, Options[fakeStatus]{
		MaxAttempts: 100,
		OnProgress: func(fakeStatus) {
			progress.Add(1)
			select {
			case first <- struct{}{}:
			default:
			}
		},
		OnTerminal: func(Outcome[fakeStatus]) { terminals.Add(1) },
		Scheduler:  neverScheduler{},
	})

	<-first
	h.Stop()

	p, c := progress.Load(), calls.Load()
	time.Sleep(20 * time.Millisecond)
	if progress.Load() != p || calls.Load() != c {
		t.Error("callbacks fired after Stop returned")
	}
	if terminals.Load() != 0 {
		t.Errorf("OnTerminal calls = %d, want 0 after Stop", terminals.Load())
	}
	if _, err := h.Result(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Result() error = %v, want ErrCancelled", err)
	}
}

func TestWatch_CancelDuringFetchSuppressesCallbacks(t *testing.T) {
	started := make(chan struct{})
	fetch := func(ctx context.Context, jobID string) (fakeStatus, error) {
		close(started)
		<-ctx.Done()
		return fakeStatus{phase: PhaseCompleted}, nil
	}
	var callbacks atomic.Int32

	h := Watch(context.Background(), "job-1", fetch, Options[fakeStatus]{
		OnProgress: func(fakeStatus) { callbacks.Add(1) },
		OnError:    func(int, error) { callbacks.Add(1) },
		OnTerminal: func(Outcome[fakeStatus]) { callbacks.Add(1) },
		Scheduler:  &instantScheduler{},
	})
	<-started
	h.Stop()

	if callbacks.Load() != 0 {
		t.Errorf("callbacks = %d, want 0", callbacks.Load())
	}
}

func TestWatch_Result(t *testing.T) {
	fetch, _ := scripted(fakeStatus{phase: PhaseCompleted, done: 2})
	h := Watch(context.Background(), "job-1", fetch, Options[fakeStatus]{Scheduler: &instantScheduler{}})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("watch did not finish")
	}
	out, err := h.Result()
	if err != nil || !out.OK || out.Status.done != 2 {
		t.Errorf("Result() = %+v, %v", out, err)
	}
}

func TestWatch_CancelFromCallback(t *testing.T) {
	fetch, calls := scripted(fakeStatus{phase: PhasePending})
	var h *Handle[fakeStatus]
	ready := make(chan struct{})

	h = Watch(context.Background(), "job-1", fetch, Options[fakeStatus]{
		MaxAttempts: 50,
		OnProgress: func(fakeStatus) {
			<-ready
			h.Cancel()
		},
		Scheduler: &instantScheduler{},
	})
	close(ready)

	if _, err := h.Result(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Result() error = %v, want ErrCancelled", err)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
}
