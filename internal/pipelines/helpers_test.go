package pipelines

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/generation"
	"github.com/reelsmith/reelsmith-agent/internal/project"
	"github.com/reelsmith/reelsmith-agent/internal/store"
)

type instantScheduler struct{}

func (instantScheduler) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type charge struct {
	jobID  string
	amount int
}

type recordingCharger struct {
	mu      sync.Mutex
	charges []charge
}

func (r *recordingCharger) Charge(ctx context.Context, projectID, jobID string, amount int, memo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charges = append(r.charges, charge{jobID: jobID, amount: amount})
	return nil
}

func (r *recordingCharger) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.charges {
		n += c.amount
	}
	return n
}

func (r *recordingCharger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.charges)
}

type recordingSnapshots struct {
	mu    sync.Mutex
	snaps []project.Snapshot
}

func (r *recordingSnapshots) WriteSnapshot(snap project.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
}

func (r *recordingSnapshots) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

type recordingJobs struct {
	mu       sync.Mutex
	started  []string
	finished map[string]string
}

func (r *recordingJobs) JobStarted(ctx context.Context, projectID, jobID, kind string, total int) {
	r.mu.Lock()
	r.started = append(r.started, jobID)
	r.mu.Unlock()
}

func (r *recordingJobs) JobProgress(ctx context.Context, jobID string, completed, total int) {}

func (r *recordingJobs) JobFinished(ctx context.Context, jobID, status, errMsg string) {
	r.mu.Lock()
	if r.finished == nil {
		r.finished = make(map[string]string)
	}
	r.finished[jobID] = status
	r.mu.Unlock()
}

func (r *recordingJobs) status(jobID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished[jobID]
}

func newTestStore(n int) *store.Store {
	s := store.New("proj-1")
	var scenes []project.Scene
	for i := 0; i < n; i++ {
		scenes = append(scenes, project.Scene{Title: "Scene", Description: "a beat"})
	}
	s.SetScenes(scenes)
	return s
}

func testDeps(s *store.Store) (Deps, *recordingSnapshots, *recordingJobs) {
	snaps := &recordingSnapshots{}
	jobs := &recordingJobs{}
	return Deps{
		Store:     s,
		Snapshots: snaps,
		Jobs:      jobs,
		Scheduler: instantScheduler{},
	}, snaps, jobs
}

func defaultImageProfile() config.ImageProfile {
	return config.DefaultProfile().Image
}

func fastPoll(max int) PollSettings {
	return PollSettings{Interval: time.Millisecond, ErrorInterval: 2 * time.Millisecond, MaxAttempts: max}
}

type waiter interface {
	Wait(ctx context.Context) error
}

func waitDone(t *testing.T, w waiter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// statusScript returns each status in turn, repeating the last one.
type statusScript struct {
	mu     sync.Mutex
	steps  []any
	calls  int
	before func(call int)
}

func (s *statusScript) next(ctx context.Context, jobID string) (generation.JobStatus, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	before := s.before
	s.mu.Unlock()
	if before != nil {
		before(i)
	}
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	switch v := s.steps[i].(type) {
	case error:
		return generation.JobStatus{}, v
	case generation.JobStatus:
		return v, nil
	}
	panic("bad step")
}
