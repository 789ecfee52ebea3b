// Package pipelines coordinates the image, video and combine generation jobs
// of one project against its store.
package pipelines

import (
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// Active reports whether a run is in flight.
func (s State) Active() bool {
	return s == StateSubmitting || s == StatePolling
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

const (
	KindImage   = "image"
	KindVideo   = "video"
	KindCombine = "combine"

	// KindVideoRegenerate keys the scoped regeneration in status maps.
	KindVideoRegenerate = "video_regenerate"
)

var (
	ErrBusy                = errors.New("pipeline is already running")
	ErrNoScenes            = errors.New("project has no scenes")
	ErrNothingToRegenerate = errors.New("no failed clips to regenerate")
	ErrNothingToCombine    = errors.New("no successful clips to combine")
	ErrUnknownBackend      = errors.New("video backend is not configured")
)

// TimeoutMessage is surfaced when a watch exhausts its attempt budget.
const TimeoutMessage = "generation is taking longer than expected; the job may still finish, check back later"

// Status is a point-in-time view of one pipeline run.
type Status struct {
	Kind         string    `json:"kind"`
	State        State     `json:"state"`
	JobID        string    `json:"job_id,omitempty"`
	Completed    int       `json:"completed"`
	Total        int       `json:"total"`
	CurrentTitle string    `json:"current_title,omitempty"`
	Scoped       []int     `json:"scoped_indices,omitempty"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// latestError keeps the single most recent error message of a pipeline.
type latestError struct {
	mu  sync.Mutex
	msg string
}

func (e *latestError) set(msg string) {
	e.mu.Lock()
	e.msg = msg
	e.mu.Unlock()
}

func (e *latestError) get() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.msg
}

// tracker drives the idle → submitting → polling → terminal state machine of
// one run slot and publishes every transition.
type tracker struct {
	projectID string
	kind      string
	errs      *latestError
	notify    func(Event)

	mu     sync.Mutex
	status Status
}

func newTracker(projectID, kind string, errs *latestError, notify func(Event)) *tracker {
	return &tracker{
		projectID: projectID,
		kind:      kind,
		errs:      errs,
		notify:    notify,
		status:    Status{Kind: kind, State: StateIdle},
	}
}

// begin claims the slot. It fails with ErrBusy while a run is active.
func (t *tracker) begin() error {
	t.mu.Lock()
	if t.status.State.Active() {
		t.mu.Unlock()
		return ErrBusy
	}
	t.status = Status{Kind: t.kind, State: StateSubmitting, UpdatedAt: time.Now()}
	st := t.status
	t.mu.Unlock()

	t.errs.set("")
	t.publish(st)
	return nil
}

func (t *tracker) polling(jobID string, total int, scoped []int) {
	t.update(func(s *Status) {
		s.State = StatePolling
		s.JobID = jobID
		s.Total = total
		s.Scoped = scoped
	})
}

func (t *tracker) progress(completed, total int, title string) {
	t.update(func(s *Status) {
		s.Completed = completed
		if total > 0 {
			s.Total = total
		}
		s.CurrentTitle = title
	})
}

func (t *tracker) complete() {
	t.update(func(s *Status) {
		s.State = StateCompleted
		s.CurrentTitle = ""
		if s.Completed < s.Total {
			s.Completed = s.Total
		}
	})
}

// fail ends the run in state with msg as the pipeline's latest error.
func (t *tracker) fail(state State, msg string) {
	t.errs.set(msg)
	t.update(func(s *Status) {
		s.State = state
		s.CurrentTitle = ""
		s.Error = msg
	})
}

func (t *tracker) get() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.status
	st.Error = t.errs.get()
	return st
}

func (t *tracker) update(fn func(*Status)) {
	t.mu.Lock()
	fn(&t.status)
	t.status.UpdatedAt = time.Now()
	st := t.status
	t.mu.Unlock()
	t.publish(st)
}

func (t *tracker) publish(st Status) {
	if t.notify == nil {
		return
	}
	t.notify(Event{
		ProjectID: t.projectID,
		Pipeline:  t.kind,
		State:     st.State,
		JobID:     st.JobID,
		Completed: st.Completed,
		Total:     st.Total,
		Title:     st.CurrentTitle,
		Error:     st.Error,
		At:        st.UpdatedAt,
	})
}
