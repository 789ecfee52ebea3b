package pipelines

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith-agent/internal/logging"
	"github.com/reelsmith/reelsmith-agent/internal/poller"
	"github.com/reelsmith/reelsmith-agent/internal/project"
	"github.com/reelsmith/reelsmith-agent/internal/store"
)

// Charger deducts usage credits.
type Charger interface {
	Charge(ctx context.Context, projectID, jobID string, amount int, memo string) error
}

// SnapshotWriter persists project snapshots. WriteSnapshot must not block on
// storage.
type SnapshotWriter interface {
	WriteSnapshot(snap project.Snapshot)
}

// JobRecorder keeps the job history. Implementations log their own failures.
type JobRecorder interface {
	JobStarted(ctx context.Context, projectID, jobID, kind string, total int)
	JobProgress(ctx context.Context, jobID string, completed, total int)
	JobFinished(ctx context.Context, jobID, status, errMsg string)
}

// Event is published on every pipeline state change.
type Event struct {
	ProjectID string    `json:"project_id"`
	Pipeline  string    `json:"pipeline"`
	State     State     `json:"state"`
	JobID     string    `json:"job_id,omitempty"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Title     string    `json:"title,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type Notifier interface {
	Notify(ev Event)
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ev)
		}
	}
}

// PollSettings configures the watch of one pipeline kind.
type PollSettings struct {
	Interval      time.Duration
	ErrorInterval time.Duration
	MaxAttempts   int
}

// Deps are the collaborators shared by every coordinator of a project.
type Deps struct {
	Store     *store.Store
	Snapshots SnapshotWriter
	Jobs      JobRecorder
	Notifier  Notifier
	Logger    *slog.Logger
	// Scheduler drives poll waits. Nil means the wall clock.
	Scheduler poller.Scheduler
}

func (d Deps) withDefaults() Deps {
	if d.Snapshots == nil {
		d.Snapshots = noopSnapshots{}
	}
	if d.Jobs == nil {
		d.Jobs = noopJobs{}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Scheduler == nil {
		d.Scheduler = poller.RealScheduler()
	}
	return d
}

func (d Deps) notify(ev Event) {
	if d.Notifier != nil {
		d.Notifier.Notify(ev)
	}
}

func (d Deps) persist() {
	d.Snapshots.WriteSnapshot(d.Store.Snapshot())
}

type noopSnapshots struct{}

func (noopSnapshots) WriteSnapshot(project.Snapshot) {}

type noopJobs struct{}

func (noopJobs) JobStarted(context.Context, string, string, string, int) {}
func (noopJobs) JobProgress(context.Context, string, int, int)           {}
func (noopJobs) JobFinished(context.Context, string, string, string)     {}

// watchContext detaches the watch from the request that started it.
func watchContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// resolveURL makes ref absolute against base. Absolute refs and an empty base
// pass through unchanged.
func resolveURL(base, ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if r.IsAbs() || base == "" {
		return r.String(), nil
	}
	b, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
