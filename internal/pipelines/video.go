package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/generation"
	"github.com/reelsmith/reelsmith-agent/internal/logging"
	"github.com/reelsmith/reelsmith-agent/internal/media"
	"github.com/reelsmith/reelsmith-agent/internal/poller"
	"github.com/reelsmith/reelsmith-agent/internal/project"
)

// ErrNoEligibleScenes means no requested scene has what the backend needs.
var ErrNoEligibleScenes = generation.ErrNoEligibleScenes

// VideoRequest carries per-run overrides.
type VideoRequest struct {
	// Backend selects a registered backend. Empty means the default.
	Backend  string
	Settings *config.VideoProfile
}

// VideoOptions configures a Video coordinator.
type VideoOptions struct {
	Backends       map[string]generation.VideoBackend
	DefaultBackend string
	Profile        config.VideoProfile
	UnitCost       int
	Charger        Charger
	Prober         media.Prober
	// BaseURL resolves relative clip URLs before probing.
	BaseURL string
	Poll    PollSettings
}

// Video renders scene clips. At most one job runs at a time, either a full
// run or a scoped regeneration of failed clips; each charges only for the
// clips it produced, and only after the job completed.
type Video struct {
	deps   Deps
	opts   VideoOptions
	logger *slog.Logger
	errs   latestError

	// startMu makes checking the other tracker and beginning one atomic.
	startMu sync.Mutex
	full    *tracker
	regen   *tracker

	mu      sync.Mutex
	watches map[*tracker]*poller.Handle[generation.JobStatus]
}

func NewVideo(opts VideoOptions, deps Deps) *Video {
	deps = deps.withDefaults()
	c := &Video{
		deps:    deps,
		opts:    opts,
		logger:  logging.WithComponent(deps.Logger, "video_pipeline"),
		watches: make(map[*tracker]*poller.Handle[generation.JobStatus]),
	}
	pid := deps.Store.ProjectID()
	c.full = newTracker(pid, KindVideo, &c.errs, deps.notify)
	c.regen = newTracker(pid, KindVideo, &c.errs, deps.notify)
	return c
}

// Generate renders clips for every eligible scene, replacing the clip set
// when the job completes.
func (c *Video) Generate(ctx context.Context, req VideoRequest) (string, error) {
	return c.run(ctx, c.full, c.regen, req, nil)
}

// RegenerateFailed resubmits only the scenes whose clip failed, as captured
// now. Successful clips are neither re-requested nor re-charged. It returns
// ErrBusy while a full run is in flight.
func (c *Video) RegenerateFailed(ctx context.Context, req VideoRequest) (string, error) {
	if c.full.get().State.Active() {
		return "", ErrBusy
	}
	failed := c.deps.Store.FailedClipIndices()
	if len(failed) == 0 {
		return "", ErrNothingToRegenerate
	}
	return c.run(ctx, c.regen, c.full, req, failed)
}

// run starts a job on t unless t or other is active.
func (c *Video) run(ctx context.Context, t, other *tracker, req VideoRequest, scope []int) (string, error) {
	backend, err := c.backend(req.Backend)
	if err != nil {
		return "", err
	}
	scenes := c.deps.Store.Scenes()
	if len(scenes) == 0 {
		return "", ErrNoScenes
	}
	c.startMu.Lock()
	if other.get().State.Active() {
		c.startMu.Unlock()
		return "", ErrBusy
	}
	err = t.begin()
	c.startMu.Unlock()
	if err != nil {
		return "", err
	}

	settings := c.opts.Profile
	if req.Settings != nil {
		settings = *req.Settings
	}
	sub, err := backend.Submit(ctx, generation.VideoJob{
		Scenes:   scenes,
		Images:   c.deps.Store.Images(),
		Settings: settings,
		Indices:  scope,
	})
	if err != nil {
		t.fail(StateFailed, err.Error())
		c.logger.Warn("video submission failed", "backend", backend.Name(), "error", err)
		return "", err
	}

	scoped := scope != nil
	logger := logging.WithJobID(c.logger, sub.JobID)
	t.polling(sub.JobID, len(sub.Indices), scope)
	c.deps.Jobs.JobStarted(ctx, c.deps.Store.ProjectID(), sub.JobID, KindVideo, len(sub.Indices))
	logger.Info("watching video job", "backend", backend.Name(), "scenes", len(sub.Indices), "scoped", scoped)

	opts := poller.Options[generation.JobStatus]{
		Interval:      c.opts.Poll.Interval,
		ErrorInterval: c.opts.Poll.ErrorInterval,
		MaxAttempts:   c.opts.Poll.MaxAttempts,
		Scheduler:     c.deps.Scheduler,
		OnProgress: func(st generation.JobStatus) {
			t.progress(st.Completed, st.Total, st.CurrentTitle)
			c.deps.Jobs.JobProgress(context.Background(), sub.JobID, st.Completed, st.Total)
		},
		OnError: func(attempt int, err error) {
			logger.Warn("video status fetch failed", "attempt", attempt, "retryable", generation.IsRetryable(err), "error", err)
		},
		OnTerminal: func(out poller.Outcome[generation.JobStatus]) {
			c.onTerminal(t, sub, scoped, settings, out)
		},
	}

	h := poller.Watch(watchContext(ctx), sub.JobID, backend.Status, opts)
	c.mu.Lock()
	c.watches[t] = h
	c.mu.Unlock()
	return sub.JobID, nil
}

func (c *Video) backend(name string) (generation.VideoBackend, error) {
	if name == "" {
		name = c.opts.DefaultBackend
	}
	b, ok := c.opts.Backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

func (c *Video) onTerminal(t *tracker, sub generation.Submission, scoped bool, settings config.VideoProfile, out poller.Outcome[generation.JobStatus]) {
	ctx := context.Background()
	logger := logging.WithJobID(c.logger, sub.JobID)

	if !out.OK {
		msg := out.Reason
		state := StateFailed
		if out.TimedOut {
			msg = TimeoutMessage
			state = StateTimedOut
		}
		t.fail(state, msg)
		c.deps.Jobs.JobFinished(ctx, sub.JobID, project.JobStatusFailed, msg)
		logger.Warn("video job did not complete, nothing charged", "reason", out.Reason, "attempts", out.Attempts)
		return
	}

	clips := c.toClips(ctx, sub.Indices, out.Status.Results, settings)
	if scoped {
		c.deps.Store.MergeClips(clips...)
	} else {
		c.deps.Store.ReplaceClips(clips)
	}
	if out.Status.MusicURL != "" {
		c.deps.Store.SetMusicURL(out.Status.MusicURL)
	}
	c.deps.persist()

	succeeded := countSuccessful(clips)
	c.charge(ctx, sub.JobID, succeeded, logger)

	t.complete()
	c.deps.Jobs.JobFinished(ctx, sub.JobID, project.JobStatusCompleted, "")
	logger.Info("video job completed", "clips", len(clips), "succeeded", succeeded, "scoped", scoped)
}

// ChargeFor returns the credits owed for a completed job.
func ChargeFor(successfulClips, unitCost int) int {
	if successfulClips <= 0 || unitCost <= 0 {
		return 0
	}
	return successfulClips * unitCost
}

func (c *Video) charge(ctx context.Context, jobID string, succeeded int, logger *slog.Logger) {
	amount := ChargeFor(succeeded, c.opts.UnitCost)
	if amount == 0 || c.opts.Charger == nil {
		return
	}
	memo := fmt.Sprintf("%d clips x %d", succeeded, c.opts.UnitCost)
	if err := c.opts.Charger.Charge(ctx, c.deps.Store.ProjectID(), jobID, amount, memo); err != nil {
		logger.Error("failed to charge usage", "amount", amount, "error", err)
	}
}

// toClips maps results onto the submitted indices. Items echo the submitted
// scene index; submitted scenes without an item become failed clips.
func (c *Video) toClips(ctx context.Context, submitted []int, items []generation.ResultItem, settings config.VideoProfile) []project.Clip {
	want := make(map[int]bool, len(submitted))
	for _, i := range submitted {
		want[i] = true
	}

	byIndex := make(map[int]project.Clip)
	for _, it := range items {
		if !want[it.Index] {
			continue
		}
		cl := project.Clip{
			Index:        it.Index,
			Title:        it.Title,
			URL:          it.URL,
			Duration:     it.Duration,
			Success:      it.Success && it.URL != "",
			Error:        it.Error,
			NarrationURL: it.NarrationURL,
			MusicURL:     it.MusicURL,
		}
		if !cl.Success && cl.Error == "" {
			cl.Error = "clip was not rendered"
		}
		if cl.Success {
			cl.Error = ""
			if cl.Duration <= 0 {
				cl.Duration = c.probeDuration(ctx, cl.URL, settings.ClipSeconds)
			}
		}
		byIndex[it.Index] = cl
	}
	for _, i := range submitted {
		if _, ok := byIndex[i]; !ok {
			title := ""
			if sc, ok := c.deps.Store.Scene(i); ok {
				title = sc.Title
			}
			byIndex[i] = project.Clip{Index: i, Title: title, Error: "no result returned"}
		}
	}

	out := make([]project.Clip, 0, len(byIndex))
	for _, cl := range byIndex {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (c *Video) probeDuration(ctx context.Context, clipURL string, fallback float64) float64 {
	if c.opts.Prober == nil {
		return fallback
	}
	src, err := resolveURL(c.opts.BaseURL, clipURL)
	if err != nil {
		return fallback
	}
	res, err := c.opts.Prober.Probe(ctx, src)
	if err != nil {
		c.logger.Debug("clip duration probe failed", "url", logging.SanitizeURL(src), "error", err)
		return fallback
	}
	return res.Duration
}

func countSuccessful(clips []project.Clip) int {
	n := 0
	for _, cl := range clips {
		if cl.Success {
			n++
		}
	}
	return n
}

// Status returns the full run's status.
func (c *Video) Status() Status {
	return c.full.get()
}

// RegenerationStatus returns the scoped regeneration's status.
func (c *Video) RegenerationStatus() Status {
	return c.regen.get()
}

// Wait blocks until every current watch ends or ctx is done.
func (c *Video) Wait(ctx context.Context) error {
	c.mu.Lock()
	var handles []*poller.Handle[generation.JobStatus]
	for _, h := range c.watches {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop stops observing all video jobs.
func (c *Video) Stop() {
	c.mu.Lock()
	watches := c.watches
	c.watches = make(map[*tracker]*poller.Handle[generation.JobStatus])
	c.mu.Unlock()
	for t, h := range watches {
		h.Stop()
		if st := t.get(); st.State.Active() {
			t.fail(StateFailed, poller.ErrCancelled.Error())
			c.deps.Jobs.JobFinished(context.Background(), st.JobID, project.JobStatusFailed, poller.ErrCancelled.Error())
		}
	}
}
