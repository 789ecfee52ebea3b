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
	"github.com/reelsmith/reelsmith-agent/internal/poller"
	"github.com/reelsmith/reelsmith-agent/internal/project"
	"github.com/reelsmith/reelsmith-agent/internal/store"
)

type ImageAPI interface {
	SubmitImages(ctx context.Context, req generation.ImageJobRequest) (string, error)
	ImageStatus(ctx context.Context, jobID string) (generation.JobStatus, error)
}

// ImageRequest carries per-run overrides of the image profile.
type ImageRequest struct {
	PhotoReferences []string
	Settings        *config.ImageProfile
	CustomPrompt    string
}

// Image generates scene frames. It is free: nothing is charged.
type Image struct {
	deps    Deps
	api     ImageAPI
	profile config.ImageProfile
	poll    PollSettings
	logger  *slog.Logger
	errs    latestError
	tracker *tracker

	mu    sync.Mutex
	watch *poller.Handle[generation.JobStatus]
}

func NewImage(api ImageAPI, profile config.ImageProfile, poll PollSettings, deps Deps) *Image {
	deps = deps.withDefaults()
	c := &Image{
		deps:    deps,
		api:     api,
		profile: profile,
		poll:    poll,
		logger:  logging.WithComponent(deps.Logger, "image_pipeline"),
	}
	c.tracker = newTracker(deps.Store.ProjectID(), KindImage, &c.errs, deps.notify)
	return c
}

// Generate submits every scene and watches the job. It returns the remote
// job id once the watch has started.
func (c *Image) Generate(ctx context.Context, req ImageRequest) (string, error) {
	scenes := c.deps.Store.Scenes()
	if len(scenes) == 0 {
		return "", ErrNoScenes
	}
	return c.run(ctx, scenes, req, -1)
}

// RegenerateScene re-renders one scene, replacing only its entry.
func (c *Image) RegenerateScene(ctx context.Context, index int, req ImageRequest) (string, error) {
	sc, ok := c.deps.Store.Scene(index)
	if !ok {
		return "", fmt.Errorf("%w: %d", store.ErrSceneOutOfRange, index)
	}
	return c.run(ctx, []project.Scene{sc}, req, index)
}

// run submits scenes. target is the single regenerated scene index, or -1.
func (c *Image) run(ctx context.Context, scenes []project.Scene, req ImageRequest, target int) (string, error) {
	if err := c.tracker.begin(); err != nil {
		return "", err
	}

	jobID, err := c.api.SubmitImages(ctx, c.buildRequest(scenes, req))
	if err != nil {
		c.tracker.fail(StateFailed, err.Error())
		c.logger.Warn("image submission failed", "error", err)
		return "", err
	}

	logger := logging.WithJobID(c.logger, jobID)
	c.tracker.polling(jobID, len(scenes), scopeOf(target))
	c.deps.Jobs.JobStarted(ctx, c.deps.Store.ProjectID(), jobID, KindImage, len(scenes))
	logger.Info("watching image job", "scenes", len(scenes))

	run := newImageRun(target)
	opts := poller.Options[generation.JobStatus]{
		Interval:      c.poll.Interval,
		ErrorInterval: c.poll.ErrorInterval,
		MaxAttempts:   c.poll.MaxAttempts,
		Scheduler:     c.deps.Scheduler,
		OnProgress: func(st generation.JobStatus) {
			c.onProgress(jobID, st, run)
		},
		OnError: func(attempt int, err error) {
			logger.Warn("image status fetch failed", "attempt", attempt, "retryable", generation.IsRetryable(err), "error", err)
		},
		OnTerminal: func(out poller.Outcome[generation.JobStatus]) {
			c.onTerminal(jobID, out, run)
		},
	}

	c.mu.Lock()
	c.watch = poller.Watch(watchContext(ctx), jobID, c.api.ImageStatus, opts)
	c.mu.Unlock()
	return jobID, nil
}

func (c *Image) buildRequest(scenes []project.Scene, req ImageRequest) generation.ImageJobRequest {
	p := c.profile
	if req.Settings != nil {
		p = *req.Settings
	}
	out := generation.ImageJobRequest{
		PhotoReferences: req.PhotoReferences,
		Settings: generation.ImageSettings{
			Width:          p.Width,
			Height:         p.Height,
			CfgScale:       p.CfgScale,
			Steps:          p.Steps,
			Sampler:        p.Sampler,
			NegativePrompt: p.NegativePrompt,
			CustomPrompt:   req.CustomPrompt,
		},
	}
	for _, sc := range scenes {
		out.Scenes = append(out.Scenes, generation.SceneInput{
			Index:        sc.Index,
			Title:        sc.Title,
			Description:  sc.Description,
			Location:     sc.Location,
			Mood:         sc.Mood,
			Narration:    sc.Narration,
			CustomPrompt: sc.CustomPrompt,
		})
	}
	return out
}

// imageRun is the state of one watched job. Poller callbacks for a job run
// one at a time, so it needs no lock.
type imageRun struct {
	target int
	// seen holds the images a full run reported so far, by index.
	seen map[int]project.GeneratedImage
}

func newImageRun(target int) *imageRun {
	return &imageRun{target: target, seen: make(map[int]project.GeneratedImage)}
}

func (r *imageRun) add(images []project.GeneratedImage) []project.GeneratedImage {
	for _, img := range images {
		r.seen[img.Index] = img
	}
	out := make([]project.GeneratedImage, 0, len(r.seen))
	for _, img := range r.seen {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// onProgress merges reported items. A full run's items form a new image set,
// so entries of an earlier run do not mix with this one's.
func (c *Image) onProgress(jobID string, st generation.JobStatus, run *imageRun) {
	if images := c.toImages(st.Results, run.target); len(images) > 0 {
		if run.target < 0 {
			c.deps.Store.ReplaceImages(run.add(images))
		} else {
			c.deps.Store.MergeImages(images...)
		}
		c.deps.persist()
	}
	c.tracker.progress(st.Completed, st.Total, st.CurrentTitle)
	c.deps.Jobs.JobProgress(context.Background(), jobID, st.Completed, st.Total)
}

func (c *Image) onTerminal(jobID string, out poller.Outcome[generation.JobStatus], run *imageRun) {
	ctx := context.Background()
	logger := logging.WithJobID(c.logger, jobID)

	if !out.OK {
		msg := out.Reason
		state := StateFailed
		if out.TimedOut {
			msg = TimeoutMessage
			state = StateTimedOut
		}
		c.tracker.fail(state, msg)
		c.deps.Jobs.JobFinished(ctx, jobID, project.JobStatusFailed, msg)
		logger.Warn("image job did not complete", "reason", out.Reason, "attempts", out.Attempts)
		return
	}

	images := c.toImages(out.Status.Results, run.target)
	switch {
	case len(images) == 0:
		logger.Warn("image job completed without results, keeping merged images")
	case run.target < 0:
		c.deps.Store.ReplaceImages(images)
		c.deps.persist()
	default:
		c.deps.Store.MergeImages(images...)
		c.deps.persist()
	}
	c.tracker.complete()
	c.deps.Jobs.JobFinished(ctx, jobID, project.JobStatusCompleted, "")
	logger.Info("image job completed", "images", len(images))
}

// toImages converts result items. Items number scenes from 1. When target is
// a scene index the job covered only that scene and its result maps there.
func (c *Image) toImages(items []generation.ResultItem, target int) []project.GeneratedImage {
	var out []project.GeneratedImage
	for _, it := range items {
		idx := it.Index - 1
		if target >= 0 {
			idx = target
		}
		if idx < 0 {
			continue
		}
		img := project.GeneratedImage{
			Index:       idx,
			Title:       it.Title,
			Description: it.Description,
			ImageRef:    it.ImageURL,
		}
		if img.ImageRef == "" && it.Success {
			img.ImageRef = it.URL
		}
		for _, f := range it.Frames {
			img.Frames = append(img.Frames, project.Frame{Success: f.Success, ImageRef: f.ImageURL, Error: f.Error})
		}
		if len(img.Frames) == 0 && !it.Success && it.Error != "" {
			img.Frames = []project.Frame{{Error: it.Error}}
		}
		out = append(out, img)
	}
	if target >= 0 && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return out
}

func (c *Image) Status() Status {
	return c.tracker.get()
}

// Wait blocks until the current watch ends or ctx is done.
func (c *Image) Wait(ctx context.Context) error {
	c.mu.Lock()
	w := c.watch
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	select {
	case <-w.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops observing the current job. The remote job is left alone.
func (c *Image) Stop() {
	c.mu.Lock()
	w := c.watch
	c.mu.Unlock()
	if w == nil {
		return
	}
	w.Stop()
	if st := c.tracker.get(); st.State.Active() {
		c.tracker.fail(StateFailed, poller.ErrCancelled.Error())
		c.deps.Jobs.JobFinished(context.Background(), st.JobID, project.JobStatusFailed, poller.ErrCancelled.Error())
	}
}

func scopeOf(target int) []int {
	if target < 0 {
		return nil
	}
	return []int{target}
}
