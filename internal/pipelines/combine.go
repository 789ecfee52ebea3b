package pipelines

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/generation"
	"github.com/reelsmith/reelsmith-agent/internal/logging"
	"github.com/reelsmith/reelsmith-agent/internal/project"
)

type CombineAPI interface {
	Combine(ctx context.Context, req generation.CombineRequest) (string, error)
}

// CombineRequest describes one export. Order is the timeline as played,
// including the locked intro, which is dropped: the service prepends it from
// its own asset.
type CombineRequest struct {
	Order         []project.Clip
	PlaybackSpeed float64
	MusicURL      string
	MusicVolume   *float64
}

// Combine joins the timeline into one export with a single request.
type Combine struct {
	deps    Deps
	api     CombineAPI
	music   config.MusicProfile
	baseURL string
	logger  *slog.Logger
	errs    latestError
	tracker *tracker
}

func NewCombine(api CombineAPI, music config.MusicProfile, baseURL string, deps Deps) *Combine {
	deps = deps.withDefaults()
	c := &Combine{
		deps:    deps,
		api:     api,
		music:   music,
		baseURL: baseURL,
		logger:  logging.WithComponent(deps.Logger, "combine_pipeline"),
	}
	c.tracker = newTracker(deps.Store.ProjectID(), KindCombine, &c.errs, deps.notify)
	return c
}

// Combine returns the combined asset reference.
func (c *Combine) Combine(ctx context.Context, req CombineRequest) (string, error) {
	videos, err := c.videos(req.Order)
	if err != nil {
		return "", err
	}
	if len(videos) == 0 {
		return "", ErrNothingToCombine
	}
	if err := c.tracker.begin(); err != nil {
		return "", err
	}

	speed := req.PlaybackSpeed
	if speed <= 0 {
		speed = c.music.PlaybackSpeed
	}
	volume := c.music.Volume
	if req.MusicVolume != nil {
		volume = *req.MusicVolume
	}
	music := req.MusicURL
	if music == "" {
		music = c.deps.Store.MusicURL()
	}
	if music != "" {
		if abs, err := resolveURL(c.baseURL, music); err == nil {
			music = abs
		}
	}

	jobID := uuid.NewString()
	pid := c.deps.Store.ProjectID()
	logger := logging.WithJobID(c.logger, jobID)
	c.tracker.polling(jobID, len(videos), nil)
	c.deps.Jobs.JobStarted(ctx, pid, jobID, KindCombine, len(videos))

	combined, err := c.api.Combine(ctx, generation.CombineRequest{
		Videos:        videos,
		ProjectID:     pid,
		PlaybackSpeed: speed,
		MusicURL:      music,
		MusicVolume:   volume,
	})
	if err != nil {
		c.tracker.fail(StateFailed, err.Error())
		c.deps.Jobs.JobFinished(context.Background(), jobID, project.JobStatusFailed, err.Error())
		logger.Warn("combine failed", "error", err)
		return "", err
	}

	c.deps.Store.SetCombinedURL(combined)
	c.deps.persist()
	c.tracker.complete()
	c.deps.Jobs.JobFinished(context.Background(), jobID, project.JobStatusCompleted, "")
	logger.Info("combine completed", "clips", len(videos), "speed", speed)
	return combined, nil
}

// videos drops the locked intro and unplayable clips and makes URLs absolute.
func (c *Combine) videos(order []project.Clip) ([]generation.CombineVideo, error) {
	var out []generation.CombineVideo
	for _, cl := range order {
		if cl.Locked || !cl.Success || cl.URL == "" {
			continue
		}
		abs, err := resolveURL(c.baseURL, cl.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid clip url %q: %w", cl.URL, err)
		}
		out = append(out, generation.CombineVideo{URL: abs, Title: cl.Title})
	}
	return out, nil
}

func (c *Combine) Status() Status {
	return c.tracker.get()
}
