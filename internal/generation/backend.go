package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/project"
)

// ErrNoEligibleScenes means no requested scene can be rendered by the backend.
var ErrNoEligibleScenes = errors.New("no scenes eligible for video generation")

// VideoJob is everything a backend may need to build its request.
type VideoJob struct {
	Scenes   []project.Scene
	Images   []project.GeneratedImage
	Settings config.VideoProfile
	// Indices restricts the job to these scene indices. Nil means all scenes.
	Indices []int
}

// Submission identifies a submitted video job and the scene indices it covers.
type Submission struct {
	JobID   string
	Indices []int
}

// VideoBackend is one interchangeable video rendering engine.
type VideoBackend interface {
	Name() string
	Submit(ctx context.Context, job VideoJob) (Submission, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

type videoAPI interface {
	SubmitInterpolation(ctx context.Context, req InterpolationRequest) (string, error)
	InterpolationStatus(ctx context.Context, jobID string) (JobStatus, error)
	SubmitSceneVideos(ctx context.Context, req SceneVideoRequest) (string, error)
	SceneVideoStatus(ctx context.Context, jobID string) (JobStatus, error)
}

// NewBackend returns the backend registered under name.
func NewBackend(name string, api videoAPI) (VideoBackend, error) {
	switch name {
	case config.BackendInterpolation:
		return &InterpolationBackend{api: api}, nil
	case config.BackendScene:
		return &SceneBackend{api: api}, nil
	default:
		return nil, fmt.Errorf("unknown video backend %q", name)
	}
}

// InterpolationBackend animates between the first and last successful frame
// of each scene. Scenes with fewer than two successful frames are skipped.
type InterpolationBackend struct {
	api videoAPI
}

func (b *InterpolationBackend) Name() string { return config.BackendInterpolation }

func (b *InterpolationBackend) Submit(ctx context.Context, job VideoJob) (Submission, error) {
	images := indexImages(job.Images)
	var req InterpolationRequest
	var indices []int
	for _, sc := range selectScenes(job.Scenes, job.Indices) {
		img, ok := images[sc.Index]
		if !ok {
			continue
		}
		first, last, ok := img.Endpoints()
		if !ok {
			continue
		}
		req.Scenes = append(req.Scenes, InterpolationScene{
			Index:      sc.Index,
			Title:      sc.Title,
			Prompt:     scenePrompt(sc),
			FirstFrame: first.ImageRef,
			LastFrame:  last.ImageRef,
		})
		indices = append(indices, sc.Index)
	}
	if len(req.Scenes) == 0 {
		return Submission{}, ErrNoEligibleScenes
	}
	req.Settings = InterpolationSettings{
		ClipSeconds:    job.Settings.ClipSeconds,
		FPS:            job.Settings.FPS,
		MotionStrength: job.Settings.MotionStrength,
	}

	id, err := b.api.SubmitInterpolation(ctx, req)
	if err != nil {
		return Submission{}, err
	}
	return Submission{JobID: id, Indices: indices}, nil
}

func (b *InterpolationBackend) Status(ctx context.Context, jobID string) (JobStatus, error) {
	return b.api.InterpolationStatus(ctx, jobID)
}

// SceneBackend sends the full scene payload with global settings. It may
// return narration and music already attached to each clip.
type SceneBackend struct {
	api videoAPI
}

func (b *SceneBackend) Name() string { return config.BackendScene }

func (b *SceneBackend) Submit(ctx context.Context, job VideoJob) (Submission, error) {
	images := indexImages(job.Images)
	var req SceneVideoRequest
	var indices []int
	for _, sc := range selectScenes(job.Scenes, job.Indices) {
		in := SceneInput{
			Index:        sc.Index,
			Title:        sc.Title,
			Description:  sc.Description,
			Location:     sc.Location,
			Mood:         sc.Mood,
			Narration:    sc.Narration,
			CustomPrompt: sc.CustomPrompt,
		}
		if img, ok := images[sc.Index]; ok {
			in.ImageURL = img.ImageRef
			if in.ImageURL == "" {
				if frames := img.SuccessfulFrames(); len(frames) > 0 {
					in.ImageURL = frames[0].ImageRef
				}
			}
		}
		req.Scenes = append(req.Scenes, in)
		indices = append(indices, sc.Index)
	}
	if len(req.Scenes) == 0 {
		return Submission{}, ErrNoEligibleScenes
	}
	req.Settings = SceneVideoSettings{
		ClipSeconds:       job.Settings.ClipSeconds,
		Style:             job.Settings.Style,
		Voice:             job.Settings.Voice,
		GenerateNarration: job.Settings.GenerateNarration,
		GenerateMusic:     job.Settings.GenerateMusic,
	}

	id, err := b.api.SubmitSceneVideos(ctx, req)
	if err != nil {
		return Submission{}, err
	}
	return Submission{JobID: id, Indices: indices}, nil
}

func (b *SceneBackend) Status(ctx context.Context, jobID string) (JobStatus, error) {
	return b.api.SceneVideoStatus(ctx, jobID)
}

func indexImages(images []project.GeneratedImage) map[int]project.GeneratedImage {
	m := make(map[int]project.GeneratedImage, len(images))
	for _, img := range images {
		m[img.Index] = img
	}
	return m
}

func selectScenes(scenes []project.Scene, indices []int) []project.Scene {
	if indices == nil {
		return scenes
	}
	want := make(map[int]bool, len(indices))
	for _, i := range indices {
		want[i] = true
	}
	var out []project.Scene
	for _, sc := range scenes {
		if want[sc.Index] {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func scenePrompt(sc project.Scene) string {
	if sc.CustomPrompt != "" {
		return sc.CustomPrompt
	}
	return sc.Description
}
