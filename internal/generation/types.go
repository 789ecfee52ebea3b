// Package generation talks to the remote generation service that renders
// scene images, scene videos and the combined export.
package generation

import (
	"strings"

	"github.com/reelsmith/reelsmith-agent/internal/poller"
)

type ImageSettings struct {
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	CfgScale       float64 `json:"cfgScale"`
	Steps          int     `json:"steps"`
	Sampler        string  `json:"sampler"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	CustomPrompt   string  `json:"customPrompt,omitempty"`
}

type SceneInput struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Location     string `json:"location,omitempty"`
	Mood         string `json:"mood,omitempty"`
	Narration    string `json:"narration,omitempty"`
	CustomPrompt string `json:"customPrompt,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
}

type ImageJobRequest struct {
	Scenes          []SceneInput  `json:"scenes"`
	PhotoReferences []string      `json:"photoReferences,omitempty"`
	Settings        ImageSettings `json:"settings"`
}

type InterpolationScene struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	Prompt     string `json:"prompt,omitempty"`
	FirstFrame string `json:"firstFrame"`
	LastFrame  string `json:"lastFrame"`
}

type InterpolationSettings struct {
	ClipSeconds    float64 `json:"clipSeconds"`
	FPS            int     `json:"fps"`
	MotionStrength float64 `json:"motionStrength"`
}

type InterpolationRequest struct {
	Scenes   []InterpolationScene  `json:"scenes"`
	Settings InterpolationSettings `json:"settings"`
}

type SceneVideoSettings struct {
	ClipSeconds       float64 `json:"clipSeconds"`
	Style             string  `json:"style,omitempty"`
	Voice             string  `json:"voice,omitempty"`
	GenerateNarration bool    `json:"generateNarration"`
	GenerateMusic     bool    `json:"generateMusic"`
}

type SceneVideoRequest struct {
	Scenes   []SceneInput       `json:"scenes"`
	Settings SceneVideoSettings `json:"settings"`
}

type SubmitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type FrameResult struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ResultItem is one per-scene entry of a job status. Image jobs number items
// from 1; video jobs echo the index that was submitted.
type ResultItem struct {
	Index        int           `json:"index"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	ImageURL     string        `json:"imageUrl,omitempty"`
	URL          string        `json:"url,omitempty"`
	Duration     float64       `json:"duration,omitempty"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Frames       []FrameResult `json:"frames,omitempty"`
	NarrationURL string        `json:"narrationUrl,omitempty"`
	MusicURL     string        `json:"musicUrl,omitempty"`
}

// JobStatus is the polled status of a remote job.
type JobStatus struct {
	Status       string       `json:"status"`
	Completed    int          `json:"completed"`
	Total        int          `json:"total"`
	CurrentTitle string       `json:"currentTitle,omitempty"`
	Results      []ResultItem `json:"results,omitempty"`
	MusicURL     string       `json:"musicUrl,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Phase maps the service's status vocabulary onto poller phases. Unknown
// values are treated as still pending.
func (s JobStatus) Phase() poller.Phase {
	switch strings.ToLower(s.Status) {
	case "completed", "complete", "succeeded", "success":
		return poller.PhaseCompleted
	case "failed", "error", "cancelled":
		return poller.PhaseFailed
	case "running", "processing", "in_progress":
		return poller.PhaseRunning
	default:
		return poller.PhasePending
	}
}

func (s JobStatus) FailureReason() string {
	return s.Error
}

type CombineVideo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type CombineRequest struct {
	Videos        []CombineVideo `json:"videos"`
	ProjectID     string         `json:"projectId"`
	PlaybackSpeed float64        `json:"playbackSpeed"`
	MusicURL      string         `json:"musicUrl,omitempty"`
	MusicVolume   float64        `json:"musicVolume"`
}

type CombineResponse struct {
	Success          bool   `json:"success"`
	CombinedVideoURL string `json:"combinedVideoUrl,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Health is the generation service's self-report.
type Health struct {
	Status   string   `json:"status"`
	Version  string   `json:"version,omitempty"`
	Backends []string `json:"backends,omitempty"`
	Images   bool     `json:"images"`
	Combine  bool     `json:"combine"`
}
