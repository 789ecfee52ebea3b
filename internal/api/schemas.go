package api

import (
	"time"

	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/pipelines"
	"github.com/reelsmith/reelsmith-agent/internal/project"
	"github.com/reelsmith/reelsmith-agent/internal/timeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State           string              `json:"state"`
	OpenProjects    []string            `json:"open_projects"`
	PipelinesActive int                 `json:"pipelines_active"`
	JobsRunning     int                 `json:"jobs_running"`
	VideoBackend    string              `json:"video_backend"`
	Generation      *GenerationResponse `json:"generation,omitempty"`
}

type GenerationResponse struct {
	Healthy     bool     `json:"healthy"`
	Version     string   `json:"version,omitempty"`
	Backends    []string `json:"backends"`
	Images      bool     `json:"images"`
	Combine     bool     `json:"combine"`
	LastProbeAt string   `json:"last_probe_at,omitempty"`
}

type ScenesRequest struct {
	Scenes   []project.Scene `json:"scenes"`
	MusicURL string          `json:"music_url,omitempty"`
}

type PromptRequest struct {
	CustomPrompt string `json:"custom_prompt"`
}

type ProjectResponse struct {
	ID          string                   `json:"id"`
	Version     uint64                   `json:"version"`
	Scenes      []project.Scene          `json:"scenes"`
	Images      []project.GeneratedImage `json:"images"`
	Videos      []project.Clip           `json:"videos"`
	MusicURL    string                   `json:"music_url,omitempty"`
	CombinedURL string                   `json:"combined_url,omitempty"`
	Charged     int                      `json:"charged"`
}

// ImageSettings overrides fields of the image profile. Zero values keep the
// profile's value.
type ImageSettings struct {
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	CfgScale       float64 `json:"cfg_scale,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Sampler        string  `json:"sampler,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
}

func (s *ImageSettings) apply(base config.ImageProfile) *config.ImageProfile {
	if s == nil {
		return nil
	}
	if s.Width > 0 {
		base.Width = s.Width
	}
	if s.Height > 0 {
		base.Height = s.Height
	}
	if s.CfgScale > 0 {
		base.CfgScale = s.CfgScale
	}
	if s.Steps > 0 {
		base.Steps = s.Steps
	}
	if s.Sampler != "" {
		base.Sampler = s.Sampler
	}
	if s.NegativePrompt != "" {
		base.NegativePrompt = s.NegativePrompt
	}
	return &base
}

type ImageRequest struct {
	PhotoReferences []string       `json:"photo_references,omitempty"`
	CustomPrompt    string         `json:"custom_prompt,omitempty"`
	Settings        *ImageSettings `json:"settings,omitempty"`
}

type VideoSettings struct {
	ClipSeconds       float64 `json:"clip_seconds,omitempty"`
	FPS               int     `json:"fps,omitempty"`
	MotionStrength    float64 `json:"motion_strength,omitempty"`
	Style             string  `json:"style,omitempty"`
	Voice             string  `json:"voice,omitempty"`
	GenerateNarration *bool   `json:"generate_narration,omitempty"`
	GenerateMusic     *bool   `json:"generate_music,omitempty"`
}

func (s *VideoSettings) apply(base config.VideoProfile) *config.VideoProfile {
	if s == nil {
		return nil
	}
	if s.ClipSeconds > 0 {
		base.ClipSeconds = s.ClipSeconds
	}
	if s.FPS > 0 {
		base.FPS = s.FPS
	}
	if s.MotionStrength > 0 {
		base.MotionStrength = s.MotionStrength
	}
	if s.Style != "" {
		base.Style = s.Style
	}
	if s.Voice != "" {
		base.Voice = s.Voice
	}
	if s.GenerateNarration != nil {
		base.GenerateNarration = *s.GenerateNarration
	}
	if s.GenerateMusic != nil {
		base.GenerateMusic = *s.GenerateMusic
	}
	return &base
}

type VideoRequest struct {
	Backend  string         `json:"backend,omitempty"`
	Settings *VideoSettings `json:"settings,omitempty"`
}

type CombineRequest struct {
	PlaybackSpeed float64  `json:"playback_speed,omitempty"`
	MusicURL      string   `json:"music_url,omitempty"`
	MusicVolume   *float64 `json:"music_volume,omitempty"`
}

type CombineResponse struct {
	URL string `json:"url"`
}

type SubmitResponse struct {
	JobID string `json:"job_id"`
}

type PipelinesResponse struct {
	Pipelines map[string]pipelines.Status `json:"pipelines"`
}

type TimelineResponse struct {
	timeline.State
	Audio *project.AudioTrack `json:"audio,omitempty"`
}

type ReorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type SeekRequest struct {
	Time float64 `json:"time"`
}

// Player event types accepted by the timeline events route.
const (
	PlayerTimeUpdate = "timeupdate"
	PlayerDuration   = "durationchange"
	PlayerEnded      = "ended"
	PlayerPlay       = "play"
	PlayerPause      = "pause"
	PlayerRateChange = "ratechange"
)

// PlayerEvent is a media element event forwarded by the player page.
type PlayerEvent struct {
	Type  string  `json:"type"`
	Value float64 `json:"value,omitempty"`
}

type JobResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ChargesResponse struct {
	Total   int               `json:"total"`
	Charges []*project.Charge `json:"charges"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *project.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		ProjectID: j.ProjectID,
		Kind:      j.Kind,
		Status:    j.Status,
		Completed: j.Completed,
		Total:     j.Total,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func ProjectToResponse(ws *Workspace, charged int) ProjectResponse {
	snap := ws.Store.Snapshot()
	return ProjectResponse{
		ID:          ws.ID,
		Version:     ws.Store.Version(),
		Scenes:      nonNil(snap.Scenes),
		Images:      nonNil(snap.Images),
		Videos:      nonNil(snap.Videos),
		MusicURL:    snap.MusicURL,
		CombinedURL: snap.CombinedURL,
		Charged:     charged,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
