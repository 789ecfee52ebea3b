package project

import (
	"time"

	"github.com/google/uuid"
)

// MaxFramesPerScene bounds the frames generated for one scene.
const MaxFramesPerScene = 3

// IntroClipID identifies the locked intro clip on every timeline.
const IntroClipID = "intro"

type Scene struct {
	ID           string `json:"id"`
	Index        int    `json:"index"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Location     string `json:"location,omitempty"`
	Mood         string `json:"mood,omitempty"`
	Narration    string `json:"narration,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

type Frame struct {
	Success  bool   `json:"success"`
	ImageRef string `json:"image_ref,omitempty"`
	Error    string `json:"error,omitempty"`
}

type GeneratedImage struct {
	SceneID     string  `json:"scene_id,omitempty"`
	Index       int     `json:"index"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	ImageRef    string  `json:"image_ref,omitempty"`
	Frames      []Frame `json:"frames,omitempty"`
}

// SuccessfulFrames returns the frames that rendered, in order.
func (g GeneratedImage) SuccessfulFrames() []Frame {
	var out []Frame
	for _, f := range g.Frames {
		if f.Success && f.ImageRef != "" {
			out = append(out, f)
		}
	}
	return out
}

// VideoEligible reports whether the scene has the two endpoint frames the
// interpolation backend needs.
func (g GeneratedImage) VideoEligible() bool {
	return len(g.SuccessfulFrames()) >= 2
}

// Endpoints returns the first and last successful frames.
func (g GeneratedImage) Endpoints() (first, last Frame, ok bool) {
	frames := g.SuccessfulFrames()
	if len(frames) < 2 {
		return Frame{}, Frame{}, false
	}
	return frames[0], frames[len(frames)-1], true
}

type Clip struct {
	ID           string  `json:"id"`
	SceneID      string  `json:"scene_id,omitempty"`
	Index        int     `json:"index"`
	Title        string  `json:"title"`
	URL          string  `json:"url,omitempty"`
	Duration     float64 `json:"duration"`
	Success      bool    `json:"success"`
	Error        string  `json:"error,omitempty"`
	Locked       bool    `json:"locked,omitempty"`
	NarrationURL string  `json:"narration_url,omitempty"`
	MusicURL     string  `json:"music_url,omitempty"`
}

// NewIntroClip builds the locked clip that always opens the timeline.
func NewIntroClip(url string, duration float64) Clip {
	return Clip{
		ID:       IntroClipID,
		Index:    -1,
		Title:    "Intro",
		URL:      url,
		Duration: duration,
		Success:  true,
		Locked:   true,
	}
}

type AudioTrack struct {
	URL           string  `json:"url"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

const (
	JobKindImage   = "image"
	JobKindVideo   = "video"
	JobKindCombine = "combine"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is the persisted history row for one pipeline invocation.
type Job struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the project record written after each successful merge.
type Snapshot struct {
	ProjectID   string           `json:"project_id"`
	Scenes      []Scene          `json:"scenes,omitempty"`
	Images      []GeneratedImage `json:"images,omitempty"`
	Videos      []Clip           `json:"videos,omitempty"`
	MusicURL    string           `json:"music_url,omitempty"`
	CombinedURL string           `json:"combined_url,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type Charge struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	JobID     string    `json:"job_id,omitempty"`
	Amount    int       `json:"amount"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewID() string {
	return uuid.NewString()
}
