package export

// Request asks for an EDL of a project's current timeline order.
type Request struct {
	Format      string  `json:"format"`
	ProjectName string  `json:"project_name,omitempty"`
	FrameRate   float64 `json:"frame_rate,omitempty"`
	// IncludeIntro keeps the locked intro as the first event.
	IncludeIntro bool `json:"include_intro"`
}

type Response struct {
	Status     string   `json:"status"`
	Format     string   `json:"format"`
	OutputPath string   `json:"output_path"`
	EventCount int      `json:"event_count"`
	Duration   float64  `json:"duration_s"`
	Skipped    []string `json:"skipped_clip_ids,omitempty"`
}

// Event is one timeline entry placed on the EDL record track.
type Event struct {
	Name     string
	Source   string
	Duration float64
}
