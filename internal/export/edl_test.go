package export

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reelsmith/reelsmith-agent/internal/project"
)

func TestGenerateEDL_BackToBack(t *testing.T) {
	events := []Event{
		{Name: "Intro", Source: "http://127.0.0.1/media/intro", Duration: 6},
		{Name: "Harbor at dawn", Source: "https://cdn.example.com/a.mp4", Duration: 5.5},
	}

	edl := GenerateEDL(events, "Voyage", 24)

	if !strings.Contains(edl, "TITLE: Voyage") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:06:00 00:00:00:00 00:00:06:00") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:00:00:00 00:00:05:12 00:00:06:00 00:00:11:12") {
		t.Fatalf("second event line mismatch or bad record offset: %q", edl)
	}
	if !strings.Contains(edl, "* SOURCE URL:  https://cdn.example.com/a.mp4") {
		t.Fatalf("missing source comment: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	edl := GenerateEDL([]Event{{Name: "x", Source: "x.mp4", Duration: 1}}, "Drop", 29.97)
	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		fps    int
		want   string
	}{
		{name: "zero", frames: 0, fps: 24, want: "00:00:00:00"},
		{name: "one second", frames: 24, fps: 24, want: "00:00:01:00"},
		{name: "half second", frames: 15, fps: 30, want: "00:00:00:15"},
		{name: "one minute", frames: 1440, fps: 24, want: "00:01:00:00"},
		{name: "one hour", frames: 86400, fps: 24, want: "01:00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := timecode(tc.frames, tc.fps); got != tc.want {
				t.Fatalf("timecode(%d, %d) = %q, want %q", tc.frames, tc.fps, got, tc.want)
			}
		})
	}
}

func TestEvents_SkipsIntroAndUnplayable(t *testing.T) {
	clips := []project.Clip{
		project.NewIntroClip("http://127.0.0.1/media/intro", 6),
		{ID: "b", Title: "", URL: "b.mp4", Duration: 5, Success: true},
		{ID: "c", Title: "No length", URL: "c.mp4", Success: true},
	}

	events, skipped := Events(clips, false)
	if len(events) != 1 || events[0].Name != "b" {
		t.Errorf("events = %+v, want only b named by id", events)
	}
	if len(skipped) != 1 || skipped[0] != "c" {
		t.Errorf("skipped = %v, want [c]", skipped)
	}

	events, _ = Events(clips, true)
	if len(events) != 2 || events[0].Name != "Intro" {
		t.Errorf("events with intro = %+v", events)
	}
}

func TestTimeline_WritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	clips := []project.Clip{
		project.NewIntroClip("intro.mp4", 6),
		{ID: "a", Title: "Opening", URL: "a.mp4", Duration: 5, Success: true},
	}

	resp, err := Timeline(dir, clips, Request{ProjectName: "My/Film"})
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if resp.EventCount != 1 || resp.Duration != 5 {
		t.Errorf("response = %+v, want 1 event of 5s", resp)
	}
	if filepath.Base(resp.OutputPath) != "My_Film.edl" {
		t.Errorf("OutputPath = %q, want My_Film.edl", resp.OutputPath)
	}
	data, err := os.ReadFile(resp.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "* FROM CLIP NAME:  Opening") {
		t.Errorf("edl = %q", data)
	}
}

func TestTimeline_Errors(t *testing.T) {
	dir := t.TempDir()
	clips := []project.Clip{{ID: "a", URL: "a.mp4", Duration: 5}}

	if _, err := Timeline(dir, clips, Request{Format: "xml"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Timeline(xml) error = %v, want ErrUnsupportedFormat", err)
	}
	intro := []project.Clip{project.NewIntroClip("intro.mp4", 6)}
	if _, err := Timeline(dir, intro, Request{}); !errors.Is(err, ErrNothingToExport) {
		t.Errorf("Timeline(intro only) error = %v, want ErrNothingToExport", err)
	}
	if _, err := Timeline("", clips, Request{}); err == nil {
		t.Error("Timeline() with no directory should fail")
	}
}
