package export

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/reelsmith/reelsmith-agent/internal/project"
)

const DefaultFrameRate = 24.0

var (
	ErrUnsupportedFormat = errors.New("format must be edl")
	ErrNothingToExport   = errors.New("timeline has no exportable clips")
)

// Timeline writes the clips, in the given order, as an EDL under dir.
func Timeline(dir string, clips []project.Clip, req Request) (*Response, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "edl"
	}
	if format != "edl" {
		return nil, ErrUnsupportedFormat
	}

	events, skipped := Events(clips, req.IncludeIntro)
	if len(events) == 0 {
		return nil, ErrNothingToExport
	}

	name := SanitizeName(req.ProjectName, 120, "reelsmith_export")
	fps := req.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	path, err := Write(dir, name, GenerateEDL(events, name, fps))
	if err != nil {
		return nil, err
	}

	var total float64
	for _, ev := range events {
		total += ev.Duration
	}
	return &Response{
		Status:     "ok",
		Format:     format,
		OutputPath: path,
		EventCount: len(events),
		Duration:   total,
		Skipped:    skipped,
	}, nil
}

// Events turns timeline clips into EDL events. Clips without a URL or a
// positive duration cannot be placed and are returned by id.
func Events(clips []project.Clip, includeIntro bool) ([]Event, []string) {
	var events []Event
	var skipped []string
	for _, c := range clips {
		if c.Locked && !includeIntro {
			continue
		}
		if c.URL == "" || c.Duration <= 0 {
			skipped = append(skipped, c.ID)
			continue
		}
		name := SanitizeName(c.Title, 160, c.ID)
		events = append(events, Event{Name: name, Source: c.URL, Duration: c.Duration})
	}
	return events, skipped
}

// GenerateEDL renders a CMX3600 edit list. Every event plays its source from
// the start, back to back on the record track.
func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}
	drop := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if drop {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	record := 0
	for i, ev := range events {
		frames := secondsToFrames(ev.Duration, fps)
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n", i+1, "AX", "V",
			timecode(0, fps), timecode(frames, fps), timecode(record, fps), timecode(record+frames, fps))
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", ev.Name)
		fmt.Fprintf(&b, "* SOURCE URL:  %s\n", ev.Source)
		record += frames
	}
	return b.String()
}

func secondsToFrames(s float64, fps int) int {
	return int(math.Round(s * float64(fps)))
}

func timecode(frames, fps int) string {
	ff := frames % fps
	secs := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", secs/3600, secs/60%60, secs%60, ff)
}
