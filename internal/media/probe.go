// Package media inspects generated clips and local assets.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

var ErrNoDuration = errors.New("media has no duration")

// Prober reads media metadata from a local path or URL.
type Prober interface {
	Probe(ctx context.Context, source string) (*ProbeResult, error)
}

type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	AudioCodec string
}

// FFProbe shells out to ffprobe through ffmpeg-go.
type FFProbe struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewFFProbe(timeout time.Duration, logger *slog.Logger) *FFProbe {
	return &FFProbe{timeout: timeout, logger: logger}
}

func (p *FFProbe) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	type probeOut struct {
		data string
		err  error
	}
	ch := make(chan probeOut, 1)
	go func() {
		data, err := ffmpeg.ProbeWithTimeout(source, p.timeout, ffmpeg.KwArgs{})
		ch <- probeOut{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("ffprobe %s: %w", source, out.err)
		}
		res, err := ParseProbeJSON([]byte(out.data))
		if err != nil {
			return nil, err
		}
		if p.logger != nil {
			p.logger.Debug("probed media", "source", source, "duration", res.Duration)
		}
		return res, nil
	}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// ParseProbeJSON decodes `ffprobe -of json -show_format -show_streams` output.
// The container duration wins; the video stream duration is the fallback.
func ParseProbeJSON(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec != "" {
				continue
			}
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseRate(s.AvgFrameRate)
			if res.Duration <= 0 {
				res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}
	if res.Duration <= 0 {
		return res, ErrNoDuration
	}
	return res, nil
}

// parseRate turns "30000/1001" into 29.97.
func parseRate(r string) float64 {
	var num, den float64
	if _, err := fmt.Sscanf(r, "%g/%g", &num, &den); err != nil || den == 0 {
		f, _ := strconv.ParseFloat(r, 64)
		return f
	}
	return num / den
}

// StaticProber answers every probe with a fixed duration. It stands in when
// ffprobe is not installed.
type StaticProber struct {
	Duration float64
	logger   *slog.Logger
}

func NewStaticProber(duration float64, logger *slog.Logger) *StaticProber {
	return &StaticProber{Duration: duration, logger: logger}
}

func (p *StaticProber) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	if p.logger != nil {
		p.logger.Debug("static probe", "source", source, "duration", p.Duration)
	}
	if p.Duration <= 0 {
		return nil, ErrNoDuration
	}
	return &ProbeResult{Duration: p.Duration}, nil
}
