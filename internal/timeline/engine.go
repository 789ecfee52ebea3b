// Package timeline maps a global playback position onto the clips of a
// project, led by a locked intro, and keeps a music track in step with it.
package timeline

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/reelsmith/reelsmith-agent/internal/logging"
	"github.com/reelsmith/reelsmith-agent/internal/project"
)

// DriftThreshold is how far the audio surface may wander from its target
// before it is reseeked.
const DriftThreshold = 0.3

var (
	ErrLockedPosition = errors.New("the intro is locked at position 0")
	ErrOutOfRange     = errors.New("timeline index out of range")
)

// ClipSource provides the clips that can be played, in natural order.
type ClipSource interface {
	SuccessfulClips() []project.Clip
	MusicURL() string
}

// Surface is a media element the engine commands.
type Surface interface {
	Load(url string)
	Play()
	Pause()
	Seek(seconds float64)
	SetRate(rate float64)
	CurrentTime() float64
}

type VideoSurface interface {
	Surface
}

type AudioSurface interface {
	Surface
}

// State is a snapshot of the transport.
type State struct {
	Clips        []project.Clip `json:"clips"`
	CurrentIndex int            `json:"current_index"`
	CurrentID    string         `json:"current_id"`
	LocalTime    float64        `json:"local_time"`
	GlobalTime   float64        `json:"global_time"`
	Duration     float64        `json:"duration"`
	Playing      bool           `json:"playing"`
	Rate         float64        `json:"rate"`
	AudioURL     string         `json:"audio_url,omitempty"`
	AudioTime    float64        `json:"audio_time"`
	AudioGated   bool           `json:"audio_gated"`
}

// Engine owns the playback order and is the only component that commands the
// surfaces. Order is a permutation of clip ids; it is reconciled with the
// source on every query so clips that appear or vanish need no notification.
type Engine struct {
	source ClipSource
	intro  project.Clip
	video  VideoSurface
	audio  AudioSurface
	logger *slog.Logger

	mu          sync.Mutex
	order       []string
	durations   map[string]float64
	current     string
	local       float64
	playing     bool
	rate        float64
	audioURL    string
	audioActive bool
}

// New builds an engine. Nil surfaces are replaced with ones that ignore every
// command.
func New(source ClipSource, intro project.Clip, video VideoSurface, audio AudioSurface, logger *slog.Logger) *Engine {
	if video == nil {
		video = nopSurface{}
	}
	if audio == nil {
		audio = nopSurface{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	intro.Locked = true
	intro.Success = true
	if intro.ID == "" {
		intro.ID = project.IntroClipID
	}
	return &Engine{
		source:    source,
		intro:     intro,
		video:     video,
		audio:     audio,
		logger:    logging.WithComponent(logger, "timeline"),
		durations: make(map[string]float64),
		current:   intro.ID,
		rate:      1,
	}
}

// Clips returns the timeline: the intro followed by the clips in play order.
func (e *Engine) Clips() []project.Clip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipsLocked()
}

func (e *Engine) clipsLocked() []project.Clip {
	clips := e.source.SuccessfulClips()
	byID := make(map[string]project.Clip, len(clips))
	for _, c := range clips {
		if c.Locked || c.ID == "" {
			continue
		}
		byID[c.ID] = c
	}

	order := e.order[:0:0]
	seen := make(map[string]bool, len(byID))
	for _, id := range e.order {
		if _, ok := byID[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for _, c := range clips {
		if _, ok := byID[c.ID]; ok && !seen[c.ID] {
			order = append(order, c.ID)
			seen[c.ID] = true
		}
	}
	e.order = order

	out := make([]project.Clip, 0, len(order)+1)
	out = append(out, e.withDuration(e.intro))
	for _, id := range order {
		out = append(out, e.withDuration(byID[id]))
	}
	return out
}

// withDuration applies the duration reported by the surface, if any.
func (e *Engine) withDuration(c project.Clip) project.Clip {
	if d, ok := e.durations[c.ID]; ok && d > 0 {
		c.Duration = d
	}
	if c.Duration < 0 {
		c.Duration = 0
	}
	return c
}

// GlobalTime returns the global position of local time within clip i.
// Indices beyond the timeline clamp to its ends.
func (e *Engine) GlobalTime(i int, local float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return globalTime(e.clipsLocked(), i, local)
}

func globalTime(clips []project.Clip, i int, local float64) float64 {
	if i < 0 {
		i = 0
	}
	if i > len(clips) {
		i = len(clips)
	}
	var t float64
	for _, c := range clips[:i] {
		t += c.Duration
	}
	return t + math.Max(0, local)
}

// Locate returns the clip index and local time at global time t. Times past
// the end resolve to the end of the last clip.
func (e *Engine) Locate(t float64) (int, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return locate(e.clipsLocked(), t)
}

func locate(clips []project.Clip, t float64) (int, float64) {
	if len(clips) == 0 || t <= 0 {
		return 0, 0
	}
	var start float64
	for i, c := range clips {
		if t < start+c.Duration {
			return i, t - start
		}
		start += c.Duration
	}
	last := len(clips) - 1
	return last, clips[last].Duration
}

// Duration returns the total timeline length in seconds.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return totalDuration(e.clipsLocked())
}

func totalDuration(clips []project.Clip) float64 {
	return globalTime(clips, len(clips), 0)
}

// Seek moves the transport to global time t.
func (e *Engine) Seek(t float64) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	clips := e.clipsLocked()
	t = math.Min(math.Max(0, t), totalDuration(clips))
	i, local := locate(clips, t)
	e.selectLocked(clips[i], local)
	e.syncAudioLocked(t)
	return e.stateLocked(clips)
}

func (e *Engine) selectLocked(c project.Clip, local float64) {
	if c.ID != e.current {
		e.current = c.ID
		e.video.Load(c.URL)
		e.video.SetRate(e.rate)
		if e.playing {
			e.video.Play()
		}
	}
	e.local = local
	e.video.Seek(local)
}

// currentIndexLocked returns the position of the active clip, or -1 if it is
// no longer on the timeline.
func (e *Engine) currentIndexLocked(clips []project.Clip) int {
	for i, c := range clips {
		if c.ID == e.current {
			return i
		}
	}
	return -1
}

// AdvanceOnClipEnd moves to the clip after the active one in the current
// order. At the last clip it stops playback and returns false.
func (e *Engine) AdvanceOnClipEnd() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	clips := e.clipsLocked()
	i := e.currentIndexLocked(clips)
	if i < 0 || i+1 >= len(clips) {
		e.stopLocked()
		if i >= 0 {
			e.local = clips[i].Duration
		}
		return false
	}

	next := clips[i+1]
	e.selectLocked(next, 0)
	e.syncAudioLocked(globalTime(clips, i+1, 0))
	e.logger.Debug("advanced to next clip", "clip_id", next.ID, "index", i+1)
	return true
}

// Reorder moves the clip at timeline position from to position to. Position
// 0 belongs to the locked intro: nothing may leave or enter it.
func (e *Engine) Reorder(from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	clips := e.clipsLocked()
	if from < 0 || from >= len(clips) || to < 0 || to >= len(clips) {
		return ErrOutOfRange
	}
	if from == 0 || to == 0 || clips[from].Locked {
		return ErrLockedPosition
	}
	if from == to {
		return nil
	}

	id := e.order[from-1]
	order := append(e.order[:from-1:from-1], e.order[from:]...)
	pos := to - 1
	order = append(order[:pos], append([]string{id}, order[pos:]...)...)
	e.order = order
	return nil
}

func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = true
	clips := e.clipsLocked()
	i := e.currentIndexLocked(clips)
	if i < 0 {
		// the active clip left the timeline; restart from the top
		i = 0
		e.selectLocked(clips[0], 0)
	}
	e.video.Play()
	e.syncAudioLocked(globalTime(clips, i, e.local))
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	e.playing = false
	e.video.Pause()
	e.audio.Pause()
	e.audioActive = false
}

// SetRate sets the playback rate of both surfaces. Non-positive rates are
// ignored.
func (e *Engine) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
	e.video.SetRate(rate)
	e.audio.SetRate(rate)
}

// HandleTimeUpdate records the active clip's local time reported by the video
// surface and keeps the audio in step.
func (e *Engine) HandleTimeUpdate(local float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = math.Max(0, local)
	clips := e.clipsLocked()
	if i := e.currentIndexLocked(clips); i >= 0 {
		e.syncAudioLocked(globalTime(clips, i, e.local))
	}
}

// HandleDuration records the active clip's real duration.
func (e *Engine) HandleDuration(d float64) {
	if d <= 0 || math.IsInf(d, 0) || math.IsNaN(d) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.durations[e.current] = d
}

// syncAudioLocked positions the audio for global time t. The track is silent
// and held at 0 until the intro is over.
func (e *Engine) syncAudioLocked(t float64) {
	track, ok := e.audioTrackLocked()
	if !ok {
		if e.audioActive {
			e.audio.Pause()
			e.audioActive = false
		}
		return
	}
	if track.URL != e.audioURL {
		e.audioURL = track.URL
		e.audio.Load(track.URL)
		e.audio.SetRate(e.rate)
		e.audioActive = false
	}

	if t < track.OffsetSeconds {
		e.audio.Pause()
		e.audioActive = false
		if e.audio.CurrentTime() != 0 {
			e.audio.Seek(0)
		}
		return
	}

	target := t - track.OffsetSeconds
	if math.Abs(e.audio.CurrentTime()-target) > DriftThreshold {
		e.audio.Seek(target)
	}
	if e.playing && !e.audioActive {
		e.audio.Play()
		e.audioActive = true
	}
}

func (e *Engine) audioTrackLocked() (project.AudioTrack, bool) {
	url := e.source.MusicURL()
	if url == "" {
		return project.AudioTrack{}, false
	}
	return project.AudioTrack{URL: url, OffsetSeconds: e.intro.Duration}, true
}

// AudioTrack returns the music track and whether one is set.
func (e *Engine) AudioTrack() (project.AudioTrack, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audioTrackLocked()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(e.clipsLocked())
}

func (e *Engine) stateLocked(clips []project.Clip) State {
	st := State{
		Clips:        clips,
		CurrentIndex: e.currentIndexLocked(clips),
		CurrentID:    e.current,
		LocalTime:    e.local,
		Duration:     totalDuration(clips),
		Playing:      e.playing,
		Rate:         e.rate,
	}
	if st.CurrentIndex >= 0 {
		st.GlobalTime = globalTime(clips, st.CurrentIndex, e.local)
	}
	if track, ok := e.audioTrackLocked(); ok {
		st.AudioURL = track.URL
		st.AudioTime = math.Max(0, st.GlobalTime-track.OffsetSeconds)
		st.AudioGated = st.GlobalTime < track.OffsetSeconds
	}
	return st
}

type nopSurface struct{}

func (nopSurface) Load(string)          {}
func (nopSurface) Play()                {}
func (nopSurface) Pause()               {}
func (nopSurface) Seek(float64)         {}
func (nopSurface) SetRate(float64)      {}
func (nopSurface) CurrentTime() float64 { return 0 }
