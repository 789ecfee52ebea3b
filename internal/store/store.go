// Package store holds the in-memory state of one project: storyboard scenes,
// generated images, generated clips and the combined export. Pipelines and
// user edits are the only writers; the timeline reads it.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-agent/internal/project"
)

var ErrSceneOutOfRange = errors.New("scene index out of range")

type Store struct {
	mu        sync.RWMutex
	projectID string

	scenes      []project.Scene
	images      map[int]project.GeneratedImage
	clips       map[int]project.Clip
	musicURL    string
	combinedURL string
	version     uint64
	updatedAt   time.Time
}

func New(projectID string) *Store {
	return &Store{
		projectID: projectID,
		images:    make(map[int]project.GeneratedImage),
		clips:     make(map[int]project.Clip),
	}
}

func (s *Store) ProjectID() string {
	return s.projectID
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetScenes replaces the storyboard. Indices are renumbered densely from zero
// in the given order and scenes without an id receive one. Images and clips
// are kept only where the scene at their index is still the scene they were
// made for; entries made before any storyboard existed adopt the new scene.
func (s *Store) SetScenes(scenes []project.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]project.Scene, len(scenes))
	for i, sc := range scenes {
		sc.Index = i
		if sc.ID == "" {
			sc.ID = uuid.NewString()
		}
		out[i] = sc
	}
	s.scenes = out

	for idx, img := range s.images {
		sceneID, ok := adoptScene(out, idx, img.SceneID)
		if !ok {
			delete(s.images, idx)
			continue
		}
		img.SceneID = sceneID
		s.images[idx] = img
	}
	for idx, c := range s.clips {
		sceneID, ok := adoptScene(out, idx, c.SceneID)
		if !ok {
			delete(s.clips, idx)
			continue
		}
		c.SceneID = sceneID
		s.clips[idx] = c
	}
	s.touch()
}

// adoptScene reports whether an entry at idx made for sceneID still belongs
// to the storyboard, and the scene id it belongs to.
func adoptScene(scenes []project.Scene, idx int, sceneID string) (string, bool) {
	if idx < 0 || idx >= len(scenes) {
		return "", false
	}
	if sceneID != "" && sceneID != scenes[idx].ID {
		return "", false
	}
	return scenes[idx].ID, true
}

func (s *Store) Scenes() []project.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]project.Scene, len(s.scenes))
	copy(out, s.scenes)
	return out
}

func (s *Store) Scene(index int) (project.Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.scenes) {
		return project.Scene{}, false
	}
	return s.scenes[index], true
}

// SetCustomPrompt overrides the prompt of one scene. It is the only scene
// field users may edit after the storyboard is produced.
func (s *Store) SetCustomPrompt(index int, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.scenes) {
		return fmt.Errorf("%w: %d", ErrSceneOutOfRange, index)
	}
	s.scenes[index].CustomPrompt = strings.TrimSpace(prompt)
	s.touch()
	return nil
}

// MergeImages upserts images by scene index, leaving other entries alone.
// Negative or out-of-range indices are ignored; it returns how many were
// applied.
func (s *Store) MergeImages(images ...project.GeneratedImage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.mergeImagesLocked(images)
	if n > 0 {
		s.touch()
	}
	return n
}

// ReplaceImages makes images the complete image set.
func (s *Store) ReplaceImages(images []project.GeneratedImage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = make(map[int]project.GeneratedImage)
	n := s.mergeImagesLocked(images)
	s.touch()
	return n
}

func (s *Store) mergeImagesLocked(images []project.GeneratedImage) int {
	n := 0
	for _, img := range images {
		if !s.validIndexLocked(img.Index) {
			continue
		}
		if img.SceneID == "" && img.Index < len(s.scenes) {
			img.SceneID = s.scenes[img.Index].ID
		}
		if len(img.Frames) > project.MaxFramesPerScene {
			img.Frames = img.Frames[:project.MaxFramesPerScene]
		}
		s.images[img.Index] = img
		n++
	}
	return n
}

// Images returns the generated images ordered by index.
func (s *Store) Images() []project.GeneratedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]project.GeneratedImage, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (s *Store) Image(index int) (project.GeneratedImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[index]
	return img, ok
}

// MergeClips upserts clips by scene index. A clip keeps the id of the scene it
// renders so timeline order survives regeneration.
func (s *Store) MergeClips(clips ...project.Clip) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.mergeClipsLocked(clips)
	if n > 0 {
		s.touch()
	}
	return n
}

// ReplaceClips makes clips the complete clip set.
func (s *Store) ReplaceClips(clips []project.Clip) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = make(map[int]project.Clip)
	n := s.mergeClipsLocked(clips)
	s.touch()
	return n
}

func (s *Store) mergeClipsLocked(clips []project.Clip) int {
	n := 0
	for _, c := range clips {
		if c.Locked || !s.validIndexLocked(c.Index) {
			continue
		}
		if c.SceneID == "" && c.Index < len(s.scenes) {
			c.SceneID = s.scenes[c.Index].ID
		}
		if c.ID == "" {
			switch {
			case c.SceneID != "":
				c.ID = c.SceneID
			case s.clips[c.Index].ID != "":
				c.ID = s.clips[c.Index].ID
			default:
				c.ID = uuid.NewString()
			}
		}
		s.clips[c.Index] = c
		n++
	}
	return n
}

// Clips returns every generated clip, successful or not, ordered by index.
func (s *Store) Clips() []project.Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]project.Clip, 0, len(s.clips))
	for _, c := range s.clips {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SuccessfulClips returns the clips that can be played, ordered by index.
func (s *Store) SuccessfulClips() []project.Clip {
	var out []project.Clip
	for _, c := range s.Clips() {
		if c.Success && c.URL != "" {
			out = append(out, c)
		}
	}
	return out
}

// FailedClipIndices returns the scene indices whose clip failed, ascending.
func (s *Store) FailedClipIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for idx, c := range s.clips {
		if !c.Success {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

func (s *Store) SetMusicURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.musicURL = url
	s.touch()
}

func (s *Store) MusicURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.musicURL
}

func (s *Store) SetCombinedURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combinedURL = url
	s.touch()
}

func (s *Store) CombinedURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.combinedURL
}

// Snapshot returns a sanitized copy suitable for persistence.
func (s *Store) Snapshot() project.Snapshot {
	scenes := s.Scenes()
	images := s.Images()
	clips := s.Clips()

	s.mu.RLock()
	snap := project.Snapshot{
		ProjectID:   s.projectID,
		Scenes:      scenes,
		Images:      images,
		Videos:      clips,
		MusicURL:    s.musicURL,
		CombinedURL: s.combinedURL,
		UpdatedAt:   s.updatedAt,
	}
	s.mu.RUnlock()
	return project.Sanitize(snap)
}

// Restore loads a persisted snapshot, replacing all current state.
func (s *Store) Restore(snap project.Snapshot) {
	s.SetScenes(snap.Scenes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = make(map[int]project.GeneratedImage)
	s.clips = make(map[int]project.Clip)
	s.mergeImagesLocked(snap.Images)
	s.mergeClipsLocked(snap.Videos)
	s.musicURL = snap.MusicURL
	s.combinedURL = snap.CombinedURL
	s.touch()
}

// validIndexLocked accepts any non-negative index until a storyboard exists.
func (s *Store) validIndexLocked(index int) bool {
	if index < 0 {
		return false
	}
	return len(s.scenes) == 0 || index < len(s.scenes)
}

func (s *Store) touch() {
	s.version++
	s.updatedAt = time.Now().UTC()
}
