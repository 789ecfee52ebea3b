package project

import (
	"sort"
	"strings"
)

// Sanitize returns a copy of s that is safe to persist: blank entries are
// dropped, strings are trimmed, the locked intro is removed (it is rebuilt
// from configuration on load) and every slice is ordered by index.
func Sanitize(s Snapshot) Snapshot {
	out := Snapshot{
		ProjectID:   strings.TrimSpace(s.ProjectID),
		MusicURL:    strings.TrimSpace(s.MusicURL),
		CombinedURL: strings.TrimSpace(s.CombinedURL),
		UpdatedAt:   s.UpdatedAt,
	}

	for _, sc := range s.Scenes {
		sc.Title = strings.TrimSpace(sc.Title)
		sc.Description = strings.TrimSpace(sc.Description)
		if sc.Title == "" && sc.Description == "" {
			continue
		}
		sc.Location = strings.TrimSpace(sc.Location)
		sc.Mood = strings.TrimSpace(sc.Mood)
		sc.Narration = strings.TrimSpace(sc.Narration)
		sc.CustomPrompt = strings.TrimSpace(sc.CustomPrompt)
		out.Scenes = append(out.Scenes, sc)
	}

	for _, img := range s.Images {
		var frames []Frame
		for _, f := range img.Frames {
			if f.ImageRef == "" && f.Error == "" {
				continue
			}
			frames = append(frames, f)
		}
		img.Frames = frames
		if img.ImageRef == "" && len(img.Frames) == 0 {
			continue
		}
		out.Images = append(out.Images, img)
	}

	for _, c := range s.Videos {
		if c.Locked {
			continue
		}
		if c.URL == "" && c.Error == "" && !c.Success {
			continue
		}
		out.Videos = append(out.Videos, c)
	}

	sort.SliceStable(out.Scenes, func(i, j int) bool { return out.Scenes[i].Index < out.Scenes[j].Index })
	sort.SliceStable(out.Images, func(i, j int) bool { return out.Images[i].Index < out.Images[j].Index })
	sort.SliceStable(out.Videos, func(i, j int) bool { return out.Videos[i].Index < out.Videos[j].Index })
	return out
}
