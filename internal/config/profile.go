package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds generation defaults applied to every submission unless the
// request overrides them.
type Profile struct {
	Image ImageProfile `yaml:"image"`
	Video VideoProfile `yaml:"video"`
	Music MusicProfile `yaml:"music"`
}

type ImageProfile struct {
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	CfgScale       float64 `yaml:"cfg_scale"`
	Steps          int     `yaml:"steps"`
	Sampler        string  `yaml:"sampler"`
	NegativePrompt string  `yaml:"negative_prompt"`
}

type VideoProfile struct {
	ClipSeconds       float64 `yaml:"clip_seconds"`
	FPS               int     `yaml:"fps"`
	MotionStrength    float64 `yaml:"motion_strength"`
	Style             string  `yaml:"style"`
	Voice             string  `yaml:"voice"`
	GenerateNarration bool    `yaml:"generate_narration"`
	GenerateMusic     bool    `yaml:"generate_music"`
}

type MusicProfile struct {
	Volume        float64 `yaml:"volume"`
	PlaybackSpeed float64 `yaml:"playback_speed"`
}

// DefaultProfile returns the built-in generation defaults.
func DefaultProfile() *Profile {
	return &Profile{
		Image: ImageProfile{
			Width:    768,
			Height:   432,
			CfgScale: 7,
			Steps:    30,
			Sampler:  "DPM++ 2M Karras",
		},
		Video: VideoProfile{
			ClipSeconds:    5,
			FPS:            24,
			MotionStrength: 0.6,
		},
		Music: MusicProfile{
			Volume:        0.3,
			PlaybackSpeed: 1.0,
		},
	}
}

// LoadProfile reads a YAML profile from path and layers it over the defaults.
// An empty path returns the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the ranges the generation service rejects anyway.
func (p *Profile) Validate() error {
	if p.Image.Width <= 0 || p.Image.Height <= 0 {
		return fmt.Errorf("image width and height must be positive")
	}
	if p.Image.Steps <= 0 {
		return fmt.Errorf("image steps must be positive")
	}
	if p.Music.Volume < 0 || p.Music.Volume > 1 {
		return fmt.Errorf("music volume must be between 0 and 1")
	}
	if p.Music.PlaybackSpeed <= 0 {
		return fmt.Errorf("playback speed must be positive")
	}
	return nil
}
