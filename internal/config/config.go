// Package config provides configuration management for the reelsmith agent.
// Configuration is loaded from environment variables (optionally seeded from a
// .env file) with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort     = 8797
	DefaultLogLevel = "info"
	DefaultDataDir  = ".reelsmith"

	// Environment variable names
	EnvPort     = "REELSMITH_PORT"
	EnvLogLevel = "REELSMITH_LOG_LEVEL"
	EnvDataDir  = "REELSMITH_DATA_DIR"
	EnvHeadless = "REELSMITH_HEADLESS"
	EnvDotEnv   = "REELSMITH_ENV_FILE"

	// Generation service
	EnvGenerationURL   = "REELSMITH_GENERATION_URL"
	EnvGenerationToken = "REELSMITH_GENERATION_TOKEN"
	EnvVideoBackend    = "REELSMITH_VIDEO_BACKEND"
	EnvVideoUnitCost   = "REELSMITH_VIDEO_UNIT_COST"
	EnvPublicBaseURL   = "REELSMITH_PUBLIC_BASE_URL"
	EnvProfilePath     = "REELSMITH_PROFILE"

	// Polling
	EnvPollInterval         = "REELSMITH_POLL_INTERVAL"
	EnvPollErrorInterval    = "REELSMITH_POLL_ERROR_INTERVAL"
	EnvImagePollMaxAttempts = "REELSMITH_IMAGE_POLL_MAX_ATTEMPTS"
	EnvVideoPollMaxAttempts = "REELSMITH_VIDEO_POLL_MAX_ATTEMPTS"

	// Locked intro
	EnvIntroPath     = "REELSMITH_INTRO_PATH"
	EnvIntroDuration = "REELSMITH_INTRO_DURATION"

	// Database filename
	DBFilename = "reelsmith.db"

	DefaultGenerationURL        = "http://127.0.0.1:8000"
	DefaultVideoBackend         = "interpolation"
	DefaultVideoUnitCost        = 5
	DefaultPollInterval         = 3 * time.Second
	DefaultPollErrorInterval    = 10 * time.Second
	DefaultImagePollMaxAttempts = 120
	DefaultVideoPollMaxAttempts = 360
	DefaultIntroDuration        = 6.0 // seconds
	DefaultProbeTimeout         = 15 * time.Second
)

// Video backend names accepted by REELSMITH_VIDEO_BACKEND.
const (
	BackendInterpolation = "interpolation"
	BackendScene         = "scene"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ExportDir() string
	Headless() bool
	GenerationURL() string
	GenerationToken() string
	VideoBackend() string
	VideoUnitCost() int
	PublicBaseURL() string
	PollInterval() time.Duration
	PollErrorInterval() time.Duration
	ImagePollMaxAttempts() int
	VideoPollMaxAttempts() int
	IntroPath() string
	IntroDuration() float64
	ProbeTimeout() time.Duration
	Profile() *Profile
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	generationURL   string
	generationToken string
	videoBackend    string
	videoUnitCost   int
	publicBaseURL   string

	pollInterval         time.Duration
	pollErrorInterval    time.Duration
	imagePollMaxAttempts int
	videoPollMaxAttempts int

	introPath     string
	introDuration float64

	profile *Profile
}

// New creates a new EnvConfig with defaults and environment variable overrides.
// A .env file in the working directory (or at REELSMITH_ENV_FILE) is loaded
// first; variables already set in the process environment win.
func New() (*EnvConfig, error) {
	if f := os.Getenv(EnvDotEnv); f != "" {
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &EnvConfig{
		port:                 DefaultPort,
		logLevel:             DefaultLogLevel,
		dataDir:              defaultDataDir(),
		generationURL:        DefaultGenerationURL,
		videoBackend:         DefaultVideoBackend,
		videoUnitCost:        DefaultVideoUnitCost,
		pollInterval:         DefaultPollInterval,
		pollErrorInterval:    DefaultPollErrorInterval,
		imagePollMaxAttempts: DefaultImagePollMaxAttempts,
		videoPollMaxAttempts: DefaultVideoPollMaxAttempts,
		introDuration:        DefaultIntroDuration,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if u := os.Getenv(EnvGenerationURL); u != "" {
		cfg.generationURL = strings.TrimRight(u, "/")
	}
	cfg.generationToken = os.Getenv(EnvGenerationToken)

	if b := os.Getenv(EnvVideoBackend); b != "" {
		b = strings.ToLower(b)
		if b != BackendInterpolation && b != BackendScene {
			return nil, fmt.Errorf("invalid %s: must be %q or %q", EnvVideoBackend, BackendInterpolation, BackendScene)
		}
		cfg.videoBackend = b
	}

	if c := os.Getenv(EnvVideoUnitCost); c != "" {
		cost, err := strconv.Atoi(c)
		if err != nil || cost < 0 {
			return nil, fmt.Errorf("invalid %s: must be a non-negative integer", EnvVideoUnitCost)
		}
		cfg.videoUnitCost = cost
	}

	cfg.publicBaseURL = strings.TrimRight(os.Getenv(EnvPublicBaseURL), "/")

	var err error
	if cfg.pollInterval, err = durationEnv(EnvPollInterval, cfg.pollInterval); err != nil {
		return nil, err
	}
	if cfg.pollErrorInterval, err = durationEnv(EnvPollErrorInterval, cfg.pollErrorInterval); err != nil {
		return nil, err
	}
	if cfg.pollErrorInterval < cfg.pollInterval {
		return nil, fmt.Errorf("invalid %s: must not be shorter than %s", EnvPollErrorInterval, EnvPollInterval)
	}
	if cfg.imagePollMaxAttempts, err = positiveIntEnv(EnvImagePollMaxAttempts, cfg.imagePollMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.videoPollMaxAttempts, err = positiveIntEnv(EnvVideoPollMaxAttempts, cfg.videoPollMaxAttempts); err != nil {
		return nil, err
	}

	cfg.introPath = os.Getenv(EnvIntroPath)
	if d := os.Getenv(EnvIntroDuration); d != "" {
		dur, err := strconv.ParseFloat(d, 64)
		if err != nil || dur <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvIntroDuration)
		}
		cfg.introDuration = dur
	}

	profile, err := LoadProfile(os.Getenv(EnvProfilePath))
	if err != nil {
		return nil, err
	}
	cfg.profile = profile

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ExportDir returns the directory timeline exports are written to
func (c *EnvConfig) ExportDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) GenerationURL() string {
	return c.generationURL
}

func (c *EnvConfig) GenerationToken() string {
	return c.generationToken
}

func (c *EnvConfig) VideoBackend() string {
	return c.videoBackend
}

// VideoUnitCost is the credit charge per successfully generated clip.
func (c *EnvConfig) VideoUnitCost() int {
	return c.videoUnitCost
}

// PublicBaseURL is the origin relative clip URLs are resolved against before
// a combine request. Empty means the generation URL.
func (c *EnvConfig) PublicBaseURL() string {
	if c.publicBaseURL != "" {
		return c.publicBaseURL
	}
	return c.generationURL
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) PollErrorInterval() time.Duration {
	return c.pollErrorInterval
}

func (c *EnvConfig) ImagePollMaxAttempts() int {
	return c.imagePollMaxAttempts
}

func (c *EnvConfig) VideoPollMaxAttempts() int {
	return c.videoPollMaxAttempts
}

func (c *EnvConfig) IntroPath() string {
	return c.introPath
}

// IntroDuration returns the locked intro clip length in seconds
func (c *EnvConfig) IntroDuration() float64 {
	return c.introDuration
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeout
}

func (c *EnvConfig) Profile() *Profile {
	return c.profile
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration like 3s", key)
	}
	return d, nil
}

func positiveIntEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
