package api

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/generation"
	"github.com/reelsmith/reelsmith-agent/internal/logging"
	"github.com/reelsmith/reelsmith-agent/internal/media"
	"github.com/reelsmith/reelsmith-agent/internal/pipelines"
	"github.com/reelsmith/reelsmith-agent/internal/project"
	"github.com/reelsmith/reelsmith-agent/internal/store"
	"github.com/reelsmith/reelsmith-agent/internal/timeline"
)

// Workspace is the live state of one open project.
type Workspace struct {
	ID        string
	Store     *store.Store
	Pipelines *pipelines.Set
	Timeline  *timeline.Engine
}

// RegistryConfig holds what every workspace is built from.
type RegistryConfig struct {
	Images   pipelines.ImageAPI
	Combiner pipelines.CombineAPI
	Backends map[string]generation.VideoBackend
	// DefaultBackend is the configured backend; the probe may override it.
	DefaultBackend string
	Probe          *generation.CachedProbe
	Profile        *config.Profile
	UnitCost       int
	Prober         media.Prober
	BaseURL        string
	ImagePoll      pipelines.PollSettings
	VideoPoll      pipelines.PollSettings
	Intro          project.Clip

	Projects  *project.Service
	Snapshots pipelines.SnapshotWriter
	Notifier  pipelines.Notifier
	Logger    *slog.Logger
}

// Registry opens workspaces on first use, restoring the last saved snapshot.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Profile == nil {
		cfg.Profile = config.DefaultProfile()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Registry{
		cfg:        cfg,
		logger:     logging.WithComponent(cfg.Logger, "workspaces"),
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace of projectID, opening it if needed.
func (r *Registry) Get(ctx context.Context, projectID string) (*Workspace, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.workspaces[projectID]; ok {
		return ws, nil
	}

	s := store.New(projectID)
	if r.cfg.Projects != nil {
		snap, err := r.cfg.Projects.Load(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
		}
		if snap != nil {
			s.Restore(*snap)
		}
	}

	ws := r.build(s)
	r.workspaces[projectID] = ws
	logging.WithProjectID(r.logger, projectID).Info("workspace opened",
		"scenes", len(s.Scenes()), "clips", len(s.Clips()))
	return ws, nil
}

func (r *Registry) build(s *store.Store) *Workspace {
	deps := pipelines.Deps{
		Store:     s,
		Snapshots: r.cfg.Snapshots,
		Notifier:  r.cfg.Notifier,
		Logger:    logging.WithProjectID(r.cfg.Logger, s.ProjectID()),
	}
	var charger pipelines.Charger
	if r.cfg.Projects != nil {
		deps.Jobs = r.cfg.Projects
		charger = r.cfg.Projects
	}

	set := &pipelines.Set{
		Image: pipelines.NewImage(r.cfg.Images, r.cfg.Profile.Image, r.cfg.ImagePoll, deps),
		Video: pipelines.NewVideo(pipelines.VideoOptions{
			Backends:       r.cfg.Backends,
			DefaultBackend: r.cfg.DefaultBackend,
			Profile:        r.cfg.Profile.Video,
			UnitCost:       r.cfg.UnitCost,
			Charger:        charger,
			Prober:         r.cfg.Prober,
			BaseURL:        r.cfg.BaseURL,
			Poll:           r.cfg.VideoPoll,
		}, deps),
		Combine: pipelines.NewCombine(r.cfg.Combiner, r.cfg.Profile.Music, r.cfg.BaseURL, deps),
	}

	return &Workspace{
		ID:        s.ProjectID(),
		Store:     s,
		Pipelines: set,
		Timeline:  timeline.New(s, r.cfg.Intro, nil, nil, r.cfg.Logger),
	}
}

// PreferredBackend is the backend a video run uses when none is requested.
func (r *Registry) PreferredBackend() string {
	if r.cfg.Probe == nil {
		return r.cfg.DefaultBackend
	}
	return r.cfg.Probe.Peek().PreferredBackend(r.cfg.DefaultBackend)
}

// Profile returns the generation defaults request overrides are layered on.
func (r *Registry) Profile() *config.Profile {
	return r.cfg.Profile
}

// Persist queues a snapshot of the workspace.
func (r *Registry) Persist(ws *Workspace) {
	if r.cfg.Snapshots != nil {
		r.cfg.Snapshots.WriteSnapshot(ws.Store.Snapshot())
	}
}

// IDs returns the open project ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workspaces))
	for id := range r.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActivePipelines counts in-flight pipelines across open workspaces.
func (r *Registry) ActivePipelines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ws := range r.workspaces {
		for _, st := range ws.Pipelines.Statuses() {
			if st.State.Active() {
				n++
			}
		}
	}
	return n
}

// Close stops observing every job. Remote jobs keep running; their history
// rows are marked interrupted on the next start.
func (r *Registry) Close() {
	r.mu.Lock()
	workspaces := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		workspaces = append(workspaces, ws)
	}
	r.mu.Unlock()
	for _, ws := range workspaces {
		ws.Pipelines.Stop()
	}
}
