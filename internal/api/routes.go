package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelsmith/reelsmith-agent/internal/generation"
	"github.com/reelsmith/reelsmith-agent/internal/pipelines"
	"github.com/reelsmith/reelsmith-agent/internal/project"
	"github.com/reelsmith/reelsmith-agent/internal/store"
	"github.com/reelsmith/reelsmith-agent/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/media/intro", introHandler(cfg))
		r.Head("/media/intro", introHandler(cfg))
		r.Get("/media/exports/{name}", exportFileHandler(cfg))
		r.Head("/media/exports/{name}", exportFileHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", getProjectHandler(cfg))
			r.Put("/scenes", putScenesHandler(cfg))
			r.Patch("/scenes/{index}/prompt", patchPromptHandler(cfg))
			r.Post("/images", generateImagesHandler(cfg))
			r.Post("/images/{index}/regenerate", regenerateImageHandler(cfg))
			r.Post("/videos", generateVideosHandler(cfg))
			r.Post("/videos/regenerate-failed", regenerateFailedHandler(cfg))
			r.Post("/combine", combineHandler(cfg))
			r.Get("/pipelines", pipelinesHandler(cfg))
			r.Get("/timeline", timelineHandler(cfg))
			r.Post("/timeline/reorder", reorderHandler(cfg))
			r.Post("/timeline/seek", seekHandler(cfg))
			r.Post("/timeline/events", playerEventHandler(cfg))
			r.Post("/export", exportTimelineHandler(cfg))
			r.Get("/charges", chargesHandler(cfg))
			r.Get("/events", eventsHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			State:        "idle",
			OpenProjects: []string{},
		}
		if cfg.Registry != nil {
			resp.OpenProjects = cfg.Registry.IDs()
			resp.PipelinesActive = cfg.Registry.ActivePipelines()
			resp.VideoBackend = cfg.Registry.PreferredBackend()
		}
		if cfg.Projects != nil {
			resp.JobsRunning = cfg.Projects.ActiveJobCount(r.Context())
		}
		if resp.PipelinesActive > 0 {
			resp.State = "generating"
		}

		if cfg.Probe != nil {
			if caps := cfg.Probe.Peek(); caps != nil {
				resp.Generation = capabilitiesToResponse(caps)
				if !caps.Healthy && resp.State == "idle" {
					resp.State = "degraded"
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func capabilitiesToResponse(caps *generation.Capabilities) *GenerationResponse {
	resp := &GenerationResponse{
		Healthy:  caps.Healthy,
		Version:  caps.Version,
		Backends: []string{},
		Images:   caps.Images,
		Combine:  caps.Combine,
	}
	for name, ok := range caps.Backends {
		if ok {
			resp.Backends = append(resp.Backends, name)
		}
	}
	sort.Strings(resp.Backends)
	if !caps.ProbedAt.IsZero() {
		resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

// workspace resolves the {id} project or writes the error response.
func workspace(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "project id required", "BAD_REQUEST")
		return nil, false
	}
	ws, err := cfg.Registry.Get(r.Context(), id)
	if err != nil {
		cfg.Logger.Error("failed to open project", "project_id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to open project", "INTERNAL_ERROR")
		return nil, false
	}
	return ws, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "index must be an integer", "BAD_REQUEST")
		return 0, false
	}
	return index, true
}

// writePipelineError maps coordinator and timeline errors to responses.
func writePipelineError(cfg ServerConfig, w http.ResponseWriter, err error) {
	var apiErr *generation.APIError
	switch {
	case errors.Is(err, pipelines.ErrBusy):
		WriteError(w, http.StatusConflict, err.Error(), "BUSY")
	case errors.Is(err, pipelines.ErrNoScenes),
		errors.Is(err, pipelines.ErrNothingToRegenerate),
		errors.Is(err, pipelines.ErrNothingToCombine),
		errors.Is(err, pipelines.ErrNoEligibleScenes):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "PRECONDITION_FAILED")
	case errors.Is(err, pipelines.ErrUnknownBackend),
		errors.Is(err, store.ErrSceneOutOfRange),
		errors.Is(err, timeline.ErrOutOfRange):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, timeline.ErrLockedPosition):
		WriteError(w, http.StatusConflict, err.Error(), "LOCKED")
	case errors.As(err, &apiErr):
		WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
	default:
		cfg.Logger.Warn("pipeline request failed", "error", err)
		WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(ws, totalCharged(cfg, r, ws.ID)))
	}
}

// totalCharged is best effort; a ledger read failure reports zero.
func totalCharged(cfg ServerConfig, r *http.Request, projectID string) int {
	if cfg.Projects == nil {
		return 0
	}
	charged, err := cfg.Projects.TotalCharged(r.Context(), projectID)
	if err != nil {
		cfg.Logger.Warn("failed to read charged total", "project_id", projectID, "error", err)
		return 0
	}
	return charged
}

func putScenesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req ScenesRequest
		if !decode(w, r, &req) {
			return
		}
		if len(req.Scenes) == 0 {
			WriteError(w, http.StatusBadRequest, "scenes must not be empty", "BAD_REQUEST")
			return
		}
		if ws.Pipelines.Active() {
			WriteError(w, http.StatusConflict, "cannot replace scenes while a pipeline is running", "BUSY")
			return
		}

		ws.Store.SetScenes(req.Scenes)
		if req.MusicURL != "" {
			ws.Store.SetMusicURL(req.MusicURL)
		}
		cfg.Registry.Persist(ws)
		WriteJSON(w, http.StatusOK, ProjectToResponse(ws, totalCharged(cfg, r, ws.ID)))
	}
}

func patchPromptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		index, ok := indexParam(w, r)
		if !ok {
			return
		}
		var req PromptRequest
		if !decode(w, r, &req) {
			return
		}
		if err := ws.Store.SetCustomPrompt(index, req.CustomPrompt); err != nil {
			writePipelineError(cfg, w, err)
			return
		}
		cfg.Registry.Persist(ws)
		sc, _ := ws.Store.Scene(index)
		WriteJSON(w, http.StatusOK, sc)
	}
}

func imageRequest(cfg ServerConfig, req ImageRequest) pipelines.ImageRequest {
	out := pipelines.ImageRequest{
		PhotoReferences: req.PhotoReferences,
		CustomPrompt:    req.CustomPrompt,
	}
	if req.Settings != nil {
		out.Settings = req.Settings.apply(cfg.Registry.Profile().Image)
	}
	return out
}

func generateImagesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req ImageRequest
		if !decode(w, r, &req) {
			return
		}
		jobID, err := ws.Pipelines.Image.Generate(r.Context(), imageRequest(cfg, req))
		if err != nil {
			writePipelineError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
	}
}

func regenerateImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		index, ok := indexParam(w, r)
		if !ok {
			return
		}
		var req ImageRequest
		if !decode(w, r, &req) {
			return
		}
		jobID, err := ws.Pipelines.Image.RegenerateScene(r.Context(), index, imageRequest(cfg, req))
		if err != nil {
			writePipelineError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
	}
}

func videoRequest(cfg ServerConfig, req VideoRequest) pipelines.VideoRequest {
	out := pipelines.VideoRequest{Backend: req.Backend}
	if out.Backend == "" {
		out.Backend = cfg.Registry.PreferredBackend()
	}
	if req.Settings != nil {
		out.Settings = req.Settings.apply(cfg.Registry.Profile().Video)
	}
	return out
}

func generateVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req VideoRequest
		if !decode(w, r, &req) {
			return
		}
		jobID, err := ws.Pipelines.Video.Generate(r.Context(), videoRequest(cfg, req))
		if err != nil {
			writePipelineError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
	}
}

func regenerateFailedHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req VideoRequest
		if !decode(w, r, &req) {
			return
		}
		jobID, err := ws.Pipelines.Video.RegenerateFailed(r.Context(), videoRequest(cfg, req))
		if err != nil {
			writePipelineError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
	}
}

func combineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req CombineRequest
		if !decode(w, r, &req) {
			return
		}
		url, err := ws.Pipelines.Combine.Combine(r.Context(), pipelines.CombineRequest{
			Order:         ws.Timeline.Clips(),
			PlaybackSpeed: req.PlaybackSpeed,
			MusicURL:      req.MusicURL,
			MusicVolume:   req.MusicVolume,
		})
		if err != nil {
			writePipelineError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusOK, CombineResponse{URL: url})
	}
}

func pipelinesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, PipelinesResponse{Pipelines: ws.Pipelines.Statuses()})
	}
}

func timelineResponse(ws *Workspace) TimelineResponse {
	resp := TimelineResponse{State: ws.Timeline.State()}
	if track, ok := ws.Timeline.AudioTrack(); ok {
		resp.Audio = &track
	}
	return resp
}

func timelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, timelineResponse(ws))
	}
}

func reorderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req ReorderRequest
		if !decode(w, r, &req) {
			return
		}
		if err := ws.Timeline.Reorder(req.From, req.To); err != nil {
			writePipelineError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusOK, timelineResponse(ws))
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req SeekRequest
		if !decode(w, r, &req) {
			return
		}
		ws.Timeline.Seek(req.Time)
		WriteJSON(w, http.StatusOK, timelineResponse(ws))
	}
}

func playerEventHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var ev PlayerEvent
		if !decode(w, r, &ev) {
			return
		}

		switch ev.Type {
		case PlayerTimeUpdate:
			ws.Timeline.HandleTimeUpdate(ev.Value)
		case PlayerDuration:
			ws.Timeline.HandleDuration(ev.Value)
		case PlayerEnded:
			ws.Timeline.AdvanceOnClipEnd()
		case PlayerPlay:
			ws.Timeline.Play()
		case PlayerPause:
			ws.Timeline.Pause()
		case PlayerRateChange:
			ws.Timeline.SetRate(ev.Value)
		default:
			WriteError(w, http.StatusBadRequest, "unknown player event "+strconv.Quote(ev.Type), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, timelineResponse(ws))
	}
}

func chargesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		charges, err := cfg.Repository.ListCharges(r.Context(), ws.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list charges", "INTERNAL_ERROR")
			return
		}
		resp := ChargesResponse{Charges: charges}
		if resp.Charges == nil {
			resp.Charges = []*project.Charge{}
		}
		for _, c := range charges {
			resp.Total += c.Amount
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), r.URL.Query().Get("project_id"), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func introHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.PlaybackServer.ServeIntro(w, r); err != nil {
			cfg.Logger.Error("intro playback error", "error", err)
		}
	}
}

func exportFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := cfg.PlaybackServer.ServeExport(w, r, name); err != nil {
			cfg.Logger.Error("export playback error", "error", err, "name", name)
		}
	}
}
