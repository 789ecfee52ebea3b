package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/db"
	"github.com/reelsmith/reelsmith-agent/internal/generation"
	"github.com/reelsmith/reelsmith-agent/internal/pipelines"
	"github.com/reelsmith/reelsmith-agent/internal/playback"
	"github.com/reelsmith/reelsmith-agent/internal/project"
)

const testToken = "test-token"

type fakeImages struct{}

func (fakeImages) SubmitImages(ctx context.Context, req generation.ImageJobRequest) (string, error) {
	return "img-1", nil
}

func (fakeImages) ImageStatus(ctx context.Context, jobID string) (generation.JobStatus, error) {
	return generation.JobStatus{Status: "completed", Completed: 1, Total: 1, Results: []generation.ResultItem{{
		Index:   1,
		Title:   "one",
		Success: true,
		Frames: []generation.FrameResult{
			{Success: true, ImageURL: "/img/0a.png"},
			{Success: true, ImageURL: "/img/0b.png"},
		},
	}}}, nil
}

// fakeBackend renders every submitted scene except those in failing.
type fakeBackend struct {
	mu        sync.Mutex
	failing   map[int]bool
	submitted [][]int
	jobs      map[string][]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failing: map[int]bool{}, jobs: map[string][]int{}}
}

func (b *fakeBackend) Name() string { return config.BackendInterpolation }

func (b *fakeBackend) Submit(ctx context.Context, job generation.VideoJob) (generation.Submission, error) {
	indices := job.Indices
	if indices == nil {
		for _, sc := range job.Scenes {
			indices = append(indices, sc.Index)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, indices)
	jobID := "vid-" + string(rune('a'+len(b.submitted)-1))
	b.jobs[jobID] = indices
	return generation.Submission{JobID: jobID, Indices: indices}, nil
}

func (b *fakeBackend) Status(ctx context.Context, jobID string) (generation.JobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	indices := b.jobs[jobID]
	st := generation.JobStatus{Status: "completed", Completed: len(indices), Total: len(indices)}
	for _, i := range indices {
		if b.failing[i] {
			st.Results = append(st.Results, generation.ResultItem{Index: i, Error: "render failed"})
			continue
		}
		st.Results = append(st.Results, generation.ResultItem{
			Index:    i,
			URL:      "/clips/" + string(rune('0'+i)) + ".mp4",
			Duration: 5,
			Success:  true,
		})
	}
	return st, nil
}

func (b *fakeBackend) setFailing(indices ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = map[int]bool{}
	for _, i := range indices {
		b.failing[i] = true
	}
}

type fakeCombiner struct {
	mu   sync.Mutex
	reqs []generation.CombineRequest
}

func (f *fakeCombiner) Combine(ctx context.Context, req generation.CombineRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return "https://gen.example/combined/1.mp4", nil
}

func (f *fakeCombiner) last() generation.CombineRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type testEnv struct {
	router    http.Handler
	repo      project.Repository
	registry  *Registry
	hub       *Hub
	backend   *fakeBackend
	combiner  *fakeCombiner
	exportDir string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := project.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	logger := testLogger()
	svc := project.NewService(repo, logger)

	introPath := filepath.Join(dir, "intro.mp4")
	if err := os.WriteFile(introPath, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("failed to write intro: %v", err)
	}
	exportDir := filepath.Join(dir, "exports")

	hub := NewHub()
	backend := newFakeBackend()
	combiner := &fakeCombiner{}
	poll := pipelines.PollSettings{Interval: time.Millisecond, ErrorInterval: time.Millisecond, MaxAttempts: 5}

	registry := NewRegistry(RegistryConfig{
		Images:         fakeImages{},
		Combiner:       combiner,
		Backends:       map[string]generation.VideoBackend{config.BackendInterpolation: backend},
		DefaultBackend: config.BackendInterpolation,
		UnitCost:       10,
		BaseURL:        "https://gen.example",
		ImagePoll:      poll,
		VideoPoll:      poll,
		Intro:          project.NewIntroClip("http://127.0.0.1:8787/media/intro", 6),
		Projects:       svc,
		Notifier:       hub,
		Logger:         logger,
	})
	t.Cleanup(registry.Close)

	cfg := ServerConfig{
		Registry:       registry,
		Projects:       svc,
		Repository:     repo,
		PlaybackServer: playback.NewServer(introPath, exportDir, logger),
		Hub:            hub,
		ExportDir:      exportDir,
		Logger:         logger,
		StartTime:      time.Now().Add(-10 * time.Second),
		DeviceID:       "test-device",
	}

	return &testEnv{
		router:    NewRouter(cfg),
		repo:      repo,
		registry:  registry,
		hub:       hub,
		backend:   backend,
		combiner:  combiner,
		exportDir: exportDir,
	}
}

// do sends an authorized loopback request through the router.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal error: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// seed stores three scenes with renderable frames on project id.
func (e *testEnv) seed(t *testing.T, id string) *Workspace {
	t.Helper()
	rr := e.do(t, http.MethodPut, "/projects/"+id+"/scenes", ScenesRequest{
		Scenes: []project.Scene{
			{ID: "s0", Index: 0, Title: "zero"},
			{ID: "s1", Index: 1, Title: "one"},
			{ID: "s2", Index: 2, Title: "two"},
		},
		MusicURL: "/music/track.mp3",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT scenes status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	ws, err := e.registry.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("registry.Get() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		ws.Store.MergeImages(project.GeneratedImage{Index: i, Frames: []project.Frame{
			{Success: true, ImageRef: "/img/a.png"},
			{Success: true, ImageRef: "/img/b.png"},
		}})
	}
	return ws
}

// generateVideos runs a full video job to completion.
func (e *testEnv) generateVideos(t *testing.T, ws *Workspace) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/projects/"+ws.ID+"/videos", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("POST videos status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	waitIdle(t, ws)
}

func waitIdle(t *testing.T, ws *Workspace) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Pipelines.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	return body
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}
