package generation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/reelsmith/reelsmith-agent/internal/poller"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClient_SubmitImages_Success(t *testing.T) {
	var received ImageJobRequest
	var receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/images/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing X-Request-Id")
		}
		receivedAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(SubmitResponse{Success: true, JobID: "img-1"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "secret", testLogger())
	id, err := c.SubmitImages(context.Background(), ImageJobRequest{
		Scenes:   []SceneInput{{Index: 0, Title: "Dawn"}},
		Settings: ImageSettings{Width: 768, Height: 432, CfgScale: 7, Steps: 30, Sampler: "euler"},
	})
	if err != nil {
		t.Fatalf("SubmitImages() error = %v", err)
	}
	if id != "img-1" {
		t.Errorf("job id = %q, want img-1", id)
	}
	if receivedAuth != "Bearer secret" {
		t.Errorf("auth = %q, want %q", receivedAuth, "Bearer secret")
	}
	if len(received.Scenes) != 1 || received.Settings.Sampler != "euler" {
		t.Errorf("payload = %+v", received)
	}
}

func TestClient_SubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SubmitResponse{Success: false, Error: "quota exceeded"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", testLogger())
	_, err := c.SubmitSceneVideos(context.Background(), SceneVideoRequest{})
	if !errors.Is(err, ErrSubmissionRejected) {
		t.Fatalf("error = %v, want ErrSubmissionRejected", err)
	}
	if IsRetryable(err) {
		t.Error("rejected submission should not be retryable")
	}
}

func TestClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/videos/interpolate/status/job%2F1" && r.URL.RawPath != "/api/videos/interpolate/status/job%2F1" {
			t.Errorf("unexpected path: %s (%s)", r.URL.Path, r.URL.RawPath)
		}
		w.Write([]byte(`{"status":"processing","completed":1,"total":3,"results":[{"index":0,"url":"/v/0.mp4","success":true,"duration":5}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", testLogger())
	st, err := c.InterpolationStatus(context.Background(), "job/1")
	if err != nil {
		t.Fatalf("InterpolationStatus() error = %v", err)
	}
	if st.Phase() != poller.PhaseRunning {
		t.Errorf("Phase = %s, want running", st.Phase())
	}
	if st.Completed != 1 || st.Total != 3 || len(st.Results) != 1 || st.Results[0].Duration != 5 {
		t.Errorf("status = %+v", st)
	}
}

func TestClient_ServerError(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
			w.Write([]byte("nope"))
		}))

		c := NewClient(server.URL, "", testLogger())
		_, err := c.ImageStatus(context.Background(), "x")
		server.Close()

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("code %d: error = %v, want *APIError", tt.code, err)
		}
		if apiErr.StatusCode != tt.code || apiErr.Body != "nope" {
			t.Errorf("APIError = %+v", apiErr)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("code %d: IsRetryable = %v, want %v", tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestClient_TransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(url, "", testLogger())
	_, err := c.ImageStatus(context.Background(), "x")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsRetryable(err) {
		t.Error("transport error should be retryable")
	}
}

func TestClient_Combine(t *testing.T) {
	var received CombineRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/videos/combine" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		if len(received.Videos) == 0 {
			json.NewEncoder(w).Encode(CombineResponse{Success: false, Error: "no videos"})
			return
		}
		json.NewEncoder(w).Encode(CombineResponse{Success: true, CombinedVideoURL: "/v/final.mp4"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", testLogger())
	got, err := c.Combine(context.Background(), CombineRequest{
		Videos:        []CombineVideo{{URL: "http://x/0.mp4", Title: "Dawn"}},
		ProjectID:     "p1",
		PlaybackSpeed: 1.25,
		MusicVolume:   0.3,
	})
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if got != "/v/final.mp4" {
		t.Errorf("combined = %q, want /v/final.mp4", got)
	}
	if received.PlaybackSpeed != 1.25 || received.ProjectID != "p1" {
		t.Errorf("payload = %+v", received)
	}

	if _, err := c.Combine(context.Background(), CombineRequest{}); !errors.Is(err, ErrSubmissionRejected) {
		t.Errorf("empty combine error = %v, want ErrSubmissionRejected", err)
	}
}

func TestJobStatus_Phase(t *testing.T) {
	tests := map[string]poller.Phase{
		"completed":  poller.PhaseCompleted,
		"Succeeded":  poller.PhaseCompleted,
		"failed":     poller.PhaseFailed,
		"error":      poller.PhaseFailed,
		"processing": poller.PhaseRunning,
		"pending":    poller.PhasePending,
		"":           poller.PhasePending,
		"weird":      poller.PhasePending,
	}
	for in, want := range tests {
		if got := (JobStatus{Status: in}).Phase(); got != want {
			t.Errorf("Phase(%q) = %s, want %s", in, got, want)
		}
	}
}
