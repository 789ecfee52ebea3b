package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/reelsmith/reelsmith-agent/internal/export"
)

func TestExportTimeline_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ws := env.seed(t, "p1")
	env.generateVideos(t, ws)

	if rr := env.do(t, http.MethodPost, "/projects/p1/timeline/reorder", ReorderRequest{From: 3, To: 1}); rr.Code != http.StatusOK {
		t.Fatalf("reorder status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr := env.do(t, http.MethodPost, "/projects/p1/export", export.Request{
		Format:      "edl",
		ProjectName: "Harbor Cut",
		FrameRate:   24,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		export.Response
		URL string `json:"url"`
	}
	decodeInto(t, rr, &resp)
	if resp.EventCount != 3 {
		t.Errorf("event_count = %d, want 3 (intro excluded)", resp.EventCount)
	}
	if resp.Duration != 15 {
		t.Errorf("duration = %v, want 15", resp.Duration)
	}
	if resp.URL != "/media/exports/Harbor%20Cut.edl" {
		t.Errorf("url = %q, want /media/exports/Harbor%%20Cut.edl", resp.URL)
	}

	data, err := os.ReadFile(resp.OutputPath)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	edl := string(data)
	first := strings.Index(edl, "/clips/2.mp4")
	second := strings.Index(edl, "/clips/0.mp4")
	if first < 0 || second < 0 || first > second {
		t.Errorf("EDL does not follow the timeline order:\n%s", edl)
	}

	req := httptest.NewRequest(http.MethodGet, resp.URL, nil)
	req.RemoteAddr = "127.0.0.1:5000"
	served := httptest.NewRecorder()
	env.router.ServeHTTP(served, req)
	if served.Code != http.StatusOK {
		t.Fatalf("serve export status = %d, want %d", served.Code, http.StatusOK)
	}
	if served.Body.String() != edl {
		t.Error("served export differs from the written file")
	}
}

func TestExportTimeline_IncludeIntro(t *testing.T) {
	env := newTestEnv(t)
	ws := env.seed(t, "p1")
	env.generateVideos(t, ws)

	rr := env.do(t, http.MethodPost, "/projects/p1/export", export.Request{IncludeIntro: true})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["event_count"] != float64(4) {
		t.Errorf("event_count = %v, want 4", body["event_count"])
	}
	if body["url"] != "/media/exports/p1.edl" {
		t.Errorf("url = %v, want /media/exports/p1.edl", body["url"])
	}
}

func TestExportTimeline_NothingToExport(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "p1")

	rr := env.do(t, http.MethodPost, "/projects/p1/export", export.Request{Format: "edl"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
}

func TestExportTimeline_InvalidFormat(t *testing.T) {
	env := newTestEnv(t)
	ws := env.seed(t, "p1")
	env.generateVideos(t, ws)

	rr := env.do(t, http.MethodPost, "/projects/p1/export", export.Request{Format: "xml"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestExportFile_RejectsTraversal(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/media/exports/..%2Fintro.mp4", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code == http.StatusOK {
		t.Errorf("status = %d, want a rejection", rr.Code)
	}
}
