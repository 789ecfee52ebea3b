package api

import (
	"errors"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/reelsmith/reelsmith-agent/internal/export"
)

// ExportResponse adds the local URL the written EDL is served at.
type ExportResponse struct {
	*export.Response
	URL string `json:"url"`
}

func exportTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := workspace(cfg, w, r)
		if !ok {
			return
		}
		var req export.Request
		if !decode(w, r, &req) {
			return
		}
		if req.ProjectName == "" {
			req.ProjectName = ws.ID
		}

		resp, err := export.Timeline(cfg.ExportDir, ws.Timeline.Clips(), req)
		switch {
		case errors.Is(err, export.ErrUnsupportedFormat):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		case errors.Is(err, export.ErrNothingToExport):
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "NOTHING_TO_EXPORT")
			return
		case err != nil:
			cfg.Logger.Error("failed to write export", "project_id", ws.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		cfg.Logger.Info("timeline exported",
			"project_id", ws.ID,
			"path", resp.OutputPath,
			"events", resp.EventCount,
			"skipped", len(resp.Skipped),
		)
		WriteJSON(w, http.StatusOK, ExportResponse{
			Response: resp,
			URL:      "/media/exports/" + url.PathEscape(filepath.Base(resp.OutputPath)),
		})
	}
}
