package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelsmith/reelsmith-agent/internal/pipelines"
)

const (
	subscriberBuffer  = 16
	heartbeatInterval = 15 * time.Second
)

// Hub fans pipeline events out to server-sent event subscribers, one topic
// per project. Publishing never blocks: a subscriber that is not reading
// loses events.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[chan pipelines.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan pipelines.Event]struct{})}
}

// Subscribe registers a subscriber for projectID. The returned func removes
// it; the channel is never closed by the hub.
func (h *Hub) Subscribe(projectID string) (<-chan pipelines.Event, func()) {
	ch := make(chan pipelines.Event, subscriberBuffer)
	h.mu.Lock()
	subs, ok := h.topics[projectID]
	if !ok {
		subs = make(map[chan pipelines.Event]struct{})
		h.topics[projectID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.topics[projectID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.topics, projectID)
			}
		}
	}
}

// Notify implements pipelines.Notifier.
func (h *Hub) Notify(ev pipelines.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.topics[ev.ProjectID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[projectID])
}

func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		if cfg.Hub == nil {
			WriteError(w, http.StatusServiceUnavailable, "event stream unavailable", "UNAVAILABLE")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL_ERROR")
			return
		}

		events, unsubscribe := cfg.Hub.Subscribe(projectID)
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case ev := <-events:
				if err := writeEvent(w, ev); err != nil {
					cfg.Logger.Debug("event stream closed", "project_id", projectID, "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev pipelines.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Pipeline, data)
	return err
}

// LogNotifier logs terminal pipeline events.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ev pipelines.Event) {
	if !ev.State.Terminal() {
		return
	}
	n.Logger.Info("pipeline finished",
		"project_id", ev.ProjectID,
		"pipeline", ev.Pipeline,
		"state", ev.State,
		"job_id", ev.JobID,
		"error", ev.Error,
	)
}
