package project

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultFlushInterval = 500 * time.Millisecond

// Writer persists snapshots in the background. WriteSnapshot never blocks on
// storage: it replaces the pending snapshot for the project and the flush
// loop writes the latest one. Failed writes are logged and dropped.
type Writer struct {
	repo          Repository
	logger        *slog.Logger
	flushInterval time.Duration

	mu      sync.Mutex
	pending map[string]Snapshot

	running atomic.Bool
	written atomic.Int64
	failed  atomic.Int64
}

func NewWriter(repo Repository, logger *slog.Logger) *Writer {
	return &Writer{
		repo:          repo,
		logger:        logger,
		flushInterval: defaultFlushInterval,
		pending:       make(map[string]Snapshot),
	}
}

// WriteSnapshot queues snap for persistence.
func (w *Writer) WriteSnapshot(snap Snapshot) {
	if snap.ProjectID == "" {
		return
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	w.mu.Lock()
	w.pending[snap.ProjectID] = snap
	w.mu.Unlock()
}

// Start runs the flush loop until ctx is done, then flushes once more.
func (w *Writer) Start(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}
	defer w.running.Store(false)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush(context.Background())
			if w.logger != nil {
				w.logger.Info("snapshot writer stopped")
			}
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush writes every pending snapshot now.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]Snapshot)
	w.mu.Unlock()

	for id, snap := range batch {
		if err := w.repo.SaveSnapshot(ctx, snap); err != nil {
			w.failed.Add(1)
			if w.logger != nil {
				w.logger.Warn("failed to persist snapshot", "project_id", id, "error", err)
			}
			continue
		}
		w.written.Add(1)
	}
}

func (w *Writer) IsRunning() bool {
	return w.running.Load()
}

// Stats returns the number of snapshots written and failed since start.
func (w *Writer) Stats() (written, failed int64) {
	return w.written.Load(), w.failed.Load()
}
