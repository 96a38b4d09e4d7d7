package runstore

import (
	"context"
	"log/slog"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// Writer serialises run record writes through one goroutine so lake tasks
// never block on the database.
type Writer struct {
	store  *Store
	logger *slog.Logger
	ops    chan domain.RunRecord
	done   chan struct{}
}

// NewWriter starts the writer goroutine. Stop must be called to flush.
func NewWriter(store *Store, logger *slog.Logger) *Writer {
	w := &Writer{
		store:  store,
		logger: logger,
		ops:    make(chan domain.RunRecord, 256),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)
	for rec := range w.ops {
		if err := w.store.SaveRun(context.Background(), rec); err != nil {
			w.logger.Warn("failed to persist run record", "lake", rec.LakeKey, "state", rec.State, "error", err)
		}
	}
}

// Save queues a copy of rec. It blocks only when the queue is full.
func (w *Writer) Save(rec domain.RunRecord) {
	w.ops <- rec
}

// Stop drains pending writes and stops the goroutine.
func (w *Writer) Stop() {
	close(w.ops)
	<-w.done
}
