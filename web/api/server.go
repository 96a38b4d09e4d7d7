// Package api serves batch and run history over HTTP and streams live run
// state changes over server-sent events and websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/runstore"
)

// Store is the read side of the run store
type Store interface {
	ListBatches(ctx context.Context, limit int) ([]runstore.Batch, error)
	GetBatch(ctx context.Context, id string) (runstore.Batch, error)
	LatestBatch(ctx context.Context) (runstore.Batch, error)
	Report(ctx context.Context, batchID string) (*domain.BatchReport, error)
	LakeHistory(ctx context.Context, lakeKey string, limit int) ([]domain.RunRecord, error)
}

// Lakes lists the registered lakes
type Lakes interface {
	List() []domain.LakeParameters
}

// Server is the HTTP API server
type Server struct {
	store  Store
	lakes  Lakes
	addr   string
	mux    *http.ServeMux
	hub    *Hub
	logger *slog.Logger
}

// NewServer creates a new API server. lakes may be nil.
func NewServer(store Store, lakes Lakes, addr string, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		lakes:  lakes,
		addr:   addr,
		mux:    http.NewServeMux(),
		hub:    NewHub(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/batches", s.listBatchesHandler())
	s.mux.HandleFunc("/api/batches/", s.getBatchHandler())
	s.mux.HandleFunc("/api/lakes", s.listLakesHandler())
	s.mux.HandleFunc("/api/lakes/", s.lakeHistoryHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Hub returns the event hub; pass it to the orchestrator as event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
