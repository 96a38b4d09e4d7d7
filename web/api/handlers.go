package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/runstore"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Lakes   int            `json:"lakes"`
	Clients int            `json:"stream_clients"`
	Latest  *BatchResponse `json:"latest_batch,omitempty"`
	Counts  map[string]int `json:"latest_counts,omitempty"`
	Running bool           `json:"running"`
}

// BatchResponse is the API response for a batch
type BatchResponse struct {
	runstore.Batch
	Duration string `json:"duration,omitempty"`
}

// BatchDetailResponse adds the per-lake records to a batch
type BatchDetailResponse struct {
	BatchResponse
	Records  []domain.RunRecord `json:"records"`
	Failures []domain.Failure   `json:"failures,omitempty"`
}

// LakeResponse is the API response for a registered lake
type LakeResponse struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Elevation    float64  `json:"elevation"`
	SurfaceArea  float64  `json:"surface_area"`
	TrophicState string   `json:"trophic_state"`
	Forcing      []string `json:"forcing"`
	Inflows      []string `json:"inflows,omitempty"`
	Forecast     string   `json:"forecast,omitempty"`
}

func batchToResponse(b runstore.Batch) BatchResponse {
	resp := BatchResponse{Batch: b}
	if b.FinishedAt != nil {
		resp.Duration = b.FinishedAt.Sub(b.StartedAt).Round(time.Second).String()
	}
	return resp
}

func lakeToResponse(l domain.LakeParameters) LakeResponse {
	resp := LakeResponse{
		Key:          l.Key,
		Name:         l.Name,
		Elevation:    l.Elevation,
		SurfaceArea:  l.SurfaceArea,
		TrophicState: l.TrophicState,
	}
	for _, b := range l.Forcing {
		resp.Forcing = append(resp.Forcing, b.String())
	}
	for _, b := range l.Inflows {
		resp.Inflows = append(resp.Inflows, b.String())
	}
	if l.Forecast != nil {
		resp.Forecast = l.Forecast.Product()
	}
	return resp
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		status := StatusResponse{Clients: s.hub.Clients()}
		if s.lakes != nil {
			status.Lakes = len(s.lakes.List())
		}

		latest, err := s.store.LatestBatch(r.Context())
		switch {
		case errors.Is(err, runstore.ErrNotFound):
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		default:
			resp := batchToResponse(latest)
			status.Latest = &resp
			status.Running = latest.Running()

			report, err := s.store.Report(r.Context(), latest.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			status.Counts = make(map[string]int, len(report.Counts))
			for state, n := range report.Counts {
				status.Counts[string(state)] = n
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listBatchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		limit, err := limitParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		batches, err := s.store.ListBatches(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]BatchResponse, len(batches))
		for i, b := range batches {
			responses[i] = batchToResponse(b)
		}
		writeJSON(w, responses)
	}
}

func (s *Server) getBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// /api/batches/{id} or /api/batches/latest
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/batches/"), "/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "batch ID required")
			return
		}

		var (
			batch runstore.Batch
			err   error
		)
		if id == "latest" {
			batch, err = s.store.LatestBatch(r.Context())
		} else {
			batch, err = s.store.GetBatch(r.Context(), id)
		}
		if errors.Is(err, runstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		report, err := s.store.Report(r.Context(), batch.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, BatchDetailResponse{
			BatchResponse: batchToResponse(batch),
			Records:       report.Records,
			Failures:      report.Failures,
		})
	}
}

func (s *Server) listLakesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.lakes == nil {
			writeJSON(w, []LakeResponse{})
			return
		}

		lakes := s.lakes.List()
		resp := make([]LakeResponse, len(lakes))
		for i, l := range lakes {
			resp[i] = lakeToResponse(l)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) lakeHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// /api/lakes/{key}/runs
		path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/lakes/"), "/")
		key := strings.TrimSuffix(path, "/runs")
		if key == "" || !domain.ValidLakeKey(key) {
			writeError(w, http.StatusBadRequest, "valid lake key required")
			return
		}
		limit, err := limitParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		runs, err := s.store.LakeHistory(r.Context(), key, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []domain.RunRecord{}
		}
		writeJSON(w, runs)
	}
}
