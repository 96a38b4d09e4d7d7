package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
	"github.com/hochfrequenz/lake-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/lake-orchestrator/internal/registry"
	"github.com/hochfrequenz/lake-orchestrator/internal/runstore"
)

var started = time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *runstore.Store {
	t.Helper()
	ctx := context.Background()
	store, err := runstore.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateBatch(ctx, runstore.Batch{ID: "b1", BaseName: "operational", StartedAt: started, Total: 2}); err != nil {
		t.Fatal(err)
	}
	finished := started.Add(10 * time.Minute)
	records := []domain.RunRecord{
		{BatchID: "b1", LakeKey: "greifensee", State: domain.StatePublished, UpdatedAt: finished, FinishedAt: &finished},
		{BatchID: "b1", LakeKey: "hallwil", State: domain.StateFailed, FailureKind: domain.FailureEngine, Error: "exit 3", UpdatedAt: finished, FinishedAt: &finished},
	}
	for _, rec := range records {
		if err := store.SaveRun(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.FinishBatch(ctx, domain.NewBatchReport("b1", "operational", started, finished, records)); err != nil {
		t.Fatal(err)
	}
	return store
}

func testLakes(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New("lakes.yaml", []domain.LakeParameters{{
		Key:          "greifensee",
		Name:         "Greifensee",
		SurfaceArea:  8.5,
		TrophicState: "eutrophic",
		Forcing:      []domain.ForcingBinding{{ID: "SMA", Type: "meteoswiss_meteostation"}},
		Forecast:     &domain.ForecastBinding{Source: "meteoswiss", Model: "icon", HorizonDays: 5},
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newTestServer(t *testing.T) *Server {
	return NewServer(seededStore(t), testLakes(t), ":0", logging.Discard())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestStatusHandler(t *testing.T) {
	w := get(t, newTestServer(t), "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if status.Lakes != 1 {
		t.Errorf("Lakes = %d, want 1", status.Lakes)
	}
	if status.Latest == nil || status.Latest.ID != "b1" || status.Running {
		t.Fatalf("Latest = %+v, Running = %v", status.Latest, status.Running)
	}
	if status.Counts["published"] != 1 || status.Counts["failed"] != 1 {
		t.Errorf("Counts = %v", status.Counts)
	}
}

func TestStatusHandler_EmptyStore(t *testing.T) {
	store, err := runstore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	w := get(t, NewServer(store, nil, ":0", logging.Discard()), "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
}

func TestListBatchesHandler(t *testing.T) {
	s := newTestServer(t)

	w := get(t, s, "/api/batches?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var batches []BatchResponse
	json.NewDecoder(w.Body).Decode(&batches)
	if len(batches) != 1 || batches[0].Failed != 1 || batches[0].Duration != "10m0s" {
		t.Errorf("batches = %+v", batches)
	}

	if w := get(t, s, "/api/batches?limit=zero"); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit Status = %d, want 400", w.Code)
	}
}

func TestGetBatchHandler(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/api/batches/b1", http.StatusOK},
		{"/api/batches/latest", http.StatusOK},
		{"/api/batches/nope", http.StatusNotFound},
		{"/api/batches/", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, s, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("Status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var detail BatchDetailResponse
			json.NewDecoder(w.Body).Decode(&detail)
			if len(detail.Records) != 2 || len(detail.Failures) != 1 || detail.Failures[0].LakeKey != "hallwil" {
				t.Errorf("detail = %+v", detail)
			}
		})
	}
}

func TestLakeHandlers(t *testing.T) {
	s := newTestServer(t)

	w := get(t, s, "/api/lakes")
	var lakes []LakeResponse
	json.NewDecoder(w.Body).Decode(&lakes)
	if len(lakes) != 1 || lakes[0].Forecast != "meteoswiss/icon" || lakes[0].Forcing[0] != "meteoswiss_meteostation:SMA" {
		t.Errorf("lakes = %+v", lakes)
	}

	w = get(t, s, "/api/lakes/hallwil/runs")
	var runs []domain.RunRecord
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].FailureKind != domain.FailureEngine {
		t.Errorf("runs = %+v", runs)
	}

	if w := get(t, s, "/api/lakes/Bad%20Key/runs"); w.Code != http.StatusBadRequest {
		t.Errorf("bad key Status = %d, want 400", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/batches", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", w.Code)
	}
}

func runHub(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Hub().Run(ctx)
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clients", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSSEStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	runHub(t, s)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	waitForClients(t, s.Hub(), 1)
	s.Hub().Emit(orchestrator.Event{Type: orchestrator.EventRunState, BatchID: "b2", LakeKey: "greifensee", State: domain.StateRunning})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: run_state" {
		t.Errorf("event line = %q", lines[0])
	}
	var got orchestrator.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &got); err != nil {
		t.Fatal(err)
	}
	if got.LakeKey != "greifensee" || got.State != domain.StateRunning {
		t.Errorf("event = %+v", got)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	runHub(t, s)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, s.Hub(), 1)
	s.Hub().Emit(orchestrator.Event{Type: orchestrator.EventBatchFinished, BatchID: "b2", Total: 3, Failed: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string             `json:"type"`
		Data orchestrator.Event `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "batch_finished" || msg.Data.Failed != 1 || msg.Data.BatchID != "b2" {
		t.Errorf("message = %+v", msg)
	}
}

func TestHub_DropsSlowClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	events, _ := h.Subscribe(ctx)
	waitForClients(t, h, 1)
	for i := 0; i < clientBuffer+10; i++ {
		h.Broadcast(StreamEvent{Type: "tick"})
	}

	stop := time.Now().Add(2 * time.Second)
	for h.Clients() > 0 {
		if time.Now().After(stop) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.After(2 * time.Second)
	received := 0
	for {
		select {
		case _, ok := <-events:
			if !ok {
				if received > clientBuffer {
					t.Errorf("received %d events, want at most %d", received, clientBuffer)
				}
				return
			}
			received++
		case <-deadline:
			t.Fatal("dropped client channel was not closed")
		}
	}
}
