package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jhs/lcfit/internal/metrics"
	"github.com/jhs/lcfit/internal/store"
)

// newTestServer creates a server backed by a filesystem store in a temp dir
func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	runs, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	s := NewServer(Config{
		Addr:     ":0",
		BaseDir:  dir,
		Store:    runs,
		Fit:      testFitConfig(),
		Recorder: metrics.NewRecorder(),
	})
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, runs
}

// seedRun stores a small run with a two-entry trace
func seedRun(t *testing.T, s *Server, runs store.Store) *store.Run {
	t.Helper()
	run := store.NewRun("curve.csv", store.RunConfig{Global: "circuit"})
	run.Params = []float64{0.1, 0.2}
	run.Cost = 0.01
	run.Timestamps = []float64{0, 1}
	run.Observed = []float64{1, 0.9}
	run.Modeled = []float64{1, 0.95}
	if err := runs.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	writer, err := store.NewTraceWriter(s.config.BaseDir, run.ID, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	writer.Record("clustering", 1, 0.5)
	writer.Record("agd", 1, 0.01)
	writer.Close()
	return run
}

func serve(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_CreateJob(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(inlineJob(t))
	w := serve(s, http.MethodPost, "/api/v1/jobs", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "{"},
		{"no input", "{}"},
		{"unknown optimizer", `{"input":"a.csv","global":"anneal"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, http.MethodPost, "/api/v1/jobs", []byte(tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), "error") {
				t.Errorf("Expected JSON error body, got %s", w.Body.String())
			}
		})
	}

	if len(s.jobManager.ListJobs()) != 0 {
		t.Error("Invalid requests should not create jobs")
	}
}

func TestServer_ListJobs(t *testing.T) {
	s, _ := newTestServer(t)

	s.jobManager.CreateJob(JobConfig{Input: "a.csv"})
	s.jobManager.CreateJob(JobConfig{Input: "b.csv"})

	w := serve(s, http.MethodGet, "/api/v1/jobs", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s, _ := newTestServer(t)

	job := s.jobManager.CreateJob(JobConfig{Input: "a.csv"})

	w := serve(s, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}
	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_Integration(t *testing.T) {
	s, runs := newTestServer(t)

	body, _ := json.Marshal(inlineJob(t))
	w := serve(s, http.MethodPost, "/api/v1/jobs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	// Poll until the job finishes
	deadline := time.Now().Add(30 * time.Second)
	var current Job
	for time.Now().Before(deadline) {
		current, _ = s.jobManager.GetJob(job.ID)
		if current.State == StateCompleted || current.State == StateFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if current.State != StateCompleted {
		t.Fatalf("Expected completed job, got %s (%s)", current.State, current.Error)
	}

	w = serve(s, http.MethodGet, "/api/v1/runs/"+current.RunID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for run, got %d", w.Code)
	}
	var run store.Run
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}
	if run.ID != current.RunID || len(run.Modeled) != len(run.Observed) {
		t.Errorf("Unexpected run: %+v", run)
	}

	infos, _ := runs.ListRuns(context.Background())
	if len(infos) != 1 {
		t.Errorf("Expected 1 stored run, got %d", len(infos))
	}
}

func TestServer_Runs(t *testing.T) {
	s, runs := newTestServer(t)
	run := seedRun(t, s, runs)

	w := serve(s, http.MethodGet, "/api/v1/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var infos []store.RunInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != run.ID {
		t.Errorf("Expected run %s, got %+v", run.ID, infos)
	}

	w = serve(s, http.MethodGet, "/api/v1/runs/"+run.ID+"/trace", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for trace, got %d", w.Code)
	}
	var entries []store.TraceEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode trace: %v", err)
	}
	if len(entries) != 2 || entries[1].Stage != "agd" {
		t.Errorf("Unexpected trace: %+v", entries)
	}

	w = serve(s, http.MethodGet, "/api/v1/runs/"+run.ID+"/trace?summary=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for trace summary, got %d", w.Code)
	}
	var summaries []store.StageSummary
	if err := json.NewDecoder(w.Body).Decode(&summaries); err != nil {
		t.Fatalf("Failed to decode trace summary: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Reports != 1 {
		t.Errorf("Unexpected trace summary: %+v", summaries)
	}

	w = serve(s, http.MethodDelete, "/api/v1/runs/"+run.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	for _, path := range []string{"/api/v1/runs/" + run.ID, "/api/v1/runs/" + run.ID + "/trace"} {
		w = serve(s, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404 after delete, got %d", path, w.Code)
		}
	}

	w = serve(s, http.MethodGet, "/api/v1/runs/"+run.ID+"/trace?summary=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for trace summary, got %d", w.Code)
	}
	var summaries []store.StageSummary
	if err := json.NewDecoder(w.Body).Decode(&summaries); err != nil {
		t.Fatalf("Failed to decode trace summary: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Reports != 1 {
		t.Errorf("Unexpected trace summary: %+v", summaries)
	}

	w = serve(s, http.MethodDelete, "/api/v1/runs/"+run.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for second delete, got %d", w.Code)
	}
}

func TestServer_RunsRouting(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/api/v1/runs", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/v1/runs/abc", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/runs/", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/runs/abc/field", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/abc/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(s, tt.method, tt.path, nil)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestServer_RunsDisabled(t *testing.T) {
	s := NewServer(Config{Fit: testFitConfig()})

	w := serve(s, http.MethodGet, "/api/v1/runs", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without a store, got %d", w.Code)
	}

	w = serve(s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without a recorder, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t)
	s.config.Recorder.Observe("clustering", 1, 0.5)

	w := serve(s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "lcfit_optimizer_best_cost") {
		t.Errorf("Expected optimizer metrics, got:\n%s", w.Body.String())
	}
}

func TestServer_CompressesResponses(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Expected gzip encoding, got %q", got)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs/abc", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected wildcard CORS origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	s, _ := newTestServer(t)

	job := s.jobManager.CreateJob(JobConfig{Input: "a.csv"})
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Stage = "clustering"
		j.BestCost = 0.25
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/stream", job.ID), nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleJobStream(w, req, job.ID)
		close(done)
	}()

	// Give the handler time to subscribe before broadcasting
	time.Sleep(50 * time.Millisecond)
	current, _ := s.jobManager.GetJob(job.ID)
	current.Iterations = 7
	s.jobManager.broadcaster.Broadcast(eventFor(current))
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream handler did not return after client disconnect")
	}

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	body := w.Body.String()
	if strings.Count(body, "data: {") < 2 {
		t.Errorf("Expected initial and broadcast events, got:\n%s", body)
	}
	if !strings.Contains(body, `"stage":"clustering"`) || !strings.Contains(body, `"iterations":7`) {
		t.Errorf("Expected stage and iteration in events, got:\n%s", body)
	}
}

func TestServer_JobStream_EndsOnFinalState(t *testing.T) {
	s, _ := newTestServer(t)

	job := s.jobManager.CreateJob(JobConfig{Input: "a.csv"})
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.State = StateCompleted
		j.RunID = "run-1"
	})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- serve(s, http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil)
	}()

	select {
	case w := <-done:
		body := w.Body.String()
		if !strings.Contains(body, "event: done") || !strings.Contains(body, `"runId":"run-1"`) {
			t.Errorf("Expected a single done event, got:\n%s", body)
		}
		if strings.Count(body, "data: {") != 1 {
			t.Errorf("Expected exactly one event, got:\n%s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream of a finished job did not end")
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	eb.Broadcast(ProgressEvent{
		JobID:      "job1",
		State:      StateRunning,
		Stage:      "agd",
		Iterations: 10,
		BestCost:   100.5,
		Timestamp:  time.Now(),
	})

	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Iterations != 10 {
			t.Errorf("Expected 10 iterations, got %d", received.Iterations)
		}
		if received.Stage != "agd" {
			t.Errorf("Expected stage agd, got %s", received.Stage)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers receive the last event
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.Iterations != 10 {
			t.Errorf("Expected replayed event, got %+v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for replayed event")
	}
	eb.Unsubscribe("job1", late)

	eb.CleanupJob("job1")
}
