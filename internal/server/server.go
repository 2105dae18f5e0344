package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jhs/lcfit/internal/fit"
	"github.com/jhs/lcfit/internal/metrics"
	"github.com/jhs/lcfit/internal/store"
)

// Config holds the server's dependencies
type Config struct {
	Addr string

	// BaseDir is where run traces are written; it should match the store's directory
	BaseDir string

	// Store persists completed fits. Nil disables persistence and the runs API.
	Store store.Store

	// Fit is the configuration every job starts from
	Fit fit.Config

	// Recorder receives optimizer progress. Nil disables /metrics.
	Recorder *metrics.Recorder
}

// Server runs fit jobs and serves their progress and the stored runs
type Server struct {
	jobManager *JobManager
	worker     *worker
	config     Config
	server     *http.Server

	// jobCtx is the parent of every job; Shutdown cancels it
	jobCtx    context.Context
	cancelJob context.CancelFunc
	running   sync.WaitGroup
}

// NewServer wires a job manager and worker to config. Call Start to listen.
func NewServer(config Config) *Server {
	jm := NewJobManager()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: jm,
		worker: &worker{
			jobs:     jm,
			runs:     config.Store,
			baseDir:  config.BaseDir,
			base:     config.Fit,
			recorder: config.Recorder,
		},
		config:    config,
		jobCtx:    ctx,
		cancelJob: cancel,
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)
	if s.config.Recorder != nil {
		mux.Handle("/metrics", s.config.Recorder.Handler())
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.CustomLoggingHandler(io.Discard, cors(handlers.CompressHandler(mux)), logRequest)
}

// Start listens on config.Addr until Shutdown
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.config.Addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels pending jobs, waits for running fits until ctx expires and
// gracefully shuts down the server. A fit in progress finishes its optimization
// but is not saved.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancelJob()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Jobs still running at shutdown", "count", len(s.jobManager.GetRunningJobs()))
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// handleJobs serves GET and POST /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobsWithID serves /api/v1/jobs/{id}, /status and /stream
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	jobID, sub, ok := splitResource(r.URL.Path, "/api/v1/jobs/")
	if !ok {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// splitResource splits "<prefix><id>[/<sub>]"; ok is false without an id
func splitResource(path, prefix string) (id, sub string, ok bool) {
	id, sub, _ = strings.Cut(strings.TrimPrefix(path, prefix), "/")
	return id, sub, id != ""
}

// handleCreateJob validates the request and starts the fit in the background
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if err := config.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := *s.jobManager.CreateJob(config)

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		if err := s.worker.runJob(s.jobCtx, job.ID); err != nil {
			slog.Debug("Job ended with error", "job_id", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, job)
}

// JobStatus is a job snapshot plus its wall-clock time in seconds
type JobStatus struct {
	Job
	Elapsed float64 `json:"elapsed"`
}

func statusOf(job Job) JobStatus {
	end := time.Now()
	if job.EndTime != nil {
		end = *job.EndTime
	}
	return JobStatus{Job: job, Elapsed: end.Sub(job.StartTime).Seconds()}
}

func (s *Server) handleGetJobStatus(w http.ResponseWriter, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, statusOf(job))
}

// handleRuns serves GET /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.config.Store == nil {
		writeError(w, http.StatusNotFound, "run storage is disabled")
		return
	}

	infos, err := s.config.Store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleRunsWithID serves /api/v1/runs/{id} and /api/v1/runs/{id}/trace
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusNotFound, "run storage is disabled")
		return
	}

	runID, sub, ok := splitResource(r.URL.Path, "/api/v1/runs/")
	if !ok {
		writeError(w, http.StatusBadRequest, "run ID required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		run, err := s.config.Store.LoadRun(r.Context(), runID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)

	case sub == "" && r.Method == http.MethodDelete:
		if err := s.config.Store.DeleteRun(r.Context(), runID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case sub == "trace" && r.Method == http.MethodGet:
		entries, err := store.ReadTrace(s.config.BaseDir, runID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if r.URL.Query().Get("summary") == "true" {
			summaries := store.SummarizeTrace(entries)
			if summaries == nil {
				summaries = []store.StageSummary{}
			}
			writeJSON(w, http.StatusOK, summaries)
			return
		}
		if entries == nil {
			entries = []store.TraceEntry{}
		}
		writeJSON(w, http.StatusOK, entries)

	case sub == "" || sub == "trace":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// writeStoreError maps store errors to status codes
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	slog.Debug("HTTP request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"duration", time.Since(p.TimeStamp),
	)
}
