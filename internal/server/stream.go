package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	streamKeepAlive = 15 * time.Second
	subscriberQueue = 16
)

// ProgressEvent is one snapshot of a fit job as seen by stream clients
type ProgressEvent struct {
	JobID      string    `json:"jobId"`
	State      JobState  `json:"state"`
	Stage      string    `json:"stage,omitempty"`
	Iterations int       `json:"iterations"`
	BestCost   float64   `json:"bestCost"`
	RunID      string    `json:"runId,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Final reports whether no further events follow for the job
func (e ProgressEvent) Final() bool {
	switch e.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

func eventFor(job Job) ProgressEvent {
	return ProgressEvent{
		JobID:      job.ID,
		State:      job.State,
		Stage:      job.Stage,
		Iterations: job.Iterations,
		BestCost:   job.BestCost,
		RunID:      job.RunID,
		Error:      job.Error,
		Timestamp:  time.Now(),
	}
}

// feed holds the subscribers of one job and the newest event
type feed struct {
	subscribers map[chan ProgressEvent]struct{}
	latest      *ProgressEvent
}

// EventBroadcaster fans job progress out to stream subscribers. Slow
// subscribers drop events instead of stalling the optimizer.
type EventBroadcaster struct {
	mu    sync.Mutex
	feeds map[string]*feed
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{feeds: make(map[string]*feed)}
}

func (eb *EventBroadcaster) feedLocked(jobID string) *feed {
	f, ok := eb.feeds[jobID]
	if !ok {
		f = &feed{subscribers: make(map[chan ProgressEvent]struct{})}
		eb.feeds[jobID] = f
	}
	return f
}

// Subscribe registers a subscriber. The newest event, if any, is queued first.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, subscriberQueue)
	f := eb.feedLocked(jobID)
	f.subscribers[ch] = struct{}{}
	if f.latest != nil {
		ch <- *f.latest
	}
	slog.Debug("Stream subscriber added", "job_id", jobID, "subscribers", len(f.subscribers))
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f, ok := eb.feeds[jobID]
	if !ok {
		return
	}
	if _, ok := f.subscribers[ch]; !ok {
		return
	}
	delete(f.subscribers, ch)
	close(ch)
}

// Broadcast records event as the job's newest and offers it to every subscriber
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f := eb.feedLocked(event.JobID)
	f.latest = &event

	dropped := 0
	for ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.Warn("Stream subscribers lagging, event dropped", "job_id", event.JobID, "dropped", dropped)
	}
}

// CleanupJob closes every subscriber of a job and forgets its newest event
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f, ok := eb.feeds[jobID]
	if !ok {
		return
	}
	for ch := range f.subscribers {
		close(ch)
	}
	delete(eb.feeds, jobID)
}

// handleJobStream serves a job's progress as server-sent events. The stream
// ends when the job reaches a final state or the client goes away.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	stream := &sseWriter{w: w}
	current := eventFor(job)
	if err := stream.send(current); err != nil {
		slog.Error("Failed to write stream event", "job_id", jobID, "error", err)
		return
	}
	flusher.Flush()
	if current.Final() {
		return
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := stream.send(event); err != nil {
				slog.Error("Failed to write stream event", "job_id", jobID, "error", err)
				return
			}
			flusher.Flush()
			if event.Final() {
				return
			}

		case <-keepAlive.C:
			io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// sseWriter frames events with increasing ids; final events use the "done" type
type sseWriter struct {
	w    io.Writer
	next int
}

func (s *sseWriter) send(event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	kind := "progress"
	if event.Final() {
		kind = "done"
	}
	s.next++
	_, err = fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.next, kind, data)
	return err
}
