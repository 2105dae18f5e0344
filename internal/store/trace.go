package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const traceFile = "trace.jsonl"

// TracePath is where the progress trace of a run lives
func TracePath(baseDir, runID string) string {
	return filepath.Join(RunDir(baseDir, runID), traceFile)
}

// TraceEntry is one optimizer progress report, one JSON object per line.
type TraceEntry struct {
	Stage     string  `json:"stage"`
	Iteration int     `json:"iteration"`
	Cost      float64 `json:"cost"`

	// Improved is set when Cost beat every earlier report of the same stage
	Improved bool `json:"improved,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TraceWriter appends progress reports of a fit to its trace file. Safe for
// concurrent use; entries reach the disk on Flush or Close.
type TraceWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	path string

	best map[string]float64
}

// NewTraceWriter opens the trace of runID under baseDir, truncating it unless
// appendMode is set.
func NewTraceWriter(baseDir, runID string, appendMode bool) (*TraceWriter, error) {
	path := TracePath(baseDir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &TraceWriter{
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
		path: path,
		best: make(map[string]float64),
	}, nil
}

// Record stamps and writes a report. It matches opt.ProgressFunc, so failures
// are logged instead of returned.
func (tw *TraceWriter) Record(stage string, iteration int, cost float64) {
	entry := TraceEntry{Stage: stage, Iteration: iteration, Cost: cost, Timestamp: time.Now().UTC()}
	if err := tw.Write(entry); err != nil {
		slog.Warn("Failed to record trace entry", "path", tw.path, "stage", stage, "error", err)
	}
}

// Write appends entry, setting Improved from the stage's best cost so far.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	best, seen := tw.best[entry.Stage]
	entry.Improved = seen && entry.Cost < best
	if !seen || entry.Cost < best {
		tw.best[entry.Stage] = entry.Cost
	}
	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Flush pushes buffered entries to the file and syncs it.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace: %w", err)
	}
	return tw.file.Sync()
}

// Close flushes and closes the file. The file is closed even if the flush fails.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	flushErr := tw.buf.Flush()
	closeErr := tw.file.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("failed to close trace: %w", err)
	}
	return nil
}

// Path returns the trace file path.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader decodes a trace entry by entry.
type TraceReader struct {
	file *os.File
	dec  *json.Decoder
	line int
}

// NewTraceReader opens the trace of runID. A missing trace is a NotFoundError.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	file, err := os.Open(TracePath(baseDir, runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &TraceReader{file: file, dec: json.NewDecoder(bufio.NewReader(file))}, nil
}

// Read returns the next entry, or io.EOF after the last one.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	var entry TraceEntry
	err := tr.dec.Decode(&entry)
	if err == io.EOF {
		return nil, io.EOF
	}
	tr.line++
	if err != nil {
		return nil, fmt.Errorf("trace entry %d: %w", tr.line, err)
	}
	return &entry, nil
}

// ReadAll returns the remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the trace file.
func (tr *TraceReader) Close() error {
	return tr.file.Close()
}

// ReadTrace loads a run's whole trace.
func ReadTrace(baseDir, runID string) ([]TraceEntry, error) {
	reader, err := NewTraceReader(baseDir, runID)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.ReadAll()
}

// DeleteTrace removes a run's trace. A missing trace is not an error.
func DeleteTrace(baseDir, runID string) error {
	err := os.Remove(TracePath(baseDir, runID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}

// StageSummary condenses the trace entries of one optimizer stage
type StageSummary struct {
	Stage        string  `json:"stage"`
	Reports      int     `json:"reports"`
	Improvements int     `json:"improvements"`
	LastIter     int     `json:"lastIteration"`
	FirstCost    float64 `json:"firstCost"`
	BestCost     float64 `json:"bestCost"`
}

// SummarizeTrace groups entries by stage in order of first appearance.
func SummarizeTrace(entries []TraceEntry) []StageSummary {
	var summaries []StageSummary
	index := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.Stage]
		if !ok {
			i = len(summaries)
			index[e.Stage] = i
			summaries = append(summaries, StageSummary{Stage: e.Stage, FirstCost: e.Cost, BestCost: e.Cost})
		}
		s := &summaries[i]
		s.Reports++
		if e.Improved {
			s.Improvements++
		}
		if e.Iteration > s.LastIter {
			s.LastIter = e.Iteration
		}
		if e.Cost < s.BestCost {
			s.BestCost = e.Cost
		}
	}
	return summaries
}
