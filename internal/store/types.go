package store

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RunConfig is a snapshot of the settings a run was fitted with.
// It is a copy so the store does not depend on the fit package.
type RunConfig struct {
	Global       string  `json:"global"`
	Seed         int64   `json:"seed"`
	Lambda       float64 `json:"lambda"`
	Angular      bool    `json:"angular"`
	Inclination  float64 `json:"inclination"`
	Period       float64 `json:"period"`
	NumNetworks  int     `json:"numNetworks"`
	HiddenLayers []int   `json:"hiddenLayers,omitempty"`
	OutputType   string  `json:"outputType"`
}

// Run is a persisted fit result
type Run struct {
	// ID is the unique identifier of this run
	ID string `json:"id"`

	// Input is the light curve the run was fitted to (usually a file path)
	Input string `json:"input"`

	CreatedAt time.Time `json:"createdAt"`

	// Params is the final parameter vector
	Params []float64 `json:"params"`

	Stage1Cost   float64 `json:"stage1Cost"`
	Cost         float64 `json:"cost"`
	PeakFraction float64 `json:"peakFraction"`
	OrbitRadius  float64 `json:"orbitRadius"`
	Iterations   int     `json:"iterations"`
	DurationMS   int64   `json:"durationMs"`

	// Timestamps, Observed and Modeled are aligned sample arrays
	Timestamps []float64 `json:"timestamps"`
	Observed   []float64 `json:"observed"`
	Modeled    []float64 `json:"modeled"`

	Config RunConfig `json:"config"`
}

// RunInfo contains run metadata without the sample arrays.
type RunInfo struct {
	ID         string    `json:"id"`
	Input      string    `json:"input"`
	CreatedAt  time.Time `json:"createdAt"`
	Cost       float64   `json:"cost"`
	Iterations int       `json:"iterations"`
	Samples    int       `json:"samples"`
	Global     string    `json:"global"`
}

// NewRunID returns a fresh random run identifier
func NewRunID() string {
	return uuid.New().String()
}

// NewRun creates a run with a fresh ID and the current time.
func NewRun(input string, config RunConfig) *Run {
	return &Run{
		ID:        NewRunID(),
		Input:     input,
		CreatedAt: time.Now().UTC(),
		Config:    config,
	}
}

// ToInfo converts a full Run to RunInfo.
func (r *Run) ToInfo() RunInfo {
	return RunInfo{
		ID:         r.ID,
		Input:      r.Input,
		CreatedAt:  r.CreatedAt,
		Cost:       r.Cost,
		Iterations: r.Iterations,
		Samples:    len(r.Observed),
		Global:     r.Config.Global,
	}
}

// Validate checks if the run has valid data.
func (r *Run) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if len(r.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	for _, p := range r.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return &ValidationError{Field: "Params", Reason: "must be finite"}
		}
	}
	if r.Cost < 0 || math.IsNaN(r.Cost) {
		return &ValidationError{Field: "Cost", Reason: "must be a non-negative number"}
	}
	if r.Iterations < 0 {
		return &ValidationError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if len(r.Observed) != len(r.Timestamps) || len(r.Modeled) != len(r.Timestamps) {
		return &ValidationError{
			Field: "Modeled",
			Reason: fmt.Sprintf("length mismatch: %d timestamps, %d observed, %d modeled",
				len(r.Timestamps), len(r.Observed), len(r.Modeled)),
		}
	}
	return nil
}

// ValidationError represents a run validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// sortNewestFirst orders infos by creation time, newest first
func sortNewestFirst(infos []RunInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
}

// SelectForDeletion applies a retention policy. Runs older than olderThan (when > 0)
// are selected, and beyond that all but the newest keepLast runs (when > 0).
func SelectForDeletion(infos []RunInfo, keepLast int, olderThan time.Duration, now time.Time) []RunInfo {
	selected := map[string]bool{}
	var toDelete []RunInfo

	if olderThan > 0 {
		cutoff := now.Add(-olderThan)
		for _, info := range infos {
			if info.CreatedAt.Before(cutoff) {
				selected[info.ID] = true
				toDelete = append(toDelete, info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := append([]RunInfo(nil), infos...)
		sortNewestFirst(sorted)
		for _, info := range sorted[keepLast:] {
			if !selected[info.ID] {
				selected[info.ID] = true
				toDelete = append(toDelete, info)
			}
		}
	}

	return toDelete
}
