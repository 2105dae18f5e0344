package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jhs/lcfit/internal/fit"
	"github.com/jhs/lcfit/internal/lightcurve"
	"github.com/jhs/lcfit/internal/metrics"
	"github.com/jhs/lcfit/internal/opt"
	"github.com/jhs/lcfit/internal/store"
)

// worker runs fit jobs and persists their results
type worker struct {
	jobs     *JobManager
	runs     store.Store
	baseDir  string
	base     fit.Config
	recorder *metrics.Recorder
}

// runJob executes a fit job in the background.
// If runs is not nil the result is saved as a run together with its trace.
func (w *worker) runJob(ctx context.Context, jobID string) error {
	job, exists := w.jobs.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := w.jobs.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "input", job.Config.Input)

	lc, err := loadCurve(job.Config)
	if err != nil {
		markJobFailed(w.jobs, jobID, err)
		return err
	}

	config := job.Config.apply(w.base)
	fitter, err := fit.NewFitter(config)
	if err != nil {
		markJobFailed(w.jobs, jobID, err)
		return err
	}

	// Check for cancellation before starting expensive operation
	select {
	case <-ctx.Done():
		markJobCancelled(w.jobs, jobID)
		return ctx.Err()
	default:
	}

	var trace *store.TraceWriter
	runID := store.NewRunID()
	if w.runs != nil {
		trace, err = store.NewTraceWriter(w.baseDir, runID, false)
		if err != nil {
			slog.Warn("Failed to open trace, continuing without", "job_id", jobID, "error", err)
		} else {
			defer trace.Close()
		}
	}

	progress := []opt.ProgressFunc{func(stage string, iteration int, best float64) {
		w.jobs.UpdateJob(jobID, func(j *Job) {
			j.Stage = stage
			j.BestCost = best
			j.Iterations++
		})
	}}
	if w.recorder != nil {
		progress = append(progress, w.recorder.Observe)
	}
	if trace != nil {
		progress = append(progress, trace.Record)
	}
	fitter.Progress = opt.ChainProgress(progress...)

	start := time.Now()
	progressDone := make(chan struct{})
	go monitorProgress(ctx, w.jobs, jobID, progressDone)

	result, err := fitter.Optimize(lc)
	close(progressDone)
	if w.recorder != nil {
		cost := 0.0
		if result != nil {
			cost = result.Cost
		}
		w.recorder.ObserveFit(time.Since(start), cost, err)
	}
	// discard drops the trace of a fit that will not be saved
	discard := func() {
		if trace != nil {
			trace.Close()
			os.RemoveAll(store.RunDir(w.baseDir, runID))
		}
	}
	if err != nil {
		discard()
		markJobFailed(w.jobs, jobID, err)
		return err
	}

	// Check for cancellation after optimization
	select {
	case <-ctx.Done():
		discard()
		markJobCancelled(w.jobs, jobID)
		return ctx.Err()
	default:
	}

	if w.runs != nil {
		input := job.Config.Input
		if input == "" {
			input = "inline"
		}
		run := result.Run(input, config, lc)
		run.ID = runID
		if err := w.runs.SaveRun(ctx, run); err != nil {
			discard()
			markJobFailed(w.jobs, jobID, fmt.Errorf("failed to save run: %w", err))
			return err
		}
	}

	endTime := time.Now()
	err = w.jobs.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestCost = result.Cost
		j.EndTime = &endTime
		if w.runs != nil {
			j.RunID = runID
		}
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", time.Since(start),
		"stage1_cost", result.Stage1Cost,
		"cost", result.Cost,
	)

	w.jobs.publishFinal(jobID)

	return nil
}

// loadCurve reads the job's light curve from disk or from the inline samples
func loadCurve(config JobConfig) (lightcurve.LightCurve, error) {
	if config.Input == "" {
		return config.inlineCurve()
	}

	f, err := os.Open(config.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to open light curve: %w", err)
	}
	defer f.Close()

	lc, err := lightcurve.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read light curve: %w", err)
	}
	return lc, nil
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(eventFor(job))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	jm.publishFinal(jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	jm.publishFinal(jobID)
}
