package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jhs/lcfit/internal/field"
	"github.com/jhs/lcfit/internal/fit"
	"github.com/jhs/lcfit/internal/lightcurve"
	"github.com/jhs/lcfit/internal/opt"
	"github.com/jhs/lcfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	inputPath   string
	modeledOut  string
	fieldOut    string
	fieldPixels int
	fitSeed     int64
	fitWorkers  int
	fitGlobal   string
	fitAngular  bool
	noSave      bool
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a light curve",
	Long: `Fits the opacity field of a transiting body to a "timestamp,flux" CSV light
curve and stores the result as a run under --data-dir.`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&inputPath, "input", "", "Light curve CSV path (required)")
	fitCmd.Flags().StringVar(&modeledOut, "out", "", "Write the modeled light curve to this CSV path")
	fitCmd.Flags().StringVar(&fieldOut, "field-out", "", "Write the rasterized opacity field to this CSV path")
	fitCmd.Flags().IntVar(&fieldPixels, "field-pixels", 64, "Raster resolution per side for --field-out")
	fitCmd.Flags().Int64Var(&fitSeed, "seed", 0, "Random seed (overrides config)")
	fitCmd.Flags().IntVar(&fitWorkers, "workers", 0, "Parallel evaluations (overrides config)")
	fitCmd.Flags().StringVar(&fitGlobal, "global", "", "Global optimizer: circuit, mayfly (overrides config)")
	fitCmd.Flags().BoolVar(&fitAngular, "angular", false, "Use the exact angular simulator")
	fitCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store the run")

	fitCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(fitCmd)
}

// applyFitFlags overrides config values with explicitly set flags
func applyFitFlags(cmd *cobra.Command, cfg fit.Config) fit.Config {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = fitSeed
	}
	if flags.Changed("workers") {
		cfg.Optimizer.Workers = fitWorkers
	}
	if flags.Changed("global") {
		cfg.Optimizer.Global = fitGlobal
	}
	if flags.Changed("angular") {
		cfg.Geometry.Angular = fitAngular
	}
	return cfg
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = applyFitFlags(cmd, cfg)

	lc, err := readCurve(inputPath)
	if err != nil {
		return err
	}
	slog.Info("Loaded light curve", "path", inputPath, "samples", len(lc))

	fitter, err := fit.NewFitter(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var runs store.Store
	var trace *store.TraceWriter
	runID := store.NewRunID()
	if !noSave {
		runs, err = store.NewStore(ctx, storeKind, dataDir)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer runs.Close()

		trace, err = store.NewTraceWriter(dataDir, runID, false)
		if err != nil {
			return err
		}
		defer trace.Close()
		fitter.Progress = opt.ChainProgress(trace.Record, logProgress)
	} else {
		fitter.Progress = logProgress
	}

	result, err := fitter.Optimize(lc)
	if err != nil {
		if trace != nil {
			trace.Close()
			os.RemoveAll(store.RunDir(dataDir, runID))
		}
		return err
	}

	if modeledOut != "" {
		modeled, err := lightcurve.FromArrays(lc.Timestamps(), result.Solution.ProduceModeledFlux())
		if err != nil {
			return err
		}
		if err := writeCurve(modeledOut, modeled); err != nil {
			return err
		}
	}

	if fieldOut != "" {
		if err := writeField(fieldOut, result.Solution.Field(), fieldPixels); err != nil {
			return err
		}
	}

	if runs != nil {
		run := result.Run(inputPath, cfg, lc)
		run.ID = runID
		if err := runs.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		fmt.Printf("Saved run %s\n", run.ID)
	}

	fmt.Printf("Fitted %s (cost: %.6g -> %.6g, %d iterations, %s)\n",
		inputPath, result.Stage1Cost, result.Cost, result.Iterations, result.Duration.Round(time.Millisecond))
	return nil
}

// logProgress logs every optimizer iteration at debug level
func logProgress(stage string, iteration int, best float64) {
	slog.Debug("Progress", "stage", stage, "iteration", iteration, "best_cost", best)
}

func readCurve(path string) (lightcurve.LightCurve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open light curve: %w", err)
	}
	defer f.Close()

	lc, err := lightcurve.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lc, nil
}

func writeCurve(path string, lc lightcurve.LightCurve) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	if err := lightcurve.WriteCSV(f, lc); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func writeField(path string, f field.Field, pixels int) error {
	if pixels < 1 {
		return fmt.Errorf("field resolution must be positive, got %d", pixels)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create field output: %w", err)
	}
	defer out.Close()

	if err := field.Rasterize(f, pixels, pixels).WriteCSV(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return out.Close()
}
