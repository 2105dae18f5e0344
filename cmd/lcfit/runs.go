package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/jhs/lcfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
	showTrace     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored fit runs",
	Long:  `Manage stored fit runs including listing, inspecting and cleaning old runs.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	Long:  `Display all runs with metadata including run ID, timestamp, iterations, cost, and disk usage.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var deleteRunCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete one run and its trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs based on retention policy.
You can specify how many runs to keep or delete runs older than N days.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(deleteRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	showRunCmd.Flags().BoolVar(&showTrace, "trace", false, "Also print the optimizer trace")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openStore(ctx context.Context) (store.Store, error) {
	runs, err := store.NewStore(ctx, storeKind, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create run store: %w", err)
	}
	return runs, nil
}

// out returns the command's writer, falling back to stdout for direct calls
func out(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

func runListRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	runs, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer runs.Close()

	infos, err := runs.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out(cmd), "No runs found.")
		return nil
	}

	// Display runs in a table
	w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tINPUT\tSAMPLES\tITERATIONS\tCOST\tSIZE")
	fmt.Fprintln(w, "------\t-------\t-----\t-------\t----------\t----\t----")

	for _, info := range infos {
		size, err := getDirSize(store.RunDir(dataDir, info.ID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6g\t%s\n",
			shortID(info.ID),
			info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			filepath.Base(info.Input),
			info.Samples,
			info.Iterations,
			info.Cost,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out(cmd), "\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	runs, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer runs.Close()

	run, err := runs.LoadRun(ctx, args[0])
	if err != nil {
		return err
	}

	w := out(cmd)
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "Input: %s\n", run.Input)
	fmt.Fprintf(w, "Created: %s\n", run.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Global optimizer: %s\n", run.Config.Global)
	fmt.Fprintf(w, "  Seed: %d\n", run.Config.Seed)
	fmt.Fprintf(w, "  Networks: %d x %v (%s)\n", run.Config.NumNetworks, run.Config.HiddenLayers, run.Config.OutputType)
	fmt.Fprintf(w, "  Angular: %t\n", run.Config.Angular)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Result:")
	fmt.Fprintf(w, "  Global cost: %.6g\n", run.Stage1Cost)
	fmt.Fprintf(w, "  Final cost: %.6g\n", run.Cost)
	fmt.Fprintf(w, "  Orbit radius: %.4g\n", run.OrbitRadius)
	fmt.Fprintf(w, "  Peak fraction: %.4g\n", run.PeakFraction)
	fmt.Fprintf(w, "  Iterations: %d\n", run.Iterations)
	fmt.Fprintf(w, "  Duration: %s\n", time.Duration(run.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "  Parameters: %d\n", len(run.Params))

	if !showTrace {
		return nil
	}

	entries, err := store.ReadTrace(dataDir, run.ID)
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tREPORTS\tIMPROVED\tLAST ITERATION\tFIRST COST\tBEST COST")
	for _, s := range store.SummarizeTrace(entries) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.6g\t%.6g\n",
			s.Stage, s.Reports, s.Improvements, s.LastIter, s.FirstCost, s.BestCost)
	}
	return tw.Flush()
}

func runDeleteRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	runs, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer runs.Close()

	if err := runs.DeleteRun(ctx, args[0]); err != nil {
		return err
	}
	slog.Info("Deleted run", "run_id", args[0])
	fmt.Fprintf(out(cmd), "Deleted run %s\n", args[0])
	return nil
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	// Validate flags
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	ctx := context.Background()
	runs, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer runs.Close()

	infos, err := runs.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out(cmd), "No runs to clean.")
		return nil
	}

	olderThan := time.Duration(olderThanDays) * 24 * time.Hour
	toDelete := store.SelectForDeletion(infos, keepLast, olderThan, time.Now())

	if len(toDelete) == 0 {
		fmt.Fprintln(out(cmd), "No runs match deletion criteria.")
		return nil
	}

	// Show what will be deleted
	fmt.Fprintf(out(cmd), "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out(cmd), "  - %s (cost %.6g, %s)\n",
			shortID(info.ID),
			info.Cost,
			info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}

	// Ask for confirmation unless --force is set
	if !forceClean {
		fmt.Fprint(out(cmd), "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out(cmd), "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := runs.DeleteRun(ctx, info.ID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted run", "run_id", info.ID)
			deleted++
		}
	}

	fmt.Fprintf(out(cmd), "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// shortID truncates a run ID for display
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
