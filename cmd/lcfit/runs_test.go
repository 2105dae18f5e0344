package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jhs/lcfit/internal/store"
	"github.com/spf13/cobra"
)

// useDataDir points the run commands at dir for the duration of the test
func useDataDir(t *testing.T, dir, kind string) {
	t.Helper()
	originalDir, originalKind := dataDir, storeKind
	dataDir, storeKind = dir, kind
	t.Cleanup(func() { dataDir, storeKind = originalDir, originalKind })
}

func saveTestRun(t *testing.T, dir, id string, created time.Time) {
	t.Helper()
	runs, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	run := &store.Run{
		ID:         id,
		Input:      "curves/transit.csv",
		CreatedAt:  created,
		Params:     []float64{1, 2, 3},
		Cost:       0.5,
		Iterations: 10,
		Timestamps: []float64{0, 1},
		Observed:   []float64{1, 0.9},
		Modeled:    []float64{1, 0.92},
		Config:     store.RunConfig{Global: "circuit", NumNetworks: 2, HiddenLayers: []int{3}},
	}
	if err := runs.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
}

// captured returns a command whose output goes to buf
func captured(buf *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	return cmd
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("Hello, World!")
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}

	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("Expected abc, got %s", got)
	}
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("Expected truncated ID, got %s", got)
	}
}

func TestRunsListCommand_NoRuns(t *testing.T) {
	useDataDir(t, t.TempDir(), store.BackendFS)

	var buf bytes.Buffer
	if err := runListRuns(captured(&buf), nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), "No runs found.") {
		t.Errorf("Unexpected output: %s", buf.String())
	}
}

func TestRunsListCommand_WithRuns(t *testing.T) {
	tmpDir := t.TempDir()
	saveTestRun(t, tmpDir, "test-run-id", time.Now())
	useDataDir(t, tmpDir, store.BackendFS)

	var buf bytes.Buffer
	if err := runListRuns(captured(&buf), nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "test-run-id") || !strings.Contains(output, "transit.csv") {
		t.Errorf("Expected run row in output, got:\n%s", output)
	}
	if !strings.Contains(output, "Total runs: 1") {
		t.Errorf("Expected total in output, got:\n%s", output)
	}
}

func TestRunsShowCommand(t *testing.T) {
	tmpDir := t.TempDir()
	saveTestRun(t, tmpDir, "show-me", time.Now())
	useDataDir(t, tmpDir, store.BackendFS)

	writer, err := store.NewTraceWriter(tmpDir, "show-me", false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	writer.Record("consolidation", 4, 0.5)
	writer.Close()

	showTrace = true
	defer func() { showTrace = false }()

	var buf bytes.Buffer
	if err := runShowRun(captured(&buf), []string{"show-me"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	output := buf.String()
	for _, want := range []string{"Run: show-me", "Global optimizer: circuit", "Final cost: 0.5", "consolidation"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, output)
		}
	}

	if err := runShowRun(captured(&buf), []string{"missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunsDeleteCommand(t *testing.T) {
	tmpDir := t.TempDir()
	saveTestRun(t, tmpDir, "doomed", time.Now())
	useDataDir(t, tmpDir, store.BackendFS)

	var buf bytes.Buffer
	if err := runDeleteRun(captured(&buf), []string{"doomed"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := os.Stat(store.RunDir(tmpDir, "doomed")); !os.IsNotExist(err) {
		t.Error("Run directory still exists after delete")
	}

	if err := runDeleteRun(captured(&buf), []string{"doomed"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for second delete, got %v", err)
	}
}

func TestRunsCleanCommand_NoFlags(t *testing.T) {
	useDataDir(t, t.TempDir(), store.BackendFS)

	keepLast = 0
	olderThanDays = 0

	if err := runCleanRuns(nil, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestRunsCleanCommand_WithForce(t *testing.T) {
	tmpDir := t.TempDir()
	saveTestRun(t, tmpDir, "old-run", time.Now().AddDate(0, 0, -30))
	saveTestRun(t, tmpDir, "new-run", time.Now())
	useDataDir(t, tmpDir, store.BackendFS)

	olderThanDays = 7
	forceClean = true
	defer func() {
		olderThanDays = 0
		forceClean = false
	}()

	var buf bytes.Buffer
	if err := runCleanRuns(captured(&buf), nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), "Deleted 1 run(s), 0 failed.") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}

	if _, err := os.Stat(store.RunDir(tmpDir, "old-run")); !os.IsNotExist(err) {
		t.Error("Old run should be deleted")
	}
	if _, err := os.Stat(store.RunDir(tmpDir, "new-run")); err != nil {
		t.Error("New run should be kept")
	}
}
