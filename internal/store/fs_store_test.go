package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

func checkpointFor(runID string) *Checkpoint {
	c := validCheckpoint()
	c.RunID = runID
	return c
}

func TestSaveCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveCheckpoint("run-save", checkpointFor("run-save")); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	path := filepath.Join(tempDir, "runs", "run-save", "checkpoint.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected checkpoint file at %s: %v", path, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file left behind after save")
	}
}

func TestSaveCheckpoint_InvalidArguments(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveCheckpoint("", checkpointFor("x")); err == nil {
		t.Error("Expected error for empty runID")
	}
	if err := store.SaveCheckpoint("run", nil); err == nil {
		t.Error("Expected error for nil checkpoint")
	}
}

func TestSaveCheckpoint_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	first := checkpointFor("run-overwrite")
	first.Iteration = 10
	second := checkpointFor("run-overwrite")
	second.Iteration = 20

	if err := store.SaveCheckpoint("run-overwrite", first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.SaveCheckpoint("run-overwrite", second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint("run-overwrite")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.Iteration != 20 {
		t.Errorf("Expected iteration 20, got %d", loaded.Iteration)
	}
}

func TestLoadCheckpoint(t *testing.T) {
	store, _ := setupTestStore(t)
	original := checkpointFor("run-load")

	if err := store.SaveCheckpoint("run-load", original); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint("run-load")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.RunID != original.RunID {
		t.Errorf("Expected run ID %s, got %s", original.RunID, loaded.RunID)
	}
	if len(loaded.Elites) != len(original.Elites) {
		t.Fatalf("Expected %d elites, got %d", len(original.Elites), len(loaded.Elites))
	}
	for i, e := range loaded.Elites {
		if e.Objective != original.Elites[i].Objective {
			t.Errorf("Elite %d: expected objective %f, got %f", i, original.Elites[i].Objective, e.Objective)
		}
	}
	if err := loaded.IsCompatible(original.Config); err != nil {
		t.Errorf("Expected loaded config to be compatible, got %v", err)
	}
}

func TestLoadCheckpoint_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadCheckpoint("missing-run")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %T: %v", err, err)
	}
	if _, err := store.LoadCheckpoint(""); err == nil {
		t.Error("Expected error for empty runID")
	}
}

func TestLoadCheckpoint_Corrupted(t *testing.T) {
	store, tempDir := setupTestStore(t)

	dir := filepath.Join(tempDir, "runs", "broken")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create run dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupted checkpoint: %v", err)
	}

	_, err := store.LoadCheckpoint("broken")
	if err == nil {
		t.Fatal("Expected error for corrupted checkpoint")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("Corrupted checkpoint should not report ErrNotFound")
	}
}

func TestListCheckpoints(t *testing.T) {
	store, tempDir := setupTestStore(t)

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected no checkpoints, got %d", len(infos))
	}

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.SaveCheckpoint(id, checkpointFor(id)); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	// A directory without a checkpoint and a stray file are skipped
	if err := os.MkdirAll(filepath.Join(tempDir, "runs", "empty-run"), 0755); err != nil {
		t.Fatalf("Failed to create empty run dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "runs", "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write stray file: %v", err)
	}

	infos, err = store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 checkpoints, got %d", len(infos))
	}
	found := make(map[string]bool)
	for _, info := range infos {
		found[info.RunID] = true
	}
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if !found[id] {
			t.Errorf("Run %s not found in list", id)
		}
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveCheckpoint("run-delete", checkpointFor("run-delete")); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	writeTrace(t, tempDir, "run-delete", false, TraceEntry{Iteration: 1})

	if err := store.DeleteCheckpoint("run-delete"); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "runs", "run-delete")); !os.IsNotExist(err) {
		t.Error("Run directory still exists after delete")
	}
	if _, err := store.LoadCheckpoint("run-delete"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteCheckpoint("run-delete"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.DeleteCheckpoint(""); err == nil {
		t.Error("Expected error for empty runID")
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const numRuns = 10
	var wg sync.WaitGroup
	for i := 0; i < numRuns; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := fmt.Sprintf("concurrent-run-%d", idx)
			if err := store.SaveCheckpoint(id, checkpointFor(id)); err != nil {
				t.Errorf("Concurrent save failed for %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != numRuns {
		t.Errorf("Expected %d checkpoints, got %d", numRuns, len(infos))
	}
}
