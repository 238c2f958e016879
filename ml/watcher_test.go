package ml

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestArtifactWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	handle := NewModelHandle(path, 8, nil)

	watcher, err := NewArtifactWatcher(handle, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := SaveArtifact(path, fitCorpus(t, DefaultPipelineConfig()), ArtifactMetadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for handle.Status().Reloads == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("model was not reloaded after the artifact changed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if !handle.Loaded() || handle.Status().Reloads != 1 {
		t.Fatalf("expected a single debounced reload, got %d", handle.Status().Reloads)
	}
}

func TestArtifactWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	handle := NewModelHandle(filepath.Join(dir, "model.json"), 8, nil)
	watcher, err := NewArtifactWatcher(handle, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	if err := SaveArtifact(filepath.Join(dir, "other.json"), fitCorpus(t, DefaultPipelineConfig()), ArtifactMetadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if handle.Loaded() || handle.Status().Reloads != 0 {
		t.Fatalf("unrelated file should not trigger a reload")
	}
}
