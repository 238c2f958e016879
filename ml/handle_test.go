package ml

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
)

func TestModelHandleNotLoaded(t *testing.T) {
	handle := NewModelHandle(filepath.Join(t.TempDir(), "model.json"), 16, nil)

	if err := handle.Load(); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if handle.Loaded() {
		t.Fatalf("handle should be empty")
	}
	if _, err := handle.Classify(context.Background(), "app crash"); !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("expected ErrModelNotLoaded, got %v", err)
	}
	status := handle.Status()
	if status.Loaded || status.ModelVersion != ModelVersion {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestModelHandleEmptyTextChecksFirst(t *testing.T) {
	handle := NewModelHandle("unused.json", 0, nil)
	if _, err := handle.Classify(context.Background(), ""); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestModelHandleClassify(t *testing.T) {
	handle := NewModelHandle("unused.json", 16, nil)
	if err := handle.Install(fitCorpus(t, DefaultPipelineConfig()), ArtifactMetadata{}); err != nil {
		t.Fatalf("install: %v", err)
	}

	prediction, err := handle.Classify(context.Background(), "the app crashes with an error")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if prediction.Category != "bug" {
		t.Fatalf("expected bug, got %s", prediction.Category)
	}
	if prediction.ModelVersion != ModelVersion {
		t.Fatalf("unexpected model version %s", prediction.ModelVersion)
	}
	if prediction.Confidence <= 0 || prediction.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", prediction.Confidence)
	}
	if rounded := math.Round(prediction.Confidence*10000) / 10000; rounded != prediction.Confidence {
		t.Fatalf("confidence not rounded to 4 decimals: %v", prediction.Confidence)
	}
	if prediction.Cached {
		t.Fatalf("first prediction should not be cached")
	}

	again, err := handle.Classify(context.Background(), "the app crashes with an error")
	if err != nil {
		t.Fatalf("classify again: %v", err)
	}
	if !again.Cached || again.Category != prediction.Category || again.Confidence != prediction.Confidence {
		t.Fatalf("expected identical cached prediction, got %+v", again)
	}
	if handle.Status().CacheEntries != 1 {
		t.Fatalf("expected one cache entry, got %d", handle.Status().CacheEntries)
	}
}

func TestModelHandleDecisionTreeDefaultConfidence(t *testing.T) {
	config := DefaultPipelineConfig()
	config.ModelType = ModelTypeDecisionTree
	handle := NewModelHandle("unused.json", 0, nil)
	if err := handle.Install(fitCorpus(t, config), ArtifactMetadata{}); err != nil {
		t.Fatalf("install: %v", err)
	}
	prediction, err := handle.Classify(context.Background(), "app crash")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if prediction.Confidence != DefaultConfidence {
		t.Fatalf("expected default confidence, got %v", prediction.Confidence)
	}
}

func TestModelHandleReloadKeepsModelWhenArtifactMissing(t *testing.T) {
	handle := NewModelHandle(filepath.Join(t.TempDir(), "model.json"), 16, nil)
	if err := handle.Install(fitCorpus(t, DefaultPipelineConfig()), ArtifactMetadata{}); err != nil {
		t.Fatalf("install: %v", err)
	}

	if err := handle.Reload(); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if !handle.Loaded() {
		t.Fatalf("previous model should keep serving")
	}
	if _, err := handle.Classify(context.Background(), "app crash"); err != nil {
		t.Fatalf("classify after failed reload: %v", err)
	}
}

func TestModelHandleReloadSwapsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	handle := NewModelHandle(path, 16, nil)

	var mu sync.Mutex
	var events []HandleStatus
	handle.OnReload(func(status HandleStatus) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, status)
	})

	first := DefaultPipelineConfig()
	first.ModelType = ModelTypeDecisionTree
	if err := handle.Install(fitCorpus(t, first), ArtifactMetadata{}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := handle.Classify(context.Background(), "app crash"); err != nil {
		t.Fatalf("classify: %v", err)
	}

	if err := SaveArtifact(path, fitCorpus(t, DefaultPipelineConfig()), ArtifactMetadata{RunID: "run-2"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := handle.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	status := handle.Status()
	if status.ModelType != ModelTypeLogReg || status.Reloads != 1 {
		t.Fatalf("unexpected status after reload %+v", status)
	}
	if status.CacheEntries != 0 {
		t.Fatalf("reload should start with an empty cache, got %d entries", status.CacheEntries)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].ModelType != ModelTypeLogReg {
		t.Fatalf("expected one reload event, got %+v", events)
	}
}

func TestModelHandleConcurrentClassifyAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveArtifact(path, fitCorpus(t, DefaultPipelineConfig()), ArtifactMetadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	handle := NewModelHandle(path, 4, nil)
	if err := handle.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	texts, _ := issueCorpus()
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, text := range texts {
				if _, err := handle.Classify(context.Background(), text); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		if err := handle.Reload(); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("classify during reload: %v", err)
	}
}

func TestRoundConfidence(t *testing.T) {
	cases := map[float64]float64{
		0.123456: 0.1235,
		1.2:      1,
		-0.1:     0,
		0.5:      0.5,
	}
	for in, want := range cases {
		if got := roundConfidence(in); got != want {
			t.Fatalf("roundConfidence(%v) = %v, want %v", in, got, want)
		}
	}
	if got := roundConfidence(math.NaN()); got != 0 {
		t.Fatalf("roundConfidence(NaN) = %v, want 0", got)
	}
}
