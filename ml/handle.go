package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// ModelVersion is reported with every prediction. It names the pipeline
	// family, not a particular artifact.
	ModelVersion = "tfidf-logreg-v1"

	// DefaultConfidence is reported when the estimator has no probabilities.
	DefaultConfidence = 0.5

	DefaultCacheSize = 1024
)

var (
	ErrModelNotLoaded = errors.New("model not trained yet; run train_model first")
	ErrEmptyText      = errors.New("text is required")
)

// Prediction is the result of classifying one text.
type Prediction struct {
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
	Cached       bool    `json:"-"`
}

// HandleStatus describes the currently served model.
type HandleStatus struct {
	Loaded       bool      `json:"model_loaded"`
	ModelVersion string    `json:"model_version"`
	Path         string    `json:"artifact_path"`
	ModelType    string    `json:"model_type,omitempty"`
	Classes      []string  `json:"classes,omitempty"`
	TrainedAt    time.Time `json:"trained_at,omitempty"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`
	Reloads      int64     `json:"reloads"`
	CacheEntries int       `json:"cache_entries"`
}

// snapshot is one loaded artifact plus the predictions cached for it.
// Snapshots are immutable once published.
type snapshot struct {
	pipeline *Pipeline
	meta     ArtifactMetadata
	cache    *lru.Cache[string, Prediction]
	loadedAt time.Time
}

// ModelHandle owns the served model. Readers load the current snapshot
// without locking; Load, Reload and Install are serialized and publish a new
// snapshot atomically.
type ModelHandle struct {
	path      string
	cacheSize int
	logger    *zap.Logger

	reloadMu sync.Mutex
	current  atomic.Pointer[snapshot]
	reloads  atomic.Int64

	listenersMu sync.RWMutex
	listeners   []func(HandleStatus)
}

func NewModelHandle(path string, cacheSize int, logger *zap.Logger) *ModelHandle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandle{
		path:      path,
		cacheSize: cacheSize,
		logger:    logger.Named("model"),
	}
}

func (h *ModelHandle) Path() string {
	return h.path
}

// OnReload registers fn to run after every successful reload.
func (h *ModelHandle) OnReload(fn func(HandleStatus)) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Load reads the artifact at startup. A missing artifact leaves the handle
// empty and returns an error wrapping ErrModelNotFound.
func (h *ModelHandle) Load() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	snap, err := h.read()
	if err != nil {
		return err
	}
	h.current.Store(snap)
	h.logger.Info("model loaded",
		zap.String("path", h.path),
		zap.String("model_type", snap.meta.ModelType),
		zap.Strings("classes", snap.pipeline.Labels()))
	return nil
}

// Reload re-reads the artifact and swaps it in. On any error the previously
// loaded model, if any, keeps serving.
func (h *ModelHandle) Reload() error {
	h.reloadMu.Lock()
	snap, err := h.read()
	if err != nil {
		h.reloadMu.Unlock()
		h.logger.Warn("model reload failed, keeping current model",
			zap.String("path", h.path),
			zap.Bool("model_loaded", h.Loaded()),
			zap.Error(err))
		return err
	}
	h.current.Store(snap)
	h.reloads.Add(1)
	h.reloadMu.Unlock()

	status := h.Status()
	h.logger.Info("model reloaded",
		zap.String("path", h.path),
		zap.String("model_type", status.ModelType),
		zap.Int64("reloads", status.Reloads))
	h.notify(status)
	return nil
}

// Install publishes an in-memory pipeline without touching the artifact file.
func (h *ModelHandle) Install(pipeline *Pipeline, meta ArtifactMetadata) error {
	if pipeline == nil || pipeline.Vectorizer == nil || pipeline.Estimator == nil {
		return errors.New("pipeline not fitted")
	}
	snap, err := h.newSnapshot(pipeline, meta)
	if err != nil {
		return err
	}
	h.reloadMu.Lock()
	h.current.Store(snap)
	h.reloadMu.Unlock()
	return nil
}

func (h *ModelHandle) read() (*snapshot, error) {
	pipeline, meta, err := LoadArtifact(h.path)
	if err != nil {
		return nil, err
	}
	return h.newSnapshot(pipeline, meta)
}

func (h *ModelHandle) newSnapshot(pipeline *Pipeline, meta ArtifactMetadata) (*snapshot, error) {
	snap := &snapshot{pipeline: pipeline, meta: meta, loadedAt: time.Now()}
	if h.cacheSize > 0 {
		cache, err := lru.New[string, Prediction](h.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		snap.cache = cache
	}
	if snap.meta.ModelType == "" {
		snap.meta.ModelType = pipeline.ModelType()
	}
	return snap, nil
}

func (h *ModelHandle) notify(status HandleStatus) {
	h.listenersMu.RLock()
	listeners := slices.Clone(h.listeners)
	h.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(status)
	}
}

func (h *ModelHandle) Loaded() bool {
	return h.current.Load() != nil
}

func (h *ModelHandle) Status() HandleStatus {
	status := HandleStatus{
		ModelVersion: ModelVersion,
		Path:         h.path,
		Reloads:      h.reloads.Load(),
	}
	snap := h.current.Load()
	if snap == nil {
		return status
	}
	status.Loaded = true
	status.ModelType = snap.meta.ModelType
	status.Classes = append([]string(nil), snap.pipeline.Labels()...)
	status.TrainedAt = snap.meta.CreatedAt
	status.LoadedAt = snap.loadedAt
	if snap.cache != nil {
		status.CacheEntries = snap.cache.Len()
	}
	return status
}

// Classify predicts the category of already sanitized text.
func (h *ModelHandle) Classify(ctx context.Context, text string) (Prediction, error) {
	if text == "" {
		return Prediction{}, ErrEmptyText
	}
	snap := h.current.Load()
	if snap == nil {
		return Prediction{}, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	if snap.cache != nil {
		if cached, ok := snap.cache.Get(text); ok {
			cached.Cached = true
			return cached, nil
		}
	}

	prediction := predict(snap.pipeline, text)
	if snap.cache != nil {
		snap.cache.Add(text, prediction)
	}
	return prediction, nil
}

func predict(pipeline *Pipeline, text string) Prediction {
	prediction := Prediction{ModelVersion: ModelVersion}
	if proba, ok := pipeline.PredictProba(text); ok && len(proba) > 0 {
		idx := argmax(proba)
		prediction.Category = pipeline.Labels()[idx]
		prediction.Confidence = roundConfidence(proba[idx])
		return prediction
	}
	prediction.Category = pipeline.Predict(text)
	prediction.Confidence = DefaultConfidence
	return prediction
}

func roundConfidence(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	p = math.Max(0, math.Min(1, p))
	return math.Round(p*10000) / 10000
}
