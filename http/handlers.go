package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"issuetriage/db"
	"issuetriage/ml"
	"issuetriage/monitoring"
	"issuetriage/pipeline"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Store 分类记录存储，*db.Store 实现了该接口
type Store interface {
	SaveClassification(ctx context.Context, c db.Classification) (int64, error)
	RecentClassifications(ctx context.Context, limit int) ([]db.Classification, error)
	CategoryStats(ctx context.Context) ([]db.CategoryCount, error)
	VerifyClassification(ctx context.Context, id int64) (db.Verification, error)
}

type api struct {
	handle  *ml.ModelHandle
	store   Store
	metrics *monitoring.ClassifierMetrics
	hub     *monitoring.Hub
	logger  *zap.Logger
}

func newAPI(deps Deps) *api {
	a := &api{
		handle:  deps.Handle,
		store:   deps.Store,
		metrics: deps.Metrics,
		hub:     deps.Hub,
		logger:  deps.Logger.Named("api"),
	}
	a.metrics.SetModelLoaded(a.handle.Loaded())

	// HTTP 和文件监听触发的重载都会走到这里
	a.handle.OnReload(func(status ml.HandleStatus) {
		a.metrics.RecordReload(nil)
		a.metrics.SetModelLoaded(status.Loaded)
		if a.hub != nil {
			a.hub.Publish(monitoring.EventModelReloaded, status)
		}
	})
	return a
}

type classifyRequest struct {
	Text string `json:"text"`
}

type healthResponse struct {
	OK           bool   `json:"ok"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelVersion string `json:"model_version"`
}

type reloadResponse struct {
	OK           bool   `json:"ok"`
	Reloaded     bool   `json:"reloaded"`
	ModelVersion string `json:"model_version"`
}

type statsResponse struct {
	Model      ml.HandleStatus            `json:"model"`
	Counters   monitoring.ClassifierStats `json:"counters"`
	Categories []db.CategoryCount         `json:"categories,omitempty"`
	Clients    int                        `json:"ws_clients"`
	System     map[string]interface{}     `json:"system"`
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:           true,
		ModelLoaded:  a.handle.Loaded(),
		ModelVersion: ml.ModelVersion,
	})
}

func (a *api) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, "/classify", err)
		return
	}

	text := pipeline.Sanitize(req.Text)
	start := time.Now()
	prediction, err := a.handle.Classify(r.Context(), text)
	if err != nil {
		a.fail(w, r, "/classify", err)
		return
	}
	a.metrics.RecordClassification(prediction.Category, prediction.Confidence, prediction.Cached, time.Since(start))

	if a.store != nil {
		_, err := a.store.SaveClassification(r.Context(), db.Classification{
			Text:         text,
			Category:     prediction.Category,
			Confidence:   prediction.Confidence,
			ModelVersion: prediction.ModelVersion,
			Cached:       prediction.Cached,
		})
		if err != nil {
			// 记录失败不影响分类结果
			a.logger.Warn("save classification", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Publish(monitoring.EventClassification, monitoring.ClassificationEvent{
			Category:     prediction.Category,
			Confidence:   prediction.Confidence,
			ModelVersion: prediction.ModelVersion,
			Cached:       prediction.Cached,
			TextLength:   utf8.RuneCountInString(text),
		})
	}

	writeJSON(w, http.StatusOK, prediction)
}

func (a *api) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := a.handle.Reload(); err != nil {
		a.metrics.RecordReload(err)
		a.metrics.SetModelLoaded(a.handle.Loaded())
		a.fail(w, r, "/reload", err)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{OK: true, Reloaded: true, ModelVersion: ml.ModelVersion})
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Model:    a.handle.Status(),
		Counters: a.metrics.Stats(),
		System:   a.metrics.Collector().GetSystemStats(),
	}
	if a.hub != nil {
		resp.Clients = a.hub.ClientCount()
	}
	if a.store != nil {
		categories, err := a.store.CategoryStats(r.Context())
		if err != nil {
			a.fail(w, r, "/stats", fmt.Errorf("category stats: %w", err))
			return
		}
		resp.Categories = categories
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleClassifications(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		a.fail(w, r, "/classifications", errNoHistory)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.fail(w, r, "/classifications", errBadLimit)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := a.store.RecentClassifications(r.Context(), limit)
	if err != nil {
		a.fail(w, r, "/classifications", fmt.Errorf("recent classifications: %w", err))
		return
	}
	if records == nil {
		records = []db.Classification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(records),
		"data":  records,
	})
}

// handleVerify 重新计算记录的 data_hash，检查记录是否被改动
func (a *api) handleVerify(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/classifications/{id}/verify"
	if a.store == nil {
		a.fail(w, r, endpoint, errNoHistory)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		a.fail(w, r, endpoint, errBadID)
		return
	}

	verification, err := a.store.VerifyClassification(r.Context(), id)
	if err != nil {
		a.fail(w, r, endpoint, fmt.Errorf("verify classification %d: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

// decodeJSON 解析单个JSON对象，语法错误和类型错误都视为无效请求
func decodeJSON(body io.Reader, v interface{}) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}
