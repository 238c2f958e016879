package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"issuetriage/db"
	"issuetriage/ml"
)

var (
	errInvalidBody = errors.New("request body must be a JSON object")
	errNoHistory   = errors.New("classification history is not configured")
	errBadLimit    = errors.New("limit must be a positive integer")
	errBadID       = errors.New("id must be a positive integer")
)

// errorResponse 错误响应格式
type errorResponse struct {
	Detail string `json:"detail"`
}

// statusFor 把错误映射为状态码和返回给客户端的信息
func statusFor(err error, artifactPath string) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, ml.ErrEmptyText):
		return http.StatusBadRequest, "text is required"
	case errors.Is(err, errInvalidBody), errors.Is(err, errBadLimit), errors.Is(err, errBadID):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, ml.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, "Model not trained yet. Run train_model first."
	case errors.Is(err, ml.ErrModelNotFound):
		return http.StatusNotFound, filepath.Base(artifactPath) + " not found"
	case errors.Is(err, errNoHistory):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, db.ErrClassificationNotFound):
		return http.StatusNotFound, db.ErrClassificationNotFound.Error()
	case errors.Is(err, ml.ErrMalformedArtifact), errors.Is(err, ml.ErrUnsupportedFormat):
		return http.StatusInternalServerError, "model artifact could not be loaded: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// fail 写入错误响应并记录
func (a *api) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status, detail := statusFor(err, a.handle.Path())
	a.metrics.RecordError(endpoint, status)

	fields := []zap.Field{
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("endpoint", endpoint),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", fields...)
	} else {
		a.logger.Debug("request rejected", fields...)
	}
	writeDetail(w, status, detail)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
