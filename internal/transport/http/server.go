package httpx

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"

	"github.com/bcrosbie/evalboard/internal/access"
	"github.com/bcrosbie/evalboard/internal/chart"
	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/rpccontract"
	"github.com/bcrosbie/evalboard/internal/series"
	"github.com/bcrosbie/evalboard/internal/service"
)

const maxBodyBytes = 1 << 20

type server struct {
	evals      *service.EvalService
	charts     *chart.Table
	authorizer *access.Authorizer
}

// NewServer wires the dashboard page and the JSON/PNG API. A nil or empty
// authorizer lets every request through.
func NewServer(addr string, evals *service.EvalService, charts *chart.Table, authorizer *access.Authorizer) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(evals, charts, authorizer),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewHandler(evals *service.EvalService, charts *chart.Table, authorizer *access.Authorizer) http.Handler {
	s := &server{evals: evals, charts: charts, authorizer: authorizer}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(dashboardPageHTML))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, evals.Health())
	})
	mux.HandleFunc("GET /v1/identity_eval", s.guard(false, s.handleEvalData))
	mux.HandleFunc("POST /v1/identity_eval", s.guard(true, s.handleRecordResult))
	mux.HandleFunc("GET /v1/eval_models", s.guard(false, s.handleListModels))
	mux.HandleFunc("POST /v1/eval_models/set", s.guard(true, s.handleSetModels))
	mux.HandleFunc("GET /api/summary", s.guard(false, s.handleSummary))
	mux.HandleFunc("GET /api/datasets", s.guard(false, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, domain.Catalog())
	}))
	mux.HandleFunc("GET /api/series", s.guard(false, s.handleSeries))
	mux.HandleFunc("GET /api/charts/{model}", s.guard(false, s.handleChart))
	mux.HandleFunc("DELETE /api/charts/{model}", s.guard(true, s.handleReleaseChart))

	return logRequests(mux)
}

func (s *server) guard(write bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := access.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get(rpccontract.TokenHeader))
		}
		if _, err := s.authorizer.Authorize(token, write); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

func (s *server) handleEvalData(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	data, err := s.evals.GetEvalData(r.Context(), service.EvalDataRequest{
		ModelID:    query.Get("model_id"),
		DatasetKey: query.Get("dataset_key"),
		From:       query.Get("from"),
		To:         query.Get("to"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *server) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var request service.RecordResultRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		writeError(w, domain.InvalidArgument("body must be a JSON eval result object"))
		return
	}
	recorded, err := s.evals.RecordResult(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": recorded})
}

func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.evals.ListEvalModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": models})
}

func (s *server) handleSetModels(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	models, err := s.evals.SetEvalModelsJSON(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "eval model selections updated",
		"data":    models,
	})
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.evals.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleSeries(w http.ResponseWriter, r *http.Request) {
	result, err := s.seriesFor(r, r.URL.Query().Get("model"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleChart(w http.ResponseWriter, r *http.Request) {
	model := strings.TrimSpace(r.PathValue("model"))
	result, err := s.seriesFor(r, model)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(result.Series) == 0 || len(result.Dates) == 0 {
		writeError(w, domain.NotFound("no evaluation data for model "+model))
		return
	}
	handle, err := s.charts.Acquire(model)
	if err != nil {
		writeError(w, domain.Unavailable("chart renderer is shut down", err))
		return
	}

	var buf bytes.Buffer
	if err := handle.Render(result, &buf); err != nil {
		switch {
		case errors.Is(err, chart.ErrNoData):
			s.charts.Release(model)
			writeError(w, domain.NotFound("no evaluation data for model "+model))
		case errors.Is(err, chart.ErrReleased):
			writeError(w, domain.Conflict("chart for model "+model+" was released during rendering"))
		default:
			writeError(w, domain.Internal("render chart", err))
		}
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *server) handleReleaseChart(w http.ResponseWriter, r *http.Request) {
	model := strings.TrimSpace(r.PathValue("model"))
	if !s.charts.Release(model) {
		writeError(w, domain.NotFound("no chart handle for model "+model))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "chart released"})
}

func (s *server) seriesFor(r *http.Request, model string) (series.Result, error) {
	return s.evals.Series(r.Context(), service.SeriesRequest{
		ModelID:    model,
		DatasetKey: r.URL.Query().Get("dataset"),
	})
}

func readBody(r *http.Request) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, domain.InvalidArgumentCause("request body could not be read", err)
	}
	if len(payload) > maxBodyBytes {
		return nil, domain.InvalidArgument("request body is too large")
	}
	return payload, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Error("http json encode error")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	if appError, ok := domain.AsAppError(err); ok {
		status = httpStatus(appError.Code)
		message = appError.Message
		if appError.Code == domain.CodeInvalidArgument && appError.Cause != nil {
			message = appError.Message + ": " + appError.Cause.Error()
		}
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("http request failed")
	}
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func httpStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case domain.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("http request")
	})
}
