package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"
	"golang.org/x/time/rate"

	"github.com/stewmckendry/health-assistant/internal/config"
	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/export/xlsx"
	"github.com/stewmckendry/health-assistant/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxRequestBytes = 1 << 20
)

type Router struct {
	cfg       config.Config
	service   ports.EvidenceService
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
}

func NewRouter(cfg config.Config, service ports.EvidenceService, httpMetrics *metrics.HTTPServerMetrics) *Router {
	validator, err := loadRequestValidator()
	if err != nil {
		panic(err)
	}
	return &Router{
		cfg:       cfg,
		service:   service,
		metrics:   httpMetrics,
		validator: validator,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/answer", rt.answer)
	api.HandleFunc("/v1/answer/export", rt.exportAnswer)
	api.HandleFunc("/v1/classify", rt.classify)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/openapi.yaml", rt.openAPI)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", rt.trafficControl(api))

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) trafficControl(next http.Handler) http.Handler {
	onReject := func(reason string) {
		if rt.metrics != nil {
			rt.metrics.RecordRejected(serviceName, reason)
		}
	}
	handler := backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIInFlightWait, onReject)
	if rt.cfg.APIRateLimitRPS > 0 {
		burst := rt.cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		handler = rateLimitMiddleware(handler, rate.NewLimiter(rate.Limit(rt.cfg.APIRateLimitRPS), burst), onReject)
	}
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = io.WriteString(w, strings.TrimLeft(openAPIDocument, "\n"))
}

type answerRequest struct {
	Query          string             `json:"query"`
	Identifiers    []string           `json:"identifiers,omitempty"`
	Filters        map[string]string  `json:"filters,omitempty"`
	TopK           int                `json:"top_k,omitempty"`
	CriticalFields []string           `json:"critical_fields,omitempty"`
	ExtraFactors   map[string]float64 `json:"extra_factors,omitempty"`

	RelationalTimeoutMS int `json:"relational_timeout_ms,omitempty"`
	SemanticTimeoutMS   int `json:"semantic_timeout_ms,omitempty"`
}

func (req answerRequest) query() domain.Query {
	return domain.Query{
		Text:    req.Query,
		Hints:   domain.Hints{Identifiers: req.Identifiers},
		Filters: req.Filters,
	}
}

func (req answerRequest) options() domain.AnswerOptions {
	return domain.AnswerOptions{
		TopK:           req.TopK,
		CriticalFields: req.CriticalFields,
		ExtraFactors:   req.ExtraFactors,

		RelationalTimeout: time.Duration(req.RelationalTimeoutMS) * time.Millisecond,
		SemanticTimeout:   time.Duration(req.SemanticTimeoutMS) * time.Millisecond,
	}
}

func (rt *Router) decodeAnswerRequest(w http.ResponseWriter, r *http.Request) (answerRequest, error) {
	var req answerRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "read answer request", err)
	}
	if err := rt.validator.validateAnswer(body); err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "decode answer request", err)
	}
	return req, nil
}

func (rt *Router) runAnswer(w http.ResponseWriter, r *http.Request) (answerRequest, *domain.Response, error) {
	req, err := rt.decodeAnswerRequest(w, r)
	if err != nil {
		return req, nil, err
	}
	resp, err := rt.service.Answer(r.Context(), req.query(), req.options())
	if err != nil {
		return req, nil, err
	}
	return req, resp, nil
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	_, resp, err := rt.runAnswer(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) exportAnswer(w http.ResponseWriter, r *http.Request) {
	if !rt.cfg.APIExportEnabled {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "export is disabled"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	req, resp, err := rt.runAnswer(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := xlsx.Write(&buf, req.Query, resp); err != nil {
		writeError(w, r, fmt.Errorf("export workbook: %w", err))
		return
	}
	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="evidence.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type classifyParams struct {
	Q          *string
	Identifier *[]string
}

func (rt *Router) classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var params classifyParams
	values := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "q", values, &params.Q); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind q", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "identifier", values, &params.Identifier); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind identifier", err))
		return
	}

	query := domain.Query{}
	if params.Q != nil {
		query.Text = *params.Q
	}
	if params.Identifier != nil {
		query.Hints.Identifiers = *params.Identifier
	}
	if err := query.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.service.Classify(query))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		status = http.StatusRequestEntityTooLarge
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  errorKind(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
