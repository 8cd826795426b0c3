package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/metrics"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/policy"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/registry"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/trainer"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Scorer scores one parsed request. *scoring.Engine implements it.
type Scorer interface {
	ScoreRequest(ctx context.Context, req *domain.ScoreRequest) domain.ScoringResult
}

// Dependencies are the collaborators of the API. Only Scorer and
// Registry are required.
type Dependencies struct {
	Scorer   Scorer
	Registry *registry.Registry
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Policy   *policy.Policy
	Breaker  domain.BreakerConfig
	Training domain.TrainingConfig
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer   Scorer
	registry *registry.Registry
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	policy   *policy.Policy
	breaker  *gobreaker.CircuitBreaker
	training domain.TrainingConfig
	metrics  *metrics.Metrics
	version  string

	// the registry allows a single writer
	trainMu sync.Mutex
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		scorer:   deps.Scorer,
		registry: deps.Registry,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		policy:   deps.Policy,
		breaker:  newBreaker(deps.Breaker),
		training: deps.Training,
		metrics:  deps.Metrics,
		version:  deps.Version,
	}
}

// newBreaker trips after FailureThreshold consecutive server-side
// scoring failures. It returns nil when disabled.
func newBreaker(cfg domain.BreakerConfig) *gobreaker.CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scoring",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// serverFault reports whether a failed result was caused by the
// service rather than the request.
func serverFault(err error) bool {
	var lerr *domain.LoadError
	var cerr *domain.ScoringComputeError
	return errors.As(err, &lerr) || errors.As(err, &cerr)
}

// Score handles POST /score. The body is a bare transaction or a
// {transaction, model_type, model_version} wrapper.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read request body"))
		return
	}
	req, err := domain.ParseScoreRequest(body)
	if err != nil {
		status := http.StatusBadRequest
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, errorBody(err.Error()))
		return
	}

	res, err := h.score(ctx, req)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("scoring temporarily unavailable: "+err.Error()))
		return
	}

	if res.Failed() {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}

	w.Header().Set(ModelTypeHeader, string(res.ModelType))
	w.Header().Set(ModelVersionHeader, res.ModelVersion)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) score(ctx context.Context, req *domain.ScoreRequest) (domain.ScoringResult, error) {
	if h.breaker == nil {
		return h.scorer.ScoreRequest(ctx, req), nil
	}

	var res domain.ScoringResult
	_, err := h.breaker.Execute(func() (interface{}, error) {
		res = h.scorer.ScoreRequest(ctx, req)
		if res.Failed() && serverFault(res.Err) {
			return nil, res.Err
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.ScoringResult{}, err
	}
	return res, nil
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	resp := map[string]string{
		"status":  status,
		"version": h.version,
	}
	if current, err := h.registry.Current(r.Context()); err == nil {
		resp["model_version"] = current
	}
	if h.breaker != nil {
		resp["breaker"] = h.breaker.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether every configured backend answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventbus", h.bus.Ping)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// GetScore retrieves an audited score by ID.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	res, err := h.repo.GetScore(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("score not found"))
		return
	}
	if err != nil {
		slog.Error("failed to get score", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to get score"))
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListScores returns the most recent audited scores.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	scores, err := h.repo.ListScores(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list scores", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list scores"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scores": scores,
		"count":  len(scores),
	})
}

// ListModels returns every saved version, newest first.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.List(r.Context())
	if err != nil {
		slog.Error("failed to list model versions", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list model versions"))
		return
	}
	if versions == nil {
		versions = []registry.VersionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// VersionRequest is the body of PUT /models/current.
type VersionRequest struct {
	Version string `json:"version"`
}

// GetCurrent returns the version the current alias points to.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	current, err := h.registry.Current(r.Context())
	if errors.Is(err, domain.ErrAliasNotSet) {
		writeJSON(w, http.StatusNotFound, errorBody("no current model version"))
		return
	}
	if err != nil {
		slog.Error("failed to read current alias", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to read current alias"))
		return
	}
	writeJSON(w, http.StatusOK, VersionRequest{Version: current})
}

// SetCurrent promotes an existing version.
func (h *Handler) SetCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VersionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return
	}

	h.trainMu.Lock()
	err := h.registry.SetCurrent(ctx, req.Version)
	h.trainMu.Unlock()

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		return
	case err != nil:
		slog.Error("failed to promote version", "version", req.Version, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to promote version"))
		return
	}

	h.publish(ctx, domain.TopicModelPromoted, req)
	writeJSON(w, http.StatusOK, req)
}

// TrainRequest is the optional body of POST /models/train.
type TrainRequest struct {
	Version     string             `json:"version,omitempty"`
	ModelTypes  []domain.ModelType `json:"model_types,omitempty"`
	SkipPromote bool               `json:"skip_promote,omitempty"`
	Samples     int                `json:"samples,omitempty"`
	Seed        *uint64            `json:"seed,omitempty"`
}

// Train trains models synchronously and publishes them as a version.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TrainRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read request body"))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
			return
		}
	}

	cfg := h.training
	if req.Samples > 0 {
		cfg.Samples = req.Samples
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	kinds := make([]domain.ModelType, 0, len(req.ModelTypes))
	for _, k := range req.ModelTypes {
		kind, err := domain.ParseModelType(string(k))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		kinds = append(kinds, kind)
	}

	h.trainMu.Lock()
	defer h.trainMu.Unlock()

	summary, err := trainer.Publish(ctx, h.registry, cfg, trainer.PublishOptions{
		Version:     req.Version,
		Kinds:       kinds,
		SkipPromote: req.SkipPromote,
		Metrics:     h.metrics,
		Bus:         h.bus,
	})
	switch {
	case errors.Is(err, domain.ErrVersionExists):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		return
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	case err != nil:
		slog.Error("training failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

// PolicyRequest is the body of PUT /policy.
type PolicyRequest struct {
	Expression string `json:"expression"`
}

// GetPolicy returns the active decision expression.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policy == nil {
		writeJSON(w, http.StatusOK, PolicyRequest{Expression: domain.DefaultPolicy})
		return
	}
	writeJSON(w, http.StatusOK, PolicyRequest{Expression: h.policy.Expression()})
}

// UpdatePolicy compiles and installs a new decision expression.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policy == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("decision policy not configured"))
		return
	}

	var req PolicyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return
	}
	if err := h.policy.Reload(req.Expression); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	slog.Info("decision policy updated", "expression", h.policy.Expression())
	writeJSON(w, http.StatusOK, PolicyRequest{Expression: h.policy.Expression()})
}

func (h *Handler) publish(ctx context.Context, topic string, v any) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
