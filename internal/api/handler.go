package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/engine"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *engine.Pipeline
	repo     domain.Repository
	cache    domain.Cache
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(pipeline *engine.Pipeline, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		pipeline: pipeline,
		repo:     repo,
		cache:    cache,
		version:  version,
	}
}

// AssessResponse is the response for POST /assess.
type AssessResponse struct {
	*domain.FraudAssessment
	TraceID string `json:"traceId,omitempty"`
}

// Assess handles POST /assess: synchronous transaction scoring.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := req.ToTransaction()

	assessment, err := h.pipeline.Process(ctx, tx)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransaction):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrAllComponentsUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "no scoring component available",
			})
		default:
			slog.Error("assessment failed",
				"tx_id", tx.TransactionID,
				"trace_id", traceID,
				"error", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "assessment failed",
			})
		}
		return
	}

	slog.Debug("assess request served",
		"tx_id", tx.TransactionID,
		"trace_id", traceID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, AssessResponse{
		FraudAssessment: assessment,
		TraceID:         traceID,
	})
}

// GetAssessment retrieves an assessment by its ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assessmentID := chi.URLParam(r, "id")

	if assessmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	assessment, err := h.repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetConfig returns the active scoring configuration snapshot.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Engine().Store().Current())
}

// ReloadConfig handles POST /config/reload. With a JSON body, the body is
// the candidate config; with an empty body, the backing file is re-read. A
// rejected candidate leaves the active config untouched and returns the
// validation problems.
func (h *Handler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	store := h.pipeline.Engine().Store()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	if len(body) == 0 {
		err = store.ReloadFromFile()
	} else {
		cfg := domain.DefaultScoringConfig()
		if jsonErr := json.Unmarshal(body, cfg); jsonErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
		err = store.Reload(cfg)
	}

	if err != nil {
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "scoring config rejected",
				"problems": cfgErr.Problems,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "reloaded",
		"version": store.Current().Version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	health := h.pipeline.Engine().Health()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              status,
		"version":             h.version,
		"sequenceModelLoaded": health.SequenceModelLoaded,
		"rulesActive":         health.RulesActiveCount,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
