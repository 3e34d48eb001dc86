package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// assessmentCacheTTL bounds the idempotency fast path. The repository
// remains the durable dedupe record after expiry.
const assessmentCacheTTL = 24 * time.Hour

// Pipeline wraps the engine with persistence and event fan-out. The HTTP
// handler and the async worker share it, so a transaction follows the same
// path regardless of how it arrived.
type Pipeline struct {
	engine *Engine
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
}

// NewPipeline wires the engine to its collaborators. Repository, cache,
// and bus are each optional; a nil collaborator skips that stage.
func NewPipeline(e *Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus) *Pipeline {
	return &Pipeline{engine: e, repo: repo, cache: cache, bus: bus}
}

// Engine returns the wrapped engine, for health and config endpoints.
func (p *Pipeline) Engine() *Engine {
	return p.engine
}

// Process scores a transaction and carries the result through persistence
// and event publication. Persistence failures are logged but do not void
// the assessment: the caller still gets a decision.
func (p *Pipeline) Process(ctx context.Context, tx *domain.Transaction) (*domain.FraudAssessment, error) {
	assessment, err := p.engine.Assess(ctx, tx)
	if err != nil {
		return nil, err
	}

	if p.repo != nil {
		if err := p.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.TransactionID, "error", err)
		}
		if err := p.repo.SaveAssessment(ctx, assessment); err != nil {
			slog.Error("failed to save assessment", "tx_id", tx.TransactionID, "error", err)
		}
	}

	if p.cache != nil {
		if err := p.cache.SetAssessment(ctx, tx.TransactionID, assessment, assessmentCacheTTL); err != nil {
			slog.Debug("assessment cache write failed", "tx_id", tx.TransactionID, "error", err)
		}
	}

	p.publish(ctx, assessment)

	return assessment, nil
}

func (p *Pipeline) publish(ctx context.Context, assessment *domain.FraudAssessment) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(assessment)
	if err != nil {
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicAssessmentCompleted, payload); err != nil {
		slog.Error("failed to publish assessment",
			"tx_id", assessment.TransactionID,
			"error", err,
		)
	}

	if assessment.Decision == domain.DecisionDecline {
		if err := p.bus.Publish(ctx, domain.TopicAssessmentAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", assessment.TransactionID,
				"error", err,
			)
		}
	}
}
