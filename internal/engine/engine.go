// Package engine orchestrates a fraud assessment: it fans a transaction out
// to the rule engine, sequence scorer, and velocity analyzer, fuses the
// component scores under the configured weights, and produces the one
// immutable FraudAssessment per transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/merlin/internal/config"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/features"
	"github.com/opensource-finance/merlin/internal/metrics"
	"github.com/opensource-finance/merlin/internal/model"
	"github.com/opensource-finance/merlin/internal/rules"
	"github.com/opensource-finance/merlin/internal/velocity"
)

// EngineVersion tags assessments with the fusion implementation revision.
const EngineVersion = "merlin-1.0"

var tracer = otel.Tracer("merlin-engine")

// modelSlot wraps the SequenceModel interface so it can live behind an
// atomic pointer. A nil slot value means no model is loaded.
type modelSlot struct {
	m model.SequenceModel
}

// Engine is the fraud-scoring orchestrator. One Engine serves many
// concurrent assessments; all shared state is either immutable snapshots
// (config, compiled rules, model) or internally synchronized (velocity
// windows).
type Engine struct {
	store     *config.Store
	ruleset   atomic.Pointer[rules.Engine]
	seqModel  atomic.Pointer[modelSlot]
	analyzer  *velocity.Analyzer
	extractor *features.Extractor

	repo  domain.Repository
	cache domain.Cache
}

// New builds an engine from a config store and its collaborators. The
// initial rule set is compiled eagerly; a compile failure is a startup
// error. The sequence model is loaded from the configured artifact path
// when present — a missing or unloadable model is not fatal, the sequence
// component simply reports unavailable.
func New(store *config.Store, repo domain.Repository, cache domain.Cache) (*Engine, error) {
	e := &Engine{
		store:     store,
		analyzer:  velocity.NewAnalyzer(),
		extractor: features.NewExtractor(repo, cache),
		repo:      repo,
		cache:     cache,
	}

	cfg := store.Current()
	ruleset, err := rules.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	e.ruleset.Store(ruleset)
	e.seqModel.Store(&modelSlot{})

	if cfg.Sequence.ModelPath != "" {
		e.loadModel(cfg.Sequence.ModelPath)
	}

	// Reloads must be rejected atomically: the rule set compiles as part
	// of validation, so a half-valid config never replaces a good one.
	store.SetValidator(func(next *domain.ScoringConfig) error {
		_, err := rules.NewEngine(next)
		return err
	})
	store.OnChange(e.applyConfig)

	return e, nil
}

// loadModel swaps in the artifact at path. On failure the previous model
// (possibly none) stays active.
func (e *Engine) loadModel(path string) {
	m, err := model.Load(path)
	if err != nil {
		slog.Warn("sequence model not loaded, scoring with rules and velocity only",
			"path", path,
			"error", err,
		)
		return
	}
	e.seqModel.Store(&modelSlot{m: m})
	slog.Info("sequence model loaded", "path", path, "version", m.Version())
}

// applyConfig rebuilds derived state after a successful config reload.
func (e *Engine) applyConfig(cfg *domain.ScoringConfig) {
	ruleset, err := rules.NewEngine(cfg)
	if err != nil {
		// Unreachable: the store validator compiled this same config.
		slog.Error("rule set rebuild failed after reload", "error", err)
		return
	}
	e.ruleset.Store(ruleset)

	if path := cfg.Sequence.ModelPath; path != "" {
		e.loadModel(path)
	}
}

// Store returns the scoring config store, for admin reload endpoints.
func (e *Engine) Store() *config.Store {
	return e.store
}

// Health reports the readiness signal for the caller's health endpoint.
func (e *Engine) Health() domain.Health {
	return domain.Health{
		SequenceModelLoaded: e.seqModel.Load().m != nil,
		RulesActiveCount:    e.ruleset.Load().ActiveCount(),
	}
}

// WarmVelocity seeds the velocity windows from historical transactions,
// typically on cold start or restart.
func (e *Engine) WarmVelocity(txs []*domain.Transaction) {
	e.analyzer.Warm(txs, e.store.Current().Velocity)
	metrics.VelocityWindows.Set(float64(e.analyzer.WindowCount()))
}

// componentResult is the join-point record for one scoring component.
type componentResult struct {
	score     float64
	available bool
	elapsed   time.Duration
}

// Assess produces the fraud assessment for a transaction.
//
// Exactly one assessment ever exists per transaction ID: a repeat of an
// already-assessed transaction returns the stored assessment unchanged.
// Within one call, the velocity analyzer is consulted first (it mutates the
// shared windows), then rule evaluation and sequence scoring run in
// parallel; fusion joins all three. Every component runs under the
// configured budget and degrades to unavailable instead of blocking the
// assessment. Persistence of the result is the caller's responsibility.
func (e *Engine) Assess(ctx context.Context, tx *domain.Transaction) (*domain.FraudAssessment, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "engine.assess")
	defer span.End()
	span.SetAttributes(attribute.String("tx.id", tx.TransactionID))

	if err := tx.Validate(); err != nil {
		metrics.AssessmentsRejected.Inc()
		return nil, err
	}

	if prior := e.priorAssessment(ctx, tx.TransactionID); prior != nil {
		return prior, nil
	}

	cfg := e.store.Current()
	budget := time.Duration(cfg.ComponentTimeoutMs) * time.Millisecond

	// Stage 1: velocity. Observed once so the velocity_check rule and the
	// fusion stage share a single consistent reading.
	velStart := time.Now()
	vobs, velErr := runComponent(ctx, budget, func(context.Context) (velocity.Observation, error) {
		return e.analyzer.Observe(tx, cfg.Velocity), nil
	})
	vel := componentResult{score: vobs.Score, available: velErr == nil, elapsed: time.Since(velStart)}
	if velErr != nil {
		e.noteUnavailable("velocity", velErr, tx.TransactionID)
	}
	metrics.VelocityWindows.Set(float64(e.analyzer.WindowCount()))

	// Stage 2: rules and sequence scoring in parallel.
	vctx := rules.VelocityContext{Count: vobs.Count, MinGap: vobs.MinGap, Score: vobs.Score}
	ruleset := e.ruleset.Load()

	type ruleOutcome struct {
		score   float64
		factors []domain.RiskFactor
	}

	ruleCh := make(chan componentResult, 1)
	factorsCh := make(chan []domain.RiskFactor, 1)
	go func() {
		t0 := time.Now()
		out, err := runComponent(ctx, budget, func(context.Context) (ruleOutcome, error) {
			score, factors := ruleset.Evaluate(tx, vctx)
			return ruleOutcome{score: score, factors: factors}, nil
		})
		if err != nil {
			e.noteUnavailable("rules", err, tx.TransactionID)
		}
		factorsCh <- out.factors
		ruleCh <- componentResult{score: out.score, available: err == nil, elapsed: time.Since(t0)}
	}()

	seqCh := make(chan componentResult, 1)
	go func() {
		t0 := time.Now()
		score, err := runComponent(ctx, budget, func(ctx context.Context) (float64, error) {
			return e.scoreSequence(ctx, tx, cfg)
		})
		if err != nil {
			e.noteUnavailable("sequence", err, tx.TransactionID)
		}
		seqCh <- componentResult{score: score, available: err == nil, elapsed: time.Since(t0)}
	}()

	ruleFactors := <-factorsCh
	rule := <-ruleCh
	seq := <-seqCh

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	assessment, err := e.fuse(cfg, tx, seq, rule, vel, vobs, ruleFactors)
	if err != nil {
		return nil, err
	}

	assessment.Metadata = domain.AssessmentMetadata{
		RulesMs:       rule.elapsed.Milliseconds(),
		SequenceMs:    seq.elapsed.Milliseconds(),
		VelocityMs:    vel.elapsed.Milliseconds(),
		TotalMs:       time.Since(start).Milliseconds(),
		RulesActive:   ruleset.ActiveCount(),
		EngineVersion: EngineVersion,
	}

	metrics.AssessmentsTotal.WithLabelValues(string(assessment.Decision)).Inc()
	metrics.AssessmentDuration.Observe(float64(time.Since(start).Milliseconds()))

	slog.Info("transaction assessed",
		"tx_id", tx.TransactionID,
		"decision", assessment.Decision,
		"fraud_score", assessment.FraudScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return assessment, nil
}

// fuse combines the component scores into the final assessment. This is the
// only place a FraudAssessment is constructed.
//
// The configured weights are renormalized over the components that produced
// a real score this run, so a missing component's weight is redistributed
// instead of dragging the fused score toward zero. Confidence is
// clamp(1 - 2*sigma, 0, 1), where sigma is the population standard
// deviation of the available scores: 1.0 when components agree exactly,
// falling monotonically as they diverge (sigma is at most 0.5 for values in
// [0,1], hence the factor 2).
func (e *Engine) fuse(
	cfg *domain.ScoringConfig,
	tx *domain.Transaction,
	seq, rule, vel componentResult,
	vobs velocity.Observation,
	ruleFactors []domain.RiskFactor,
) (*domain.FraudAssessment, error) {
	w := cfg.Weights.Normalized()

	type weighted struct {
		weight float64
		result componentResult
	}
	components := []weighted{
		{w.Alpha, seq},
		{w.Beta, rule},
		{w.Gamma, vel},
	}

	var availableWeight float64
	var scores []float64
	for _, c := range components {
		if c.result.available {
			availableWeight += c.weight
			scores = append(scores, c.result.score)
		}
	}
	if len(scores) == 0 || availableWeight <= 0 {
		return nil, fmt.Errorf("%w: tx %s", domain.ErrAllComponentsUnavailable, tx.TransactionID)
	}

	var fraudScore float64
	for _, c := range components {
		if c.result.available {
			fraudScore += (c.weight / availableWeight) * c.result.score
		}
	}
	fraudScore = clamp01(fraudScore)

	var decision domain.Decision
	switch {
	case fraudScore < cfg.Thresholds.ApproveBelow:
		decision = domain.DecisionApprove
	case fraudScore < cfg.Thresholds.DeclineAtOrAbove:
		decision = domain.DecisionReview
	default:
		decision = domain.DecisionDecline
	}

	confidence := clamp01(1.0 - 2.0*stdDev(scores))

	factors := e.buildFactors(cfg, seq, vobs, ruleFactors)

	var seqScore *float64
	if seq.available {
		s := round4(seq.score)
		seqScore = &s
	}

	return &domain.FraudAssessment{
		AssessmentID:    uuid.New().String(),
		TransactionID:   tx.TransactionID,
		FraudScore:      round4(fraudScore),
		Decision:        decision,
		ConfidenceLevel: round4(confidence),
		RiskFactors:     factors,
		ComponentScores: domain.ComponentScores{
			SequenceScore: seqScore,
			RuleScore:     round4(rule.score),
			VelocityScore: round4(vel.score),
		},
		ModelVersion: e.modelVersion(cfg),
		ProcessedAt:  time.Now().UTC(),
	}, nil
}

// buildFactors assembles the ordered risk-factor breakdown: the sequence
// signal first, then rule factors, then the velocity burst signal.
func (e *Engine) buildFactors(
	cfg *domain.ScoringConfig,
	seq componentResult,
	vobs velocity.Observation,
	ruleFactors []domain.RiskFactor,
) []domain.RiskFactor {
	factors := make([]domain.RiskFactor, 0, len(ruleFactors)+2)

	if seq.available && seq.score > 0.5 {
		factors = append(factors, domain.RiskFactor{
			Factor:    "sequence_model",
			Weight:    round4(seq.score),
			Triggered: true,
		})
	}

	factors = append(factors, ruleFactors...)

	if vobs.Count > cfg.Velocity.MaxTransactions {
		factors = append(factors, domain.RiskFactor{
			Factor:    "high_frequency",
			Weight:    round4(vobs.Score),
			Triggered: true,
			Detail:    fmt.Sprintf("%d transactions in burst window", vobs.Count),
		})
	}

	return factors
}

// scoreSequence builds the feature window and runs the model, or reports
// unavailable when no model is loaded.
func (e *Engine) scoreSequence(ctx context.Context, tx *domain.Transaction, cfg *domain.ScoringConfig) (float64, error) {
	slot := e.seqModel.Load()
	if slot.m == nil {
		return 0, model.ErrUnavailable
	}

	seq := e.extractor.BuildSequence(ctx, tx, cfg.Sequence.Length)
	score, err := slot.m.Score(seq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrComponentUnavailable, err)
	}
	return score, nil
}

// priorAssessment returns a previously produced assessment for the
// transaction, if any. Cache first, then repository.
func (e *Engine) priorAssessment(ctx context.Context, txID string) *domain.FraudAssessment {
	if e.cache != nil {
		if a, err := e.cache.GetAssessment(ctx, txID); err == nil && a != nil {
			return a
		}
	}
	if e.repo != nil {
		if a, err := e.repo.GetAssessmentByTransaction(ctx, txID); err == nil && a != nil {
			return a
		}
	}
	return nil
}

// modelVersion stamps the config + model combination used for this run.
func (e *Engine) modelVersion(cfg *domain.ScoringConfig) string {
	if m := e.seqModel.Load().m; m != nil {
		return cfg.Version + "+" + m.Version()
	}
	return cfg.Version + "+rule_based"
}

func (e *Engine) noteUnavailable(component string, err error, txID string) {
	cause := "unavailable"
	logFn := slog.Debug
	if isTimeout(err) {
		cause = "timeout"
		logFn = slog.Warn
	}
	metrics.ComponentUnavailable.WithLabelValues(component, cause).Inc()
	logFn("scoring component produced no score",
		"component", component,
		"cause", cause,
		"tx_id", txID,
		"error", err,
	)
}

func isTimeout(err error) bool {
	return errors.Is(err, domain.ErrComponentTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// runComponent executes fn under the per-component budget. Cancellation of
// the parent context propagates; a budget overrun degrades the component
// with ErrComponentTimeout rather than blocking the assessment. The
// goroutine observes ctx and exits on its own — no scoring work leaks past
// a cancelled request.
func runComponent[T any](ctx context.Context, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, domain.ErrComponentTimeout
		}
		return zero, ctx.Err()
	}
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
