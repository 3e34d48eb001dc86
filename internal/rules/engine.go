// Package rules evaluates the configured fraud rule set against a
// transaction and its context.
//
// Rules are strongly-typed variants validated and compiled at config-load
// time. Triggered rule weights combine via probabilistic OR:
//
//	rule_score = 1 - Π(1 - w_i)  over triggered rules
//
// which is commutative, associative, bounded by 1.0, and monotone: adding a
// triggered rule never decreases the score, multiple weak signals compound,
// and a single strongly-weighted rule dominates. The formula is fixed for
// reproducibility.
package rules

import (
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// VelocityContext carries the precomputed velocity signal into rule
// evaluation. The velocity analyzer is consulted exactly once per
// assessment; its output feeds both the velocity_check rule and the fusion
// stage so the two never disagree.
type VelocityContext struct {
	Count  int
	MinGap time.Duration
	Score  float64
}

// predicate is a pure function of transaction + context. Implementations
// must not mutate their inputs.
type predicate func(tx *domain.Transaction, vctx VelocityContext) bool

type compiledRule struct {
	spec domain.RuleSpec
	eval predicate
}

// Engine holds a compiled rule set. Engines are immutable after
// construction; hot reload builds a fresh engine from the new config
// snapshot and swaps it atomically at the orchestrator level.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles the active rules from a scoring config. Inactive rules
// are skipped entirely and never appear in risk factors. A malformed rule
// (bad CEL expression, unknown kind) fails construction with a ConfigError.
func NewEngine(cfg *domain.ScoringConfig) (*Engine, error) {
	errs := &domain.ConfigError{}
	e := &Engine{}

	for _, spec := range cfg.Rules {
		if !spec.Active {
			continue
		}

		var eval predicate
		var err error

		switch spec.Kind {
		case domain.RuleHighAmount, domain.RuleVeryHighAmount:
			threshold := spec.Params.Threshold
			eval = func(tx *domain.Transaction, _ VelocityContext) bool {
				return tx.Amount >= threshold
			}
		case domain.RuleRoundAmount:
			amounts := spec.Params.Amounts
			eval = func(tx *domain.Transaction, _ VelocityContext) bool {
				for _, a := range amounts {
					if tx.Amount == a {
						return true
					}
				}
				return false
			}
		case domain.RuleRiskyMerchant:
			categories := lowered(spec.Params.Categories)
			eval = func(tx *domain.Transaction, _ VelocityContext) bool {
				merchant := strings.ToLower(tx.MerchantID)
				for _, c := range categories {
					if strings.Contains(merchant, c) {
						return true
					}
				}
				return false
			}
		case domain.RuleUnusualTime:
			start, end := spec.Params.StartHour, spec.Params.EndHour
			eval = func(tx *domain.Transaction, _ VelocityContext) bool {
				hour := tx.Timestamp.UTC().Hour()
				if start > end { // window spans midnight
					return hour >= start || hour <= end
				}
				return hour >= start && hour <= end
			}
		case domain.RuleVelocityCheck:
			maxTx := spec.Params.MaxTransactions
			eval = func(_ *domain.Transaction, vctx VelocityContext) bool {
				return vctx.Count > maxTx
			}
		case domain.RuleLocationAnomaly:
			countries := make(map[string]bool, len(spec.Params.Countries))
			for _, c := range spec.Params.Countries {
				countries[strings.ToUpper(c)] = true
			}
			eval = func(tx *domain.Transaction, _ VelocityContext) bool {
				return tx.Country != "" && countries[strings.ToUpper(tx.Country)]
			}
		case domain.RuleExpression:
			eval, err = compileExpression(spec.Params.Expression)
			if err != nil {
				errs.Add("rule %q: %v", spec.Name, err)
				continue
			}
		default:
			errs.Add("rule %q: unknown kind %q", spec.Name, spec.Kind)
			continue
		}

		e.rules = append(e.rules, compiledRule{spec: spec, eval: eval})
	}

	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return e, nil
}

// ActiveCount returns the number of compiled rules.
func (e *Engine) ActiveCount() int {
	return len(e.rules)
}

// Evaluate runs every compiled rule against the transaction and returns the
// aggregated rule score plus the ordered risk-factor breakdown. Evaluation
// is a pure function of transaction + context; a rule that panics is
// treated as not triggered and logged, never allowed to abort the
// assessment.
func (e *Engine) Evaluate(tx *domain.Transaction, vctx VelocityContext) (float64, []domain.RiskFactor) {
	factors := make([]domain.RiskFactor, 0, len(e.rules))
	survival := 1.0

	for _, r := range e.rules {
		triggered := safeEval(r, tx, vctx)

		factors = append(factors, domain.RiskFactor{
			Factor:    r.spec.Name,
			Weight:    r.spec.Weight,
			Triggered: triggered,
			Detail:    r.spec.Description,
		})
		if triggered {
			survival *= 1.0 - r.spec.Weight
		}
	}

	return 1.0 - survival, factors
}

func safeEval(r compiledRule, tx *domain.Transaction, vctx VelocityContext) (triggered bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("rule evaluation panicked",
				"rule", r.spec.Name,
				"tx_id", tx.TransactionID,
				"panic", p,
			)
			triggered = false
		}
	}()
	return r.eval(tx, vctx)
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
