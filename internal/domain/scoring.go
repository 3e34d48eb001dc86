package domain

import (
	"math"
)

// RuleKind identifies a rule predicate variant. Each kind carries
// strongly-typed parameters validated at config-load time, never at
// evaluation time.
type RuleKind string

const (
	RuleHighAmount      RuleKind = "high_amount"
	RuleRoundAmount     RuleKind = "round_amount"
	RuleVeryHighAmount  RuleKind = "very_high_amount"
	RuleRiskyMerchant   RuleKind = "risky_merchant"
	RuleUnusualTime     RuleKind = "unusual_time"
	RuleVelocityCheck   RuleKind = "velocity_check"
	RuleLocationAnomaly RuleKind = "location_anomaly"

	// RuleExpression is a CEL expression compiled at config load.
	RuleExpression RuleKind = "expression"
)

// RuleParams holds the union of per-kind rule parameters. Only the fields
// relevant to the declared kind are consulted; Validate rejects specs whose
// required parameters are missing or out of range.
type RuleParams struct {
	// high_amount / very_high_amount
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	// round_amount
	Amounts []float64 `json:"amounts,omitempty" yaml:"amounts,omitempty"`

	// risky_merchant: substring matches against the lowercased merchant ID
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`

	// unusual_time: night window, may span midnight
	StartHour int `json:"startHour,omitempty" yaml:"startHour,omitempty"`
	EndHour   int `json:"endHour,omitempty" yaml:"endHour,omitempty"`

	// velocity_check
	MaxTransactions int `json:"maxTransactions,omitempty" yaml:"maxTransactions,omitempty"`
	TimeWindowSecs  int `json:"timeWindowSecs,omitempty" yaml:"timeWindowSecs,omitempty"`

	// location_anomaly: high-risk ISO country codes
	Countries []string `json:"countries,omitempty" yaml:"countries,omitempty"`

	// expression
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// RuleSpec is one rule definition in the scoring configuration.
type RuleSpec struct {
	Name        string     `json:"name" yaml:"name"`
	Kind        RuleKind   `json:"kind" yaml:"kind"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Weight      float64    `json:"weight" yaml:"weight"`
	Active      bool       `json:"active" yaml:"active"`
	Params      RuleParams `json:"params" yaml:"params"`
}

// Weights holds the fusion coefficients for the three scoring components.
// Convention: alpha + beta + gamma = 1.0 within tolerance; the engine
// renormalizes drifted weights rather than rejecting them.
type Weights struct {
	Alpha float64 `json:"alpha" yaml:"alpha"` // sequence model
	Beta  float64 `json:"beta" yaml:"beta"`   // rules
	Gamma float64 `json:"gamma" yaml:"gamma"` // velocity
}

// Normalized returns weights rescaled to sum to exactly 1.0.
func (w Weights) Normalized() Weights {
	sum := w.Alpha + w.Beta + w.Gamma
	if sum <= 0 || math.Abs(sum-1.0) < 1e-12 {
		return w
	}
	return Weights{
		Alpha: w.Alpha / sum,
		Beta:  w.Beta / sum,
		Gamma: w.Gamma / sum,
	}
}

// Thresholds maps the fused score to a decision using half-open intervals:
// score < ApproveBelow is APPROVE, score >= DeclineAtOrAbove is DECLINE,
// everything between is REVIEW.
type Thresholds struct {
	ApproveBelow     float64 `json:"approveBelow" yaml:"approveBelow"`
	DeclineAtOrAbove float64 `json:"declineAtOrAbove" yaml:"declineAtOrAbove"`
}

// VelocityConfig bounds the per-key activity windows.
type VelocityConfig struct {
	// MaxTransactions is the count at which the velocity signal saturates.
	MaxTransactions int `json:"maxTransactions" yaml:"maxTransactions"`

	// TimeWindowSecs is the burst window for inter-arrival analysis.
	TimeWindowSecs int `json:"timeWindowSecs" yaml:"timeWindowSecs"`

	// HorizonSecs is the retention horizon; entries older than this are
	// evicted lazily on next access.
	HorizonSecs int `json:"horizonSecs" yaml:"horizonSecs"`

	// MaxEntries bounds each window by count in addition to age.
	MaxEntries int `json:"maxEntries" yaml:"maxEntries"`
}

// SequenceConfig configures the sequence scorer input window.
type SequenceConfig struct {
	// Length is the number of recent transactions fed to the model.
	Length int `json:"length" yaml:"length"`

	// ModelPath points at the serialized model artifact. Empty means no
	// model: the sequence component reports unavailable and its weight is
	// redistributed.
	ModelPath string `json:"modelPath,omitempty" yaml:"modelPath,omitempty"`
}

// ScoringConfig is the process-wide, hot-reloadable scoring configuration.
// Instances are immutable once published; in-flight assessments always see
// one consistent snapshot end-to-end.
type ScoringConfig struct {
	Version    string         `json:"version" yaml:"version"`
	Weights    Weights        `json:"weights" yaml:"weights"`
	Thresholds Thresholds     `json:"thresholds" yaml:"thresholds"`
	Velocity   VelocityConfig `json:"velocity" yaml:"velocity"`
	Sequence   SequenceConfig `json:"sequence" yaml:"sequence"`

	// ComponentTimeoutMs is the per-component evaluation budget.
	ComponentTimeoutMs int `json:"componentTimeoutMs" yaml:"componentTimeoutMs"`

	Rules []RuleSpec `json:"rules" yaml:"rules"`
}

// DefaultScoringConfig mirrors the canonical rule set and fusion weights
// the engine ships with.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Version: "default-v1",
		Weights: Weights{Alpha: 0.6, Beta: 0.3, Gamma: 0.1},
		Thresholds: Thresholds{
			ApproveBelow:     0.5,
			DeclineAtOrAbove: 0.8,
		},
		Velocity: VelocityConfig{
			MaxTransactions: 5,
			TimeWindowSecs:  300,
			HorizonSecs:     86400,
			MaxEntries:      256,
		},
		Sequence: SequenceConfig{
			Length: 10,
		},
		ComponentTimeoutMs: 50,
		Rules: []RuleSpec{
			{
				Name:        "high_amount",
				Kind:        RuleHighAmount,
				Description: "High transaction amount",
				Weight:      0.6,
				Active:      true,
				Params:      RuleParams{Threshold: 500_000},
			},
			{
				Name:        "round_amount",
				Kind:        RuleRoundAmount,
				Description: "Suspiciously clean amounts",
				Weight:      0.3,
				Active:      true,
				Params:      RuleParams{Amounts: []float64{100_000, 200_000, 500_000, 1_000_000, 2_000_000}},
			},
			{
				Name:        "very_high_amount",
				Kind:        RuleVeryHighAmount,
				Description: "Very high transaction amount",
				Weight:      0.5,
				Active:      true,
				Params:      RuleParams{Threshold: 1_000_000},
			},
			{
				Name:        "risky_merchant",
				Kind:        RuleRiskyMerchant,
				Description: "Risky merchant categories",
				Weight:      0.4,
				Active:      true,
				Params:      RuleParams{Categories: []string{"casino", "gambling", "crypto", "betting"}},
			},
			{
				Name:        "unusual_time",
				Kind:        RuleUnusualTime,
				Description: "Night-window transaction times",
				Weight:      0.2,
				Active:      true,
				Params:      RuleParams{StartHour: 23, EndHour: 6},
			},
			{
				Name:        "velocity_check",
				Kind:        RuleVelocityCheck,
				Description: "Transaction burst detection",
				Weight:      0.7,
				Active:      true,
				Params:      RuleParams{MaxTransactions: 5, TimeWindowSecs: 300},
			},
		},
	}
}

// Validate checks the configuration for structural errors. It returns a
// *ConfigError naming every problem found, or nil.
func (c *ScoringConfig) Validate() error {
	errs := &ConfigError{}

	if c.Weights.Alpha < 0 || c.Weights.Beta < 0 || c.Weights.Gamma < 0 {
		errs.Add("weights must be non-negative")
	}
	if c.Weights.Alpha+c.Weights.Beta+c.Weights.Gamma <= 0 {
		errs.Add("weights must not all be zero")
	}
	if c.Thresholds.ApproveBelow < 0 || c.Thresholds.DeclineAtOrAbove > 1 {
		errs.Add("thresholds must lie in [0,1]")
	}
	if c.Thresholds.ApproveBelow > c.Thresholds.DeclineAtOrAbove {
		errs.Add("approveBelow %.4f exceeds declineAtOrAbove %.4f",
			c.Thresholds.ApproveBelow, c.Thresholds.DeclineAtOrAbove)
	}
	if c.Velocity.MaxTransactions <= 0 {
		errs.Add("velocity.maxTransactions must be positive")
	}
	if c.Velocity.TimeWindowSecs <= 0 {
		errs.Add("velocity.timeWindowSecs must be positive")
	}
	if c.Velocity.HorizonSecs <= 0 {
		errs.Add("velocity.horizonSecs must be positive")
	}
	if c.Sequence.Length <= 0 {
		errs.Add("sequence.length must be positive")
	}
	if c.ComponentTimeoutMs <= 0 {
		errs.Add("componentTimeoutMs must be positive")
	}

	seen := make(map[string]bool, len(c.Rules))
	for i := range c.Rules {
		c.Rules[i].validate(errs, seen)
	}

	return errs.OrNil()
}

func (r *RuleSpec) validate(errs *ConfigError, seen map[string]bool) {
	if r.Name == "" {
		errs.Add("rule with empty name")
		return
	}
	if seen[r.Name] {
		errs.Add("duplicate rule name %q", r.Name)
	}
	seen[r.Name] = true

	if r.Weight < 0 || r.Weight > 1 {
		errs.Add("rule %q: weight %.4f outside [0,1]", r.Name, r.Weight)
	}

	switch r.Kind {
	case RuleHighAmount, RuleVeryHighAmount:
		if r.Params.Threshold <= 0 {
			errs.Add("rule %q: threshold must be positive", r.Name)
		}
	case RuleRoundAmount:
		if len(r.Params.Amounts) == 0 {
			errs.Add("rule %q: amounts list is required", r.Name)
		}
	case RuleRiskyMerchant:
		if len(r.Params.Categories) == 0 {
			errs.Add("rule %q: categories list is required", r.Name)
		}
	case RuleUnusualTime:
		if r.Params.StartHour < 0 || r.Params.StartHour > 23 ||
			r.Params.EndHour < 0 || r.Params.EndHour > 23 {
			errs.Add("rule %q: hours must lie in [0,23]", r.Name)
		}
	case RuleVelocityCheck:
		if r.Params.MaxTransactions <= 0 || r.Params.TimeWindowSecs <= 0 {
			errs.Add("rule %q: maxTransactions and timeWindowSecs must be positive", r.Name)
		}
	case RuleLocationAnomaly:
		if len(r.Params.Countries) == 0 {
			errs.Add("rule %q: countries list is required", r.Name)
		}
	case RuleExpression:
		if r.Params.Expression == "" {
			errs.Add("rule %q: expression is required", r.Name)
		}
	default:
		errs.Add("rule %q: unknown kind %q", r.Name, r.Kind)
	}
}
