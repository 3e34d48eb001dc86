package domain

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestWeightsNormalized(t *testing.T) {
	cases := []struct {
		name string
		in   Weights
		want Weights
	}{
		{"AlreadyNormal", Weights{0.6, 0.3, 0.1}, Weights{0.6, 0.3, 0.1}},
		{"Drifted", Weights{0.6, 0.3, 0.3}, Weights{0.5, 0.25, 0.25}},
		{"TwoComponents", Weights{0, 0.3, 0.1}, Weights{0, 0.75, 0.25}},
		{"AllZero", Weights{0, 0, 0}, Weights{0, 0, 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Normalized()
			if math.Abs(got.Alpha-tc.want.Alpha) > 1e-9 ||
				math.Abs(got.Beta-tc.want.Beta) > 1e-9 ||
				math.Abs(got.Gamma-tc.want.Gamma) > 1e-9 {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}

			if sum := got.Alpha + got.Beta + got.Gamma; sum > 0 && math.Abs(sum-1.0) > 1e-9 {
				t.Errorf("normalized weights sum to %f", sum)
			}
		})
	}
}

func TestScoringConfigValidate(t *testing.T) {
	t.Run("DefaultIsValid", func(t *testing.T) {
		if err := DefaultScoringConfig().Validate(); err != nil {
			t.Errorf("default config invalid: %v", err)
		}
	})

	cases := []struct {
		name    string
		mutate  func(*ScoringConfig)
		problem string
	}{
		{"NegativeWeight", func(c *ScoringConfig) { c.Weights.Alpha = -0.1 }, "non-negative"},
		{"AllZeroWeights", func(c *ScoringConfig) { c.Weights = Weights{} }, "all be zero"},
		{"ThresholdOutOfRange", func(c *ScoringConfig) { c.Thresholds.DeclineAtOrAbove = 1.5 }, "[0,1]"},
		{"ThresholdsInverted", func(c *ScoringConfig) {
			c.Thresholds.ApproveBelow = 0.9
			c.Thresholds.DeclineAtOrAbove = 0.5
		}, "exceeds"},
		{"BadVelocity", func(c *ScoringConfig) { c.Velocity.MaxTransactions = 0 }, "maxTransactions"},
		{"BadSequenceLength", func(c *ScoringConfig) { c.Sequence.Length = 0 }, "sequence.length"},
		{"BadTimeout", func(c *ScoringConfig) { c.ComponentTimeoutMs = 0 }, "componentTimeoutMs"},
		{"RuleWeightOutOfRange", func(c *ScoringConfig) { c.Rules[0].Weight = 1.5 }, "outside [0,1]"},
		{"DuplicateRuleName", func(c *ScoringConfig) { c.Rules[1].Name = c.Rules[0].Name }, "duplicate"},
		{"MissingThreshold", func(c *ScoringConfig) { c.Rules[0].Params.Threshold = 0 }, "threshold"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultScoringConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if !strings.Contains(err.Error(), tc.problem) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.problem)
			}
		})
	}

	t.Run("CollectsAllProblems", func(t *testing.T) {
		cfg := DefaultScoringConfig()
		cfg.Weights.Alpha = -1
		cfg.Sequence.Length = 0
		cfg.ComponentTimeoutMs = 0

		err := cfg.Validate()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected *ConfigError, got %T", err)
		}
		if len(cfgErr.Problems) < 3 {
			t.Errorf("expected at least 3 problems, got %d: %v", len(cfgErr.Problems), cfgErr.Problems)
		}
	})
}

func TestConfigError(t *testing.T) {
	e := &ConfigError{}
	if e.OrNil() != nil {
		t.Error("empty ConfigError should be nil")
	}

	e.Add("problem %d", 1)
	e.Add("problem %d", 2)
	if e.OrNil() == nil {
		t.Error("non-empty ConfigError should not be nil")
	}
	if !strings.Contains(e.Error(), "problem 1; problem 2") {
		t.Errorf("unexpected message: %s", e.Error())
	}
}
