package domain

import (
	"time"
)

// Decision is the categorical outcome of a fraud assessment.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReview  Decision = "REVIEW"
	DecisionDecline Decision = "DECLINE"
)

// RiskFactor is a named, weighted signal with a triggered state that
// contributed to the rule-based component of the fraud score.
type RiskFactor struct {
	Factor    string  `json:"factor"`
	Weight    float64 `json:"weight"`
	Triggered bool    `json:"triggered"`
	Detail    string  `json:"detail,omitempty"`
}

// ComponentScores holds the three independent sub-scores fused into the
// final fraud score. SequenceScore is nil when the sequence model produced
// no score this run (model unavailable or timed out).
type ComponentScores struct {
	SequenceScore *float64 `json:"sequenceScore"`
	RuleScore     float64  `json:"ruleScore"`
	VelocityScore float64  `json:"velocityScore"`
}

// FraudAssessment is the engine output: one per transaction, immutable
// once produced, consumed by persistence and notification collaborators.
type FraudAssessment struct {
	AssessmentID  string `json:"assessmentId"`
	TransactionID string `json:"transactionId"`

	FraudScore      float64  `json:"fraudScore"`
	Decision        Decision `json:"decision"`
	ConfidenceLevel float64  `json:"confidenceLevel"`

	RiskFactors     []RiskFactor    `json:"riskFactors"`
	ComponentScores ComponentScores `json:"componentScores"`

	ModelVersion string    `json:"modelVersion"`
	ProcessedAt  time.Time `json:"processedAt"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata records per-stage processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	RulesMs       int64  `json:"rulesMs"`
	SequenceMs    int64  `json:"sequenceMs"`
	VelocityMs    int64  `json:"velocityMs"`
	TotalMs       int64  `json:"totalMs"`
	RulesActive   int    `json:"rulesActive"`
	EngineVersion string `json:"engineVersion"`
}

// Health is the readiness signal exposed to the caller's health endpoint.
type Health struct {
	SequenceModelLoaded bool `json:"sequenceModelLoaded"`
	RulesActiveCount    int  `json:"rulesActiveCount"`
}
