// Package model wraps the pretrained sequence model behind a stable
// inference contract. The fusion stage never sees the architecture: it gets
// a probability or an unavailable signal, nothing else.
package model

import (
	"errors"
)

// ErrUnavailable signals that no model is loaded. The fusion stage responds
// by redistributing the sequence component's weight across the remaining
// components, never by substituting a zero score.
var ErrUnavailable = errors.New("sequence model unavailable")

// SequenceModel scores a fixed-length sequence of feature vectors.
// Implementations must be deterministic: the same artifact and the same
// input always produce the same score, with no randomness at inference.
type SequenceModel interface {
	// Score returns a fraud probability in [0,1] for the sequence.
	Score(sequence [][]float64) (float64, error)

	// Version identifies the loaded artifact.
	Version() string
}
