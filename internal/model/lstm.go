package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LSTMLayer holds the weights of one recurrent layer. Gate weights are
// concatenated in input/forget/cell/output order, matching the layout the
// training pipeline exports.
type LSTMLayer struct {
	Units int `json:"units"`

	// WInput is [inputSize][4*Units]: input-to-gate weights.
	WInput [][]float64 `json:"wInput"`

	// WRecurrent is [Units][4*Units]: hidden-to-gate weights.
	WRecurrent [][]float64 `json:"wRecurrent"`

	// Bias is [4*Units].
	Bias []float64 `json:"bias"`
}

// DenseHead is the final sigmoid projection from the last hidden state.
type DenseHead struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LSTMModel is a stacked-LSTM fraud scorer loaded from a JSON weight
// artifact. The production artifact stacks 128/64/32-unit layers over
// 50-feature inputs with a single sigmoid output.
type LSTMModel struct {
	ArtifactVersion string      `json:"version"`
	SequenceLength  int         `json:"sequenceLength"`
	InputSize       int         `json:"inputSize"`
	Layers          []LSTMLayer `json:"layers"`
	Output          DenseHead   `json:"output"`
}

// Load reads and validates a model artifact from disk.
func Load(path string) (*LSTMModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact %s: %w", path, err)
	}

	var m LSTMModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return &m, nil
}

// Version implements SequenceModel.
func (m *LSTMModel) Version() string {
	return m.ArtifactVersion
}

// Score runs the forward pass and returns the sigmoid output in [0,1].
// Pure float arithmetic over loaded weights: deterministic by construction.
func (m *LSTMModel) Score(sequence [][]float64) (float64, error) {
	if len(sequence) != m.SequenceLength {
		return 0, fmt.Errorf("sequence length %d, model expects %d", len(sequence), m.SequenceLength)
	}
	for i, v := range sequence {
		if len(v) != m.InputSize {
			return 0, fmt.Errorf("vector %d has %d features, model expects %d", i, len(v), m.InputSize)
		}
	}

	inputs := sequence
	var final []float64
	for li := range m.Layers {
		last := li == len(m.Layers)-1
		outputs := m.Layers[li].forward(inputs, last)
		if last {
			final = outputs[0]
		} else {
			inputs = outputs
		}
	}

	z := m.Output.Bias
	for i, w := range m.Output.Weights {
		z += w * final[i]
	}
	return sigmoid(z), nil
}

// forward runs one layer over the whole sequence. When finalOnly is set,
// only the last hidden state is returned (the stack's top layer feeds the
// dense head); otherwise the full hidden sequence feeds the next layer.
func (l *LSTMLayer) forward(inputs [][]float64, finalOnly bool) [][]float64 {
	n := l.Units
	h := make([]float64, n)
	c := make([]float64, n)

	var outputs [][]float64
	if !finalOnly {
		outputs = make([][]float64, 0, len(inputs))
	}

	gates := make([]float64, 4*n)
	for _, x := range inputs {
		copy(gates, l.Bias)
		for i, xi := range x {
			if xi == 0 {
				continue
			}
			row := l.WInput[i]
			for j := range gates {
				gates[j] += xi * row[j]
			}
		}
		for i, hi := range h {
			if hi == 0 {
				continue
			}
			row := l.WRecurrent[i]
			for j := range gates {
				gates[j] += hi * row[j]
			}
		}

		next := make([]float64, n)
		for j := 0; j < n; j++ {
			in := sigmoid(gates[j])
			forget := sigmoid(gates[n+j])
			cell := math.Tanh(gates[2*n+j])
			out := sigmoid(gates[3*n+j])

			c[j] = forget*c[j] + in*cell
			next[j] = out * math.Tanh(c[j])
		}
		h = next

		if !finalOnly {
			outputs = append(outputs, h)
		}
	}

	if finalOnly {
		return [][]float64{h}
	}
	return outputs
}

func (m *LSTMModel) validate() error {
	if m.SequenceLength <= 0 {
		return fmt.Errorf("sequenceLength must be positive")
	}
	if m.InputSize <= 0 {
		return fmt.Errorf("inputSize must be positive")
	}
	if len(m.Layers) == 0 {
		return fmt.Errorf("at least one layer is required")
	}

	in := m.InputSize
	for i, l := range m.Layers {
		if l.Units <= 0 {
			return fmt.Errorf("layer %d: units must be positive", i)
		}
		if len(l.WInput) != in {
			return fmt.Errorf("layer %d: wInput rows %d, want %d", i, len(l.WInput), in)
		}
		for _, row := range l.WInput {
			if len(row) != 4*l.Units {
				return fmt.Errorf("layer %d: wInput columns %d, want %d", i, len(row), 4*l.Units)
			}
		}
		if len(l.WRecurrent) != l.Units {
			return fmt.Errorf("layer %d: wRecurrent rows %d, want %d", i, len(l.WRecurrent), l.Units)
		}
		for _, row := range l.WRecurrent {
			if len(row) != 4*l.Units {
				return fmt.Errorf("layer %d: wRecurrent columns %d, want %d", i, len(row), 4*l.Units)
			}
		}
		if len(l.Bias) != 4*l.Units {
			return fmt.Errorf("layer %d: bias length %d, want %d", i, len(l.Bias), 4*l.Units)
		}
		in = l.Units
	}

	if len(m.Output.Weights) != in {
		return fmt.Errorf("output weights length %d, want %d", len(m.Output.Weights), in)
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
