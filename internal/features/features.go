// Package features turns transactions into the fixed-shape numeric vectors
// and sequence windows consumed by the sequence scorer.
package features

import (
	"encoding/binary"
	"hash/fnv"
	"net"

	"github.com/opensource-finance/merlin/internal/domain"
)

// VectorSize is the fixed feature-vector width expected by the model.
const VectorSize = 50

// Vector derives the feature vector for a single transaction. The encoding
// is fully deterministic: categorical values hash through FNV-1a so the
// same input always produces the same vector, process to process.
func Vector(tx *domain.Transaction) []float64 {
	v := make([]float64, 0, VectorSize)

	ts := tx.Timestamp.UTC()

	// Basic transaction features
	v = append(v,
		tx.Amount,
		float64(tx.UserID),
		encodeCategorical(tx.PaymentMethod),
		encodeCategorical(tx.MerchantID),
		encodeCategorical(tx.Currency),
	)

	// Temporal features
	v = append(v,
		float64(ts.Hour()),
		float64(ts.Weekday()),
		float64(ts.Day()),
		float64(ts.Month()),
	)

	// Device and network features
	v = append(v,
		encodeCategorical(tx.DeviceFingerprint),
		encodeIP(tx.IPAddress),
		encodeCategorical(tx.Country),
	)

	// Zero-pad to the fixed width.
	for len(v) < VectorSize {
		v = append(v, 0)
	}
	return v[:VectorSize]
}

// encodeCategorical maps a string onto [0,1) via FNV-1a. Empty values map
// to 0 so absent context stays neutral.
func encodeCategorical(value string) float64 {
	if value == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(value))
	return float64(h.Sum32()%1000) / 1000.0
}

// encodeIP maps an IPv4 address onto [0,1). Unparseable or missing
// addresses map to 0.
func encodeIP(addr string) float64 {
	if addr == "" {
		return 0
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return float64(binary.BigEndian.Uint32(v4)) / float64(1<<32)
}

// PadSequence returns a window of exactly length vectors ending with the
// most recent entries of seq, zero-padded at the front when history is
// shorter than the window.
func PadSequence(seq [][]float64, length int) [][]float64 {
	if len(seq) > length {
		seq = seq[len(seq)-length:]
	}
	if len(seq) == length {
		return seq
	}

	padded := make([][]float64, 0, length)
	for i := len(seq); i < length; i++ {
		padded = append(padded, make([]float64, VectorSize))
	}
	return append(padded, seq...)
}
