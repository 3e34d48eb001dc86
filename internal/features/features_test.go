package features

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

func sampleTx() *domain.Transaction {
	return &domain.Transaction{
		TransactionID:     "TXN_20250115_feat0001",
		UserID:            42,
		Amount:            50_000,
		Currency:          "NGN",
		MerchantID:        "grocery-store-lagos",
		PaymentMethod:     domain.PaymentMethodCard,
		Timestamp:         time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
		IPAddress:         "196.216.1.10",
		DeviceFingerprint: "device-abc",
		Country:           "NG",
	}
}

func TestVector(t *testing.T) {
	t.Run("FixedWidth", func(t *testing.T) {
		if got := len(Vector(sampleTx())); got != VectorSize {
			t.Fatalf("expected %d features, got %d", VectorSize, got)
		}
		if got := len(Vector(&domain.Transaction{})); got != VectorSize {
			t.Fatalf("empty tx should still yield %d features, got %d", VectorSize, got)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := Vector(sampleTx())
		b := Vector(sampleTx())
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("feature %d diverged: %f vs %f", i, a[i], b[i])
			}
		}
	})

	t.Run("LeadingFeatures", func(t *testing.T) {
		tx := sampleTx()
		v := Vector(tx)

		if v[0] != tx.Amount {
			t.Errorf("expected amount at index 0, got %f", v[0])
		}
		if v[1] != float64(tx.UserID) {
			t.Errorf("expected user ID at index 1, got %f", v[1])
		}
		if v[5] != 14 {
			t.Errorf("expected hour 14 at index 5, got %f", v[5])
		}
	})

	t.Run("CategoricalRange", func(t *testing.T) {
		v := Vector(sampleTx())
		for _, idx := range []int{2, 3, 4, 9, 10, 11} {
			if v[idx] < 0 || v[idx] >= 1 {
				t.Errorf("categorical feature %d out of [0,1): %f", idx, v[idx])
			}
		}
	})

	t.Run("DistinctInputsDiffer", func(t *testing.T) {
		a := Vector(sampleTx())
		tx := sampleTx()
		tx.MerchantID = "other-merchant"
		b := Vector(tx)

		same := true
		for i := range a {
			if a[i] != b[i] {
				same = false
			}
		}
		if same {
			t.Error("different merchants produced identical vectors")
		}
	})
}

func TestPadSequence(t *testing.T) {
	row := func(v float64) []float64 {
		r := make([]float64, VectorSize)
		r[0] = v
		return r
	}

	t.Run("ShortHistoryPadsFront", func(t *testing.T) {
		out := PadSequence([][]float64{row(1), row(2)}, 5)
		if len(out) != 5 {
			t.Fatalf("expected 5 rows, got %d", len(out))
		}
		for i := 0; i < 3; i++ {
			if out[i][0] != 0 {
				t.Errorf("row %d should be zero padding", i)
			}
		}
		if out[3][0] != 1 || out[4][0] != 2 {
			t.Error("history rows not preserved at the tail")
		}
	})

	t.Run("LongHistoryKeepsTail", func(t *testing.T) {
		var seq [][]float64
		for i := 1; i <= 8; i++ {
			seq = append(seq, row(float64(i)))
		}
		out := PadSequence(seq, 3)
		if len(out) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(out))
		}
		if out[0][0] != 6 || out[2][0] != 8 {
			t.Errorf("expected most recent rows, got %f..%f", out[0][0], out[2][0])
		}
	})

	t.Run("ExactLengthUnchanged", func(t *testing.T) {
		out := PadSequence([][]float64{row(1), row(2)}, 2)
		if len(out) != 2 || out[0][0] != 1 || out[1][0] != 2 {
			t.Error("exact-length sequence should pass through")
		}
	})
}

func TestBuildSequence(t *testing.T) {
	ctx := context.Background()

	t.Run("NoDependencies", func(t *testing.T) {
		e := NewExtractor(nil, nil)
		tx := sampleTx()

		seq := e.BuildSequence(ctx, tx, 10)
		if len(seq) != 10 {
			t.Fatalf("expected 10 rows, got %d", len(seq))
		}

		// Last row is the current transaction, everything before is padding.
		want := Vector(tx)
		last := seq[len(seq)-1]
		for i := range want {
			if last[i] != want[i] {
				t.Fatalf("last row feature %d: got %f, want %f", i, last[i], want[i])
			}
		}
		if seq[0][0] != 0 {
			t.Error("expected zero padding at the front")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := NewExtractor(nil, nil).BuildSequence(ctx, sampleTx(), 10)
		b := NewExtractor(nil, nil).BuildSequence(ctx, sampleTx(), 10)
		for i := range a {
			for j := range a[i] {
				if a[i][j] != b[i][j] {
					t.Fatalf("sequence diverged at [%d][%d]", i, j)
				}
			}
		}
	})
}
