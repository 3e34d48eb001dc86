package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

func testRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "merlin_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testTx(id string, userID int64, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		TransactionID:     id,
		UserID:            userID,
		Amount:            50_000,
		Currency:          "NGN",
		MerchantID:        "grocery-store-lagos",
		PaymentMethod:     domain.PaymentMethodCard,
		Timestamp:         ts,
		CreatedAt:         ts,
		IPAddress:         "196.216.1.10",
		DeviceFingerprint: "device-abc",
		Country:           "NG",
		Metadata:          map[string]interface{}{"channel": "pos"},
	}
}

func testAssessment(id, txID string) *domain.FraudAssessment {
	seq := 0.42
	return &domain.FraudAssessment{
		AssessmentID:    id,
		TransactionID:   txID,
		FraudScore:      0.37,
		Decision:        domain.DecisionApprove,
		ConfidenceLevel: 0.91,
		RiskFactors: []domain.RiskFactor{
			{Factor: "high_amount", Weight: 0.6, Triggered: false},
		},
		ComponentScores: domain.ComponentScores{
			SequenceScore: &seq,
			RuleScore:     0.2,
			VelocityScore: 0.1,
		},
		ModelVersion: "default-v1+rule_based",
		ProcessedAt:  time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestTransactionRoundtrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)

	t.Run("SaveAndGet", func(t *testing.T) {
		want := testTx("TXN_20250115_repo0001", 42, ts)
		if err := repo.SaveTransaction(ctx, want); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, want.TransactionID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.TransactionID != want.TransactionID ||
			got.UserID != want.UserID ||
			got.Amount != want.Amount ||
			got.Currency != want.Currency ||
			got.MerchantID != want.MerchantID {
			t.Errorf("roundtrip mismatch: got %+v", got)
		}
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("timestamp mismatch: %v vs %v", got.Timestamp, want.Timestamp)
		}
		if got.Metadata["channel"] != "pos" {
			t.Errorf("metadata lost: %+v", got.Metadata)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "TXN_20250115_missing0")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRecentTransactions(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tx := testTx(
			"TXN_20250115_recent0"+string(rune('0'+i)),
			7,
			base.Add(time.Duration(i)*time.Hour),
		)
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction %d failed: %v", i, err)
		}
	}
	// A different user's activity must not leak into the result.
	other := testTx("TXN_20250115_otheruse", 8, base.Add(time.Hour))
	if err := repo.SaveTransaction(ctx, other); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	t.Run("SinceFilter", func(t *testing.T) {
		got, err := repo.RecentTransactions(ctx, 7, base.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("RecentTransactions failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(got))
		}
		// Newest first.
		for i := 1; i < len(got); i++ {
			if got[i].Timestamp.After(got[i-1].Timestamp) {
				t.Error("expected newest-first ordering")
			}
		}
		for _, tx := range got {
			if tx.UserID != 7 {
				t.Errorf("foreign user transaction leaked: %+v", tx)
			}
		}
	})

	t.Run("EmptyWindow", func(t *testing.T) {
		got, err := repo.RecentTransactions(ctx, 7, base.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("RecentTransactions failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no transactions, got %d", len(got))
		}
	})
}

func TestAssessmentRoundtrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		want := testAssessment("assess-1", "TXN_20250115_assess01")
		if err := repo.SaveAssessment(ctx, want); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		got, err := repo.GetAssessment(ctx, "assess-1")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got.TransactionID != want.TransactionID ||
			got.FraudScore != want.FraudScore ||
			got.Decision != want.Decision ||
			got.ConfidenceLevel != want.ConfidenceLevel ||
			got.ModelVersion != want.ModelVersion {
			t.Errorf("roundtrip mismatch: got %+v", got)
		}
		if len(got.RiskFactors) != 1 || got.RiskFactors[0].Factor != "high_amount" {
			t.Errorf("risk factors lost: %+v", got.RiskFactors)
		}
		if got.ComponentScores.SequenceScore == nil || *got.ComponentScores.SequenceScore != 0.42 {
			t.Errorf("component scores lost: %+v", got.ComponentScores)
		}
	})

	t.Run("GetByTransaction", func(t *testing.T) {
		got, err := repo.GetAssessmentByTransaction(ctx, "TXN_20250115_assess01")
		if err != nil {
			t.Fatalf("GetAssessmentByTransaction failed: %v", err)
		}
		if got.AssessmentID != "assess-1" {
			t.Errorf("expected assess-1, got %s", got.AssessmentID)
		}
	})

	t.Run("DuplicateTransactionIsNoOp", func(t *testing.T) {
		dup := testAssessment("assess-2", "TXN_20250115_assess01")
		if err := repo.SaveAssessment(ctx, dup); err != nil {
			t.Fatalf("duplicate SaveAssessment should not error: %v", err)
		}

		got, err := repo.GetAssessmentByTransaction(ctx, "TXN_20250115_assess01")
		if err != nil {
			t.Fatalf("GetAssessmentByTransaction failed: %v", err)
		}
		if got.AssessmentID != "assess-1" {
			t.Errorf("duplicate insert replaced the original: %s", got.AssessmentID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetAssessment(ctx, "no-such"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.GetAssessmentByTransaction(ctx, "no-such"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPing(t *testing.T) {
	repo := testRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("? ?"); got != "? ?" {
		t.Errorf("sqlite query rewritten: %q", got)
	}
}
