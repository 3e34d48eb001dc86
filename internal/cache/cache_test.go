package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

func TestLRUCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		c := NewLRUCache(10)
		defer c.Close()

		if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := c.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v1" {
			t.Errorf("expected v1, got %q", got)
		}
	})

	t.Run("MissReturnsNilNil", func(t *testing.T) {
		c := NewLRUCache(10)
		defer c.Close()

		got, err := c.Get(ctx, "absent")
		if err != nil || got != nil {
			t.Errorf("expected nil, nil on miss, got %v, %v", got, err)
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		c := NewLRUCache(10)
		defer c.Close()

		c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
		time.Sleep(30 * time.Millisecond)

		got, err := c.Get(ctx, "short")
		if err != nil || got != nil {
			t.Errorf("expected expired entry to miss, got %v, %v", got, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c := NewLRUCache(10)
		defer c.Close()

		c.Set(ctx, "k", []byte("v"), time.Minute)
		if err := c.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if got, _ := c.Get(ctx, "k"); got != nil {
			t.Error("deleted key still present")
		}
	})

	t.Run("CapacityEviction", func(t *testing.T) {
		c := NewLRUCache(3)
		defer c.Close()

		for i := 0; i < 5; i++ {
			c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
		}

		if size, capacity := c.Stats(); size != 3 || capacity != 3 {
			t.Errorf("expected size 3 of 3, got %d of %d", size, capacity)
		}
		// Oldest entries evicted first.
		if got, _ := c.Get(ctx, "k0"); got != nil {
			t.Error("oldest entry survived eviction")
		}
		if got, _ := c.Get(ctx, "k4"); got == nil {
			t.Error("newest entry evicted")
		}
	})

	t.Run("RecentUseProtectsFromEviction", func(t *testing.T) {
		c := NewLRUCache(2)
		defer c.Close()

		c.Set(ctx, "a", []byte("v"), time.Minute)
		c.Set(ctx, "b", []byte("v"), time.Minute)
		c.Get(ctx, "a") // a becomes most recently used
		c.Set(ctx, "c", []byte("v"), time.Minute)

		if got, _ := c.Get(ctx, "a"); got == nil {
			t.Error("recently used entry was evicted")
		}
		if got, _ := c.Get(ctx, "b"); got != nil {
			t.Error("least recently used entry survived")
		}
	})

	t.Run("UpdateExistingKey", func(t *testing.T) {
		c := NewLRUCache(10)
		defer c.Close()

		c.Set(ctx, "k", []byte("v1"), time.Minute)
		c.Set(ctx, "k", []byte("v2"), time.Minute)

		got, _ := c.Get(ctx, "k")
		if string(got) != "v2" {
			t.Errorf("expected updated value, got %q", got)
		}
		if size, _ := c.Stats(); size != 1 {
			t.Errorf("update duplicated entry: size %d", size)
		}
	})
}

func TestLRUAssessmentRoundtrip(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10)
	defer c.Close()

	seq := 0.42
	want := &domain.FraudAssessment{
		AssessmentID:    "assess-1",
		TransactionID:   "TXN_20250115_cache001",
		FraudScore:      0.37,
		Decision:        domain.DecisionApprove,
		ConfidenceLevel: 0.91,
		ComponentScores: domain.ComponentScores{
			SequenceScore: &seq,
			RuleScore:     0.2,
			VelocityScore: 0.1,
		},
		ModelVersion: "default-v1+rule_based",
		ProcessedAt:  time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
	}

	if err := c.SetAssessment(ctx, want.TransactionID, want, time.Minute); err != nil {
		t.Fatalf("SetAssessment failed: %v", err)
	}

	got, err := c.GetAssessment(ctx, want.TransactionID)
	if err != nil {
		t.Fatalf("GetAssessment failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached assessment")
	}
	if got.AssessmentID != want.AssessmentID ||
		got.FraudScore != want.FraudScore ||
		got.Decision != want.Decision {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.ComponentScores.SequenceScore == nil || *got.ComponentScores.SequenceScore != seq {
		t.Errorf("sequence score lost: %+v", got.ComponentScores)
	}

	if miss, err := c.GetAssessment(ctx, "no-such-tx"); err != nil || miss != nil {
		t.Errorf("expected nil, nil on miss, got %v, %v", miss, err)
	}
}

func TestLRUIncrementCounter(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10)
	defer c.Close()

	t.Run("Increments", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, "user:1", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		c.IncrementCounter(ctx, "user:2", 10*time.Millisecond)
		time.Sleep(30 * time.Millisecond)

		got, err := c.IncrementCounter(ctx, "user:2", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expired window should restart at 1, got %d", got)
		}
	})

	t.Run("IndependentKeys", func(t *testing.T) {
		c.IncrementCounter(ctx, "user:3", time.Minute)
		got, _ := c.IncrementCounter(ctx, "user:4", time.Minute)
		if got != 1 {
			t.Errorf("keys should be independent, got %d", got)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected *LRUCache, got %T", c)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Fatal("expected error for unknown cache type")
		}
	})
}
