package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/cache"
	"github.com/opensource-finance/merlin/internal/config"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/engine"
	"github.com/opensource-finance/merlin/internal/repository"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "merlin_api_test.db"),
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(1000)
	t.Cleanup(func() { c.Close() })

	store, err := config.NewStore(nil)
	if err != nil {
		t.Fatalf("config.NewStore failed: %v", err)
	}
	e, err := engine.New(store, repo, c)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	pipeline := engine.NewPipeline(e, repo, c, nil)

	return NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, pipeline, repo, c, "test")
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAssessEndpoint(t *testing.T) {
	s := testServer(t)
	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)

	t.Run("Approves", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/assess", domain.TransactionRequest{
			TransactionID: "TXN_20250115_api00001",
			UserID:        42,
			Amount:        50_000,
			Currency:      "NGN",
			MerchantID:    "grocery-store-lagos",
			Timestamp:     &ts,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		got := decode[AssessResponse](t, rec)
		if got.Decision != domain.DecisionApprove {
			t.Errorf("expected APPROVE, got %s", got.Decision)
		}
		if got.AssessmentID == "" || got.TransactionID != "TXN_20250115_api00001" {
			t.Errorf("assessment identity missing: %+v", got.FraudAssessment)
		}
	})

	t.Run("IdempotentRepeat", func(t *testing.T) {
		req := domain.TransactionRequest{
			TransactionID: "TXN_20250115_api00002",
			UserID:        42,
			Amount:        75_000,
			Currency:      "NGN",
			Timestamp:     &ts,
		}

		first := decode[AssessResponse](t, doJSON(t, s, http.MethodPost, "/assess", req))
		second := decode[AssessResponse](t, doJSON(t, s, http.MethodPost, "/assess", req))

		if first.AssessmentID != second.AssessmentID {
			t.Errorf("repeat request produced new assessment: %s vs %s",
				first.AssessmentID, second.AssessmentID)
		}
	})

	t.Run("InvalidTransaction", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/assess", domain.TransactionRequest{
			UserID:   42,
			Amount:   -10,
			Currency: "NGN",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/assess", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestLookupEndpoints(t *testing.T) {
	s := testServer(t)
	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)

	assessed := decode[AssessResponse](t, doJSON(t, s, http.MethodPost, "/assess", domain.TransactionRequest{
		TransactionID: "TXN_20250115_api00003",
		UserID:        42,
		Amount:        60_000,
		Currency:      "NGN",
		Timestamp:     &ts,
	}))

	t.Run("GetAssessment", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/assessments/"+assessed.AssessmentID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		got := decode[domain.FraudAssessment](t, rec)
		if got.TransactionID != "TXN_20250115_api00003" {
			t.Errorf("unexpected assessment: %+v", got)
		}
	})

	t.Run("GetTransaction", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/transactions/TXN_20250115_api00003", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		got := decode[domain.Transaction](t, rec)
		if got.UserID != 42 || got.Amount != 60_000 {
			t.Errorf("unexpected transaction: %+v", got)
		}
	})

	t.Run("AssessmentNotFound", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/assessments/no-such", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("TransactionNotFound", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/transactions/no-such", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestConfigEndpoints(t *testing.T) {
	s := testServer(t)

	t.Run("GetConfig", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/config", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		got := decode[domain.ScoringConfig](t, rec)
		if got.Weights.Alpha != 0.6 || len(got.Rules) == 0 {
			t.Errorf("unexpected config: %+v", got)
		}
	})

	t.Run("ReloadAccepted", func(t *testing.T) {
		next := domain.DefaultScoringConfig()
		next.Version = "reloaded-v2"

		rec := doJSON(t, s, http.MethodPost, "/config/reload", next)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		got := decode[domain.ScoringConfig](t, doJSON(t, s, http.MethodGet, "/config", nil))
		if got.Version != "reloaded-v2" {
			t.Errorf("reload not applied: %s", got.Version)
		}
	})

	t.Run("ReloadRejectedWithProblems", func(t *testing.T) {
		bad := domain.DefaultScoringConfig()
		bad.Thresholds.ApproveBelow = 0.9
		bad.Thresholds.DeclineAtOrAbove = 0.5

		rec := doJSON(t, s, http.MethodPost, "/config/reload", bad)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}

		body := decode[map[string]any](t, rec)
		problems, ok := body["problems"].([]any)
		if !ok || len(problems) == 0 {
			t.Errorf("expected validation problems, got %v", body)
		}

		// The active config is untouched.
		got := decode[domain.ScoringConfig](t, doJSON(t, s, http.MethodGet, "/config", nil))
		if got.Thresholds.ApproveBelow != 0.5 {
			t.Errorf("rejected reload changed active config: %+v", got.Thresholds)
		}
	})
}

func TestOperationalEndpoints(t *testing.T) {
	s := testServer(t)

	t.Run("Health", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		got := decode[map[string]any](t, rec)
		if got["status"] != "healthy" {
			t.Errorf("expected healthy, got %v", got["status"])
		}
		if got["sequenceModelLoaded"] != false {
			t.Errorf("no model artifact configured, got %v", got["sequenceModelLoaded"])
		}
		if got["rulesActive"].(float64) != 6 {
			t.Errorf("expected 6 active rules, got %v", got["rulesActive"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/ready", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
			t.Errorf("expected request ID echoed, got %q", got)
		}
	})
}
