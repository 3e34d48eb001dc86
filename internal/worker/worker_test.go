package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/bus"
	"github.com/opensource-finance/merlin/internal/config"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/engine"
)

func testPipeline(t *testing.T, b domain.EventBus) *engine.Pipeline {
	t.Helper()
	store, err := config.NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	e, err := engine.New(store, nil, nil)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return engine.NewPipeline(e, nil, nil, b)
}

func publishRequest(t *testing.T, b domain.EventBus, req *domain.TransactionRequest) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := b.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestWorkerProcessesIngestedTransactions(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testPipeline(t, b))
	if err := w.Start(Config{WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if stats := w.GetStats(); stats.SubscriptionCount != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	// Listen for the completion event the pipeline publishes.
	var mu sync.Mutex
	var completed []*domain.FraudAssessment
	_, err := b.Subscribe(context.Background(), domain.TopicAssessmentCompleted,
		func(ctx context.Context, msg *domain.Message) error {
			var a domain.FraudAssessment
			if err := json.Unmarshal(msg.Payload, &a); err != nil {
				return err
			}
			mu.Lock()
			completed = append(completed, &a)
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	publishRequest(t, b, &domain.TransactionRequest{
		TransactionID: "TXN_20250115_async001",
		UserID:        42,
		Amount:        50_000,
		Currency:      "NGN",
		MerchantID:    "grocery-store-lagos",
		Timestamp:     &ts,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(completed)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no completion event before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	got := completed[0]
	mu.Unlock()

	if got.TransactionID != "TXN_20250115_async001" {
		t.Errorf("unexpected transaction: %s", got.TransactionID)
	}
	if got.Decision != domain.DecisionApprove {
		t.Errorf("quiet transaction should approve, got %s", got.Decision)
	}
}

func TestWorkerInvalidTransactionIsTerminal(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testPipeline(t, b))

	// Call the handler directly: a rejected transaction must return nil so
	// the bus never redelivers it.
	payload, _ := json.Marshal(&domain.TransactionRequest{
		UserID:   0, // invalid
		Amount:   -5,
		Currency: "NGN",
	})
	msg := &domain.Message{
		ID:      "msg-1",
		Topic:   domain.TopicTransactionIngested,
		Payload: payload,
	}

	if err := w.handleMessage(context.Background(), msg); err != nil {
		t.Errorf("invalid transaction should be swallowed, got %v", err)
	}
}

func TestWorkerMalformedPayload(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testPipeline(t, b))

	msg := &domain.Message{
		ID:      "msg-2",
		Topic:   domain.TopicTransactionIngested,
		Payload: []byte("{not json"),
	}
	if err := w.handleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestWorkerStop(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testPipeline(t, b))
	if err := w.Start(Config{WorkerCount: 3}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stats := w.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("subscriptions remain after Stop: %d", stats.SubscriptionCount)
	}
}
