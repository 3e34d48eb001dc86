package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// historyLookback bounds the repository read that seeds a user's sequence
// buffer on a cache miss.
const historyLookback = 24 * time.Hour

// Extractor builds per-user feature sequences. The rolling buffer of recent
// vectors lives in the cache; the repository seeds it on cold start.
type Extractor struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewExtractor creates an extractor. Both dependencies are optional: with
// neither, sequences contain only the current transaction, zero-padded.
func NewExtractor(repo domain.Repository, cache domain.Cache) *Extractor {
	return &Extractor{repo: repo, cache: cache}
}

// BuildSequence returns the model input window for a transaction: the
// user's most recent length-1 feature vectors followed by the current
// transaction's vector, zero-padded at the front when history is short.
//
// History failures degrade to a shorter buffer rather than failing the
// assessment; only the model itself decides sequence-component
// availability.
func (e *Extractor) BuildSequence(ctx context.Context, tx *domain.Transaction, length int) [][]float64 {
	buffer := e.loadBuffer(ctx, tx)
	buffer = append(buffer, Vector(tx))
	if len(buffer) > length {
		buffer = buffer[len(buffer)-length:]
	}

	e.storeBuffer(ctx, tx.UserID, buffer)

	return PadSequence(buffer, length)
}

func (e *Extractor) loadBuffer(ctx context.Context, tx *domain.Transaction) [][]float64 {
	if e.cache != nil {
		data, err := e.cache.Get(ctx, bufferKey(tx.UserID))
		if err == nil && data != nil {
			var buffer [][]float64
			if err := json.Unmarshal(data, &buffer); err == nil {
				return buffer
			}
		}
	}

	if e.repo == nil {
		return nil
	}

	since := tx.Timestamp.Add(-historyLookback)
	history, err := e.repo.RecentTransactions(ctx, tx.UserID, since)
	if err != nil {
		slog.Warn("feature history read failed, padding sequence",
			"user_id", tx.UserID,
			"error", err,
		)
		return nil
	}

	sort.Slice(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})

	buffer := make([][]float64, 0, len(history))
	for _, h := range history {
		if h.TransactionID == tx.TransactionID {
			continue
		}
		buffer = append(buffer, Vector(h))
	}
	return buffer
}

func (e *Extractor) storeBuffer(ctx context.Context, userID int64, buffer [][]float64) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(buffer)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, bufferKey(userID), data, historyLookback); err != nil {
		slog.Debug("feature buffer cache write failed", "user_id", userID, "error", err)
	}
}

func bufferKey(userID int64) string {
	return fmt.Sprintf("seq:%d", userID)
}
