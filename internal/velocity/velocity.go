// Package velocity maintains short-horizon per-user and per-device activity
// windows and derives frequency/burst anomaly signals from them.
package velocity

import (
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// shardCount fixes the number of window shards. Keys are hashed to shards so
// transactions for different users never contend on one lock.
const shardCount = 64

// entry is one recorded observation inside a window.
type entry struct {
	ts     time.Time
	amount float64
}

// window is a bounded ring of recent activity for a single key.
// Bounded by both count and age; old entries are evicted lazily on access.
type window struct {
	entries []entry
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Observation is the velocity signal derived for one transaction.
type Observation struct {
	// Score is the monotone, saturating velocity score in [0,1].
	Score float64

	// Count is the number of transactions (including the current one)
	// inside the burst window.
	Count int

	// MinGap is the smallest inter-arrival gap observed in the burst
	// window, or a negative duration when fewer than two entries exist.
	MinGap time.Duration

	// SumAmount is the amount total across the retention horizon.
	SumAmount float64
}

// Analyzer owns the per-key windows. Safe for concurrent use; locking is
// per shard, never global.
type Analyzer struct {
	shards [shardCount]shard
}

// NewAnalyzer creates an empty analyzer.
func NewAnalyzer() *Analyzer {
	a := &Analyzer{}
	for i := range a.shards {
		a.shards[i].windows = make(map[string]*window)
	}
	return a
}

// Observe records a transaction into the windows keyed by user ID and, when
// present, device fingerprint, then returns the velocity signal. The signal
// is the stronger of the per-user and per-device observations.
//
// Append-then-evict is atomic per key relative to concurrent observations
// for the same key.
func (a *Analyzer) Observe(tx *domain.Transaction, cfg domain.VelocityConfig) Observation {
	now := time.Now().UTC()

	obs := a.observeKey(userKey(tx.UserID), tx, cfg, now)
	if tx.DeviceFingerprint != "" {
		dev := a.observeKey(deviceKey(tx.DeviceFingerprint), tx, cfg, now)
		if dev.Score > obs.Score {
			obs = dev
		}
	}
	return obs
}

// Warm seeds windows from historical transactions, typically read from the
// repository on cold start. No score is computed.
func (a *Analyzer) Warm(txs []*domain.Transaction, cfg domain.VelocityConfig) {
	now := time.Now().UTC()
	for _, tx := range txs {
		a.record(userKey(tx.UserID), tx, cfg, now)
		if tx.DeviceFingerprint != "" {
			a.record(deviceKey(tx.DeviceFingerprint), tx, cfg, now)
		}
	}
}

// WindowCount reports the number of live windows across all shards.
func (a *Analyzer) WindowCount() int {
	total := 0
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		total += len(s.windows)
		s.mu.Unlock()
	}
	return total
}

func (a *Analyzer) observeKey(key string, tx *domain.Transaction, cfg domain.VelocityConfig, now time.Time) Observation {
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.getWindow(key)
	w.append(tx, cfg, now)
	return w.observation(tx.Timestamp, cfg)
}

func (a *Analyzer) record(key string, tx *domain.Transaction, cfg domain.VelocityConfig, now time.Time) {
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getWindow(key).append(tx, cfg, now)
}

func (a *Analyzer) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &a.shards[h.Sum32()%shardCount]
}

func (s *shard) getWindow(key string) *window {
	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	return w
}

// append adds the transaction and evicts entries outside the horizon or
// beyond the count bound. Must be called with the shard lock held.
func (w *window) append(tx *domain.Transaction, cfg domain.VelocityConfig, now time.Time) {
	w.entries = append(w.entries, entry{ts: tx.Timestamp, amount: tx.Amount})

	horizon := now.Add(-time.Duration(cfg.HorizonSecs) * time.Second)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.ts.After(horizon) {
			kept = append(kept, e)
		}
	}
	w.entries = kept

	// Count bound: drop the oldest by timestamp. Entries arrive mostly in
	// order, so sort only when actually over the bound.
	if max := cfg.MaxEntries; max > 0 && len(w.entries) > max {
		sort.Slice(w.entries, func(i, j int) bool {
			return w.entries[i].ts.Before(w.entries[j].ts)
		})
		w.entries = w.entries[len(w.entries)-max:]
	}
}

// observation computes the velocity features and score as of ref.
//
// The score is a probabilistic OR of two saturating signals:
//
//	count signal:  min(burstCount / maxTransactions, 1)
//	burst signal:  1 - minGap/timeWindow, 0 when minGap >= timeWindow
//	score       =  1 - (1 - count)*(1 - burst)
//
// Both signals are monotone in activity, so the score saturates at 1.0 when
// thresholds are exceeded and approaches 0 for sparse activity.
func (w *window) observation(ref time.Time, cfg domain.VelocityConfig) Observation {
	burstWindow := time.Duration(cfg.TimeWindowSecs) * time.Second
	cutoff := ref.Add(-burstWindow)

	var sum float64
	var inBurst []time.Time
	for _, e := range w.entries {
		sum += e.amount
		if !e.ts.Before(cutoff) && !e.ts.After(ref) {
			inBurst = append(inBurst, e.ts)
		}
	}

	obs := Observation{
		Count:     len(inBurst),
		MinGap:    -time.Second,
		SumAmount: sum,
	}

	countSignal := math.Min(float64(obs.Count)/float64(cfg.MaxTransactions), 1.0)

	burstSignal := 0.0
	if len(inBurst) >= 2 {
		sort.Slice(inBurst, func(i, j int) bool { return inBurst[i].Before(inBurst[j]) })
		minGap := inBurst[1].Sub(inBurst[0])
		for i := 2; i < len(inBurst); i++ {
			if gap := inBurst[i].Sub(inBurst[i-1]); gap < minGap {
				minGap = gap
			}
		}
		obs.MinGap = minGap
		if minGap < burstWindow {
			burstSignal = 1.0 - float64(minGap)/float64(burstWindow)
		}
	}

	obs.Score = 1.0 - (1.0-countSignal)*(1.0-burstSignal)
	return obs
}

func userKey(userID int64) string {
	return "u:" + strconv.FormatInt(userID, 10)
}

func deviceKey(fp string) string {
	return "d:" + fp
}
