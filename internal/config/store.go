// Package config provides the hot-reloadable scoring configuration store.
//
// The active ScoringConfig is an immutable snapshot behind an atomic
// pointer: readers never block on reload, reload never blocks on in-flight
// reads, and an assessment mid-evaluation always sees one consistent
// snapshot end-to-end.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/metrics"
)

// Store holds the active scoring configuration snapshot.
type Store struct {
	current atomic.Pointer[domain.ScoringConfig]

	mu        sync.Mutex // guards callbacks and watcher lifecycle
	onChange  []func(*domain.ScoringConfig)
	validator func(*domain.ScoringConfig) error
	path      string
	watcher   *fsnotify.Watcher
}

// NewStore creates a store seeded with the given configuration.
// The config is validated; an invalid seed is rejected outright since there
// is no previous snapshot to fall back to.
func NewStore(cfg *domain.ScoringConfig) (*Store, error) {
	if cfg == nil {
		cfg = domain.DefaultScoringConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{}
	s.current.Store(cfg)
	return s, nil
}

// NewStoreFromFile creates a store seeded from a YAML config file.
func NewStoreFromFile(path string) (*Store, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// Current returns the active configuration snapshot. The returned value is
// immutable and safe to hand to concurrent assessments.
func (s *Store) Current() *domain.ScoringConfig {
	return s.current.Load()
}

// Reload validates and atomically swaps in a new configuration. On any
// validation failure the previous valid config is kept and the error
// returned; a running engine is never left without a usable config.
func (s *Store) Reload(cfg *domain.ScoringConfig) error {
	if cfg == nil {
		return &domain.ConfigError{Problems: []string{"config is required"}}
	}
	if err := cfg.Validate(); err != nil {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		return err
	}

	s.mu.Lock()
	validator := s.validator
	callbacks := make([]func(*domain.ScoringConfig), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	if validator != nil {
		if err := validator(cfg); err != nil {
			metrics.ConfigReloads.WithLabelValues("rejected").Inc()
			return err
		}
	}

	s.current.Store(cfg)
	metrics.ConfigReloads.WithLabelValues("applied").Inc()

	for _, fn := range callbacks {
		fn(cfg)
	}

	slog.Info("scoring config reloaded",
		"version", cfg.Version,
		"rules", len(cfg.Rules),
	)
	return nil
}

// ReloadFromFile re-reads the backing file and swaps in the result.
func (s *Store) ReloadFromFile() error {
	if s.path == "" {
		return fmt.Errorf("store has no backing file")
	}
	cfg, err := loadFile(s.path)
	if err != nil {
		return err
	}
	return s.Reload(cfg)
}

// OnChange registers a callback invoked after every successful reload.
// Callbacks receive the new snapshot.
func (s *Store) OnChange(fn func(*domain.ScoringConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// SetValidator installs an extra check run during Reload, after structural
// validation and before the swap. The engine uses it to compile the rule
// set, so a config whose rules do not compile never becomes the active
// snapshot.
func (s *Store) SetValidator(fn func(*domain.ScoringConfig) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validator = fn
}

// Watch starts a background goroutine that hot-reloads the config whenever
// the backing file changes. A file that fails to parse or validate is
// logged and ignored; the engine keeps the prior snapshot.
// Call the returned stop function to clean up.
func (s *Store) Watch() (stop func(), err error) {
	if s.path == "" {
		return nil, fmt.Errorf("store has no backing file")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if err := s.ReloadFromFile(); err != nil {
						slog.Warn("scoring config reload rejected, keeping previous",
							"path", s.path,
							"error", err,
						)
					}
				}
			case <-w.Errors:
				// Watcher errors are transient; keep serving the snapshot.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func loadFile(path string) (*domain.ScoringConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring config %s: %w", path, err)
	}

	// Start from defaults so partial files only override what they name.
	cfg := domain.DefaultScoringConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse scoring config %s: %w", path, err)
	}
	return cfg, nil
}
