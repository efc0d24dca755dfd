package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"switchboard/pkg/logging"
)

// Store publishes immutable configuration snapshots. Readers call
// Snapshot and never block; writers serialize on a mutex, apply a
// validated delta to a deep copy, and publish the new snapshot
// atomically with a bumped version stamp.
type Store struct {
	current atomic.Pointer[versioned]

	writeMu      sync.Mutex
	path         string
	needsRestart atomic.Bool
}

type versioned struct {
	cfg     *Config
	version uint64
}

// NewStore wraps an initial configuration. path is where mutations are
// persisted; an empty path disables persistence.
func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	s.current.Store(&versioned{cfg: cfg, version: 1})
	return s
}

// Snapshot returns the current configuration. The returned value is
// shared and must not be mutated; use Update for changes.
func (s *Store) Snapshot() *Config {
	return s.current.Load().cfg
}

// Version returns the current snapshot's version stamp.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

// Update applies fn to a deep copy of the current configuration,
// validates the result, persists it, and publishes it as the new
// snapshot. The delta is discarded completely when validation or
// persistence fails.
func (s *Store) Update(fn func(*Config) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current.Load()
	next, err := deepCopy(cur.cfg)
	if err != nil {
		return fmt.Errorf("copying configuration: %w", err)
	}

	if err := fn(next); err != nil {
		return err
	}
	next.ApplyDefaults()
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			return err
		}
	}

	s.current.Store(&versioned{cfg: next, version: cur.version + 1})
	logging.Debug("Config", "Published configuration version %d", cur.version+1)
	return nil
}

// Replace swaps in a whole new document, as used by POST /api/config.
func (s *Store) Replace(cfg *Config) error {
	return s.Update(func(target *Config) error {
		*target = *cfg
		return nil
	})
}

// SetNeedsRestart marks that a mutation cannot take effect live.
func (s *Store) SetNeedsRestart(v bool) {
	s.needsRestart.Store(v)
}

// NeedsRestart reports whether a restart is pending.
func (s *Store) NeedsRestart() bool {
	return s.needsRestart.Load()
}

// Path returns the backing config file path, empty when persistence is
// disabled.
func (s *Store) Path() string {
	return s.path
}

// deepCopy clones a config document through JSON. Config is pure data,
// so the round trip is lossless.
func deepCopy(cfg *Config) (*Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	out := &Config{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
