// Package store is the Persistence Store (spec.md §4.B): a single JSON file
// per runner, written atomically (temp file + rename) under a cross-process
// flock, with debounced async writes and a synchronous flush on shutdown.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ironham/conductor/internal/logging"
)

// CurrentSchemaVersion is the schema version this binary writes. supportedRange
// is the range of versions this binary can load (spec.md §4.B migration shim).
const CurrentSchemaVersion = "1.0.0"

var supportedRange = mustConstraint(">=1.0.0, <2.0.0")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// envelope is the on-disk wrapper around the caller's payload, carrying the
// schema version so a future incompatible format change can be detected
// before attempting to unmarshal the payload itself.
type envelope struct {
	SchemaVersion string          `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// Store persists an arbitrary JSON-serializable snapshot, debouncing writes
// and guaranteeing a final synchronous flush on Close. One Store instance
// owns one state file; the Job Runner and Plan Runner each hold their own
// (cliutil opens them as jobs.json and plans.json in the workspace's
// .conductor state directory).
type Store struct {
	path     string
	debounce time.Duration
	logger   *logging.Logger

	mu          sync.Mutex
	pending     []byte // latest marshaled snapshot awaiting write, or nil
	timer       *time.Timer
	isPersisting bool
	closed      bool
}

// New returns a Store writing to <dir>/<filename>, debouncing writes by the
// given interval. dir is created if missing.
func New(dir, filename string, debounce time.Duration, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{
		path:     filepath.Join(dir, filename),
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Save schedules snapshot to be written after the debounce interval. Later
// calls before the timer fires replace the pending snapshot rather than
// queuing additional writes (spec.md §4.B "writes are debounced and async").
func (s *Store) Save(snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store closed")
	}
	s.pending = data
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flushAsync)
	return nil
}

// flushAsync runs on the debounce timer's own goroutine. Persistence
// errors are logged and swallowed per spec.md §7 kind 6 ("never fatal to
// the scheduler; next debounce cycle retries").
func (s *Store) flushAsync() {
	if err := s.Flush(); err != nil && s.logger != nil {
		s.logger.Warn("persistence write failed, will retry on next debounce", "path", s.path, "error", err.Error())
	}
}

// Flush writes the latest pending snapshot synchronously, serialized by
// isPersisting so overlapping flushes never interleave writes to the same
// file (spec.md §5 "persistence writes are serialized by an isPersisting flag").
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.isPersisting || s.pending == nil {
		s.mu.Unlock()
		return nil
	}
	s.isPersisting = true
	data := s.pending
	s.pending = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isPersisting = false
		s.mu.Unlock()
	}()

	return s.writeAtomic(data)
}

func (s *Store) writeAtomic(payload []byte) error {
	env := envelope{SchemaVersion: CurrentSchemaVersion, Payload: payload}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	dir := filepath.Dir(s.path)
	fl := NewFileLock(dir)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads the state file and unmarshals its payload into out. A missing
// file is not an error: out is left untouched and Load returns
// (false, nil) so callers can start from an empty state.
func (s *Store) Load(out any) (bool, error) {
	dir := filepath.Dir(s.path)
	fl := NewFileLock(dir)
	if err := fl.Lock(); err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read state file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, s.loadLegacy(data, out)
	}

	if env.SchemaVersion != "" {
		v, err := semver.NewVersion(env.SchemaVersion)
		if err != nil {
			return false, fmt.Errorf("parse schema version %q: %w", env.SchemaVersion, err)
		}
		if !supportedRange.Check(v) {
			return false, fmt.Errorf("unsupported schema version %s (supported: %s)", env.SchemaVersion, supportedRange)
		}
	}

	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false, fmt.Errorf("unmarshal payload: %w", err)
	}
	return true, nil
}

// loadLegacy handles state files written before the envelope/schemaVersion
// wrapper existed: the raw bytes are the payload itself.
func (s *Store) loadLegacy(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal legacy payload: %w", err)
	}
	return nil
}

// Close performs the mandatory synchronous flush (spec.md §4.B "a shutdown
// hook performs a sync flush") and stops the debounce timer.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.closed = true
	s.mu.Unlock()

	return s.Flush()
}
