package patient

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Load reads a snapshot from a YAML or JSON file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patient file: %w", err)
	}
	return Decode(data)
}

// Decode parses a YAML or JSON document into a snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode patient snapshot: %w", err)
	}
	return &snap, nil
}

// Store serves the latest snapshot. It is safe for concurrent use; readers
// always get a complete snapshot, never a partially reloaded one.
type Store struct {
	mu   sync.RWMutex
	snap *Snapshot
	path string

	logger      zerolog.Logger
	debounceDur time.Duration
}

// NewStore creates a store holding snap. path may be empty for a static store.
func NewStore(snap *Snapshot, path string, logger zerolog.Logger) *Store {
	if snap == nil {
		snap = &Snapshot{}
	}
	return &Store{
		snap:        snap,
		path:        path,
		logger:      logger.With().Str("component", "patient_store").Logger(),
		debounceDur: 250 * time.Millisecond,
	}
}

// Open loads path and returns a store bound to it. An empty path yields an
// empty static store.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return NewStore(nil, "", logger), nil
	}
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(snap, path, logger), nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Reload re-reads the backing file. On error the previous snapshot is kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	snap, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Watch reloads the snapshot whenever the backing file changes, until ctx is
// done. The parent directory is watched so atomic replace-by-rename is seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.logger.Info().Str("path", s.path).Msg("Watching patient snapshot")

	target := filepath.Clean(s.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(s.debounceDur)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Patient watcher error")

		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn().Err(err).Msg("Keeping previous patient snapshot")
				continue
			}
			s.logger.Info().Msg("Patient snapshot reloaded")
		}
	}
}
