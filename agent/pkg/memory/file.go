package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Dir    string
}

func (c *FileStoreConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Dir == "" {
		return errors.New("directory is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// FileStore keeps one JSON envelope per key in a directory.
type FileStore struct {
	log   *slog.Logger
	clock clockwork.Clock
	dir   string
}

type fileEnvelope struct {
	SessionID string    `json:"session_id"`
	MemoryKey string    `json:"memory_key"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Size      int       `json:"size"`
	Payload   []byte    `json:"payload"`
}

// NewFileStore creates the directory if needed and returns a FileStore.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}
	return &FileStore{log: cfg.Logger, clock: cfg.Clock, dir: cfg.Dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Store writes payload under a new key.
func (s *FileStore) Store(ctx context.Context, sessionID string, payload []byte, summary string) (string, error) {
	return storeWithUniqueKey(sessionID, func(key string) (bool, error) {
		data, err := json.Marshal(fileEnvelope{
			SessionID: sessionID,
			MemoryKey: key,
			Timestamp: s.clock.Now().UTC(),
			Summary:   summary,
			Size:      len(payload),
			Payload:   payload,
		})
		if err != nil {
			return false, fmt.Errorf("failed to marshal memory entry: %w", err)
		}

		f, err := os.OpenFile(s.path(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to create memory file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			_ = os.Remove(s.path(key))
			return false, fmt.Errorf("failed to write memory file: %w", err)
		}
		if err := f.Close(); err != nil {
			return false, fmt.Errorf("failed to close memory file: %w", err)
		}
		s.log.Debug("memory: stored payload", "key", key, "bytes", len(payload))
		return true, nil
	})
}

// Retrieve returns the payload stored under key.
func (s *FileStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Payload, nil
}

// Get returns the entry stored under key.
func (s *FileStore) Get(ctx context.Context, key string) (*Entry, error) {
	if _, err := SessionFromKey(key); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	env, err := s.read(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return env.entry(), nil
}

func (s *FileStore) read(path string) (*fileEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse memory file %s: %w", filepath.Base(path), err)
	}
	return &env, nil
}

func (e *fileEnvelope) entry() *Entry {
	return &Entry{
		Key:       e.MemoryKey,
		SessionID: e.SessionID,
		Summary:   e.Summary,
		CreatedAt: e.Timestamp,
		Payload:   e.Payload,
	}
}

// List returns the entries of a session, newest first.
func (s *FileStore) List(ctx context.Context, sessionID string) ([]EntryInfo, error) {
	var out []EntryInfo
	err := s.walk(ctx, func(path string, env *fileEnvelope) error {
		if env.SessionID == sessionID {
			out = append(out, env.entry().info())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// Cleanup removes entries older than olderThan.
func (s *FileStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	removed := 0
	err := s.walk(ctx, func(path string, env *fileEnvelope) error {
		if !env.Timestamp.Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
		removed++
		return nil
	})
	if removed > 0 {
		s.log.Info("memory: cleaned up old entries", "removed", removed, "cutoff", cutoff)
	}
	return removed, err
}

func (s *FileStore) walk(ctx context.Context, fn func(path string, env *fileEnvelope) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read memory directory: %w", err)
	}
	for _, de := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		env, err := s.read(path)
		if err != nil {
			s.log.Warn("memory: skipping unreadable entry", "file", de.Name(), "error", err)
			continue
		}
		if err := fn(path, env); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func sortNewestFirst(infos []EntryInfo) {
	slices.SortStableFunc(infos, func(a, b EntryInfo) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
}
