package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

// ErrNotFound is returned when no payload is stored under a key.
var ErrNotFound = errors.New("memory: key not found")

// maxKeyAttempts bounds key regeneration when a freshly generated key collides.
const maxKeyAttempts = 5

var (
	sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	keyPattern     = regexp.MustCompile(`^([A-Za-z0-9_-]+)_([0-9a-f]{8})$`)
)

// Entry is a stored payload with its metadata.
type Entry struct {
	Key       string
	SessionID string
	Summary   string
	CreatedAt time.Time
	Payload   []byte
}

// EntryInfo describes a stored payload without its bytes.
type EntryInfo struct {
	Key       string
	SessionID string
	Summary   string
	CreatedAt time.Time
	Size      int
}

func (e *Entry) info() EntryInfo {
	return EntryInfo{
		Key:       e.Key,
		SessionID: e.SessionID,
		Summary:   e.Summary,
		CreatedAt: e.CreatedAt,
		Size:      len(e.Payload),
	}
}

// Store is an external memory backend.
type Store interface {
	workflow.MemoryStore

	// Get returns the payload and metadata stored under key.
	Get(ctx context.Context, key string) (*Entry, error)

	// List returns the entries of a session, newest first.
	List(ctx context.Context, sessionID string) ([]EntryInfo, error)

	// Cleanup removes entries created more than olderThan ago and returns how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// NewKey returns a key of the form <sessionID>_<8 hex chars>.
func NewKey(sessionID string) string {
	return sessionID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// SessionFromKey returns the session part of a key.
func SessionFromKey(key string) (string, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", fmt.Errorf("invalid memory key %q", key)
	}
	return m[1], nil
}

func validateSession(sessionID string) error {
	if !sessionPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return nil
}

// storeWithUniqueKey generates keys until put reports that the key was free.
func storeWithUniqueKey(sessionID string, put func(key string) (bool, error)) (string, error) {
	if err := validateSession(sessionID); err != nil {
		return "", err
	}
	for range maxKeyAttempts {
		key := NewKey(sessionID)
		ok, err := put(key)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique key for session %s", sessionID)
}
