package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the RedisStore writes.
const DefaultRedisPrefix = "analyst:memory:"

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Client *backend.Client
	Prefix string
	TTL    time.Duration // 0 keeps entries until Cleanup removes them
}

func (c *RedisStoreConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Client == nil {
		return errors.New("redis client is required")
	}
	if c.Prefix == "" {
		c.Prefix = DefaultRedisPrefix
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// RedisStore keeps each entry in a hash and indexes keys per session and
// globally in sorted sets scored by creation time.
type RedisStore struct {
	log    *slog.Logger
	clock  clockwork.Clock
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store on an existing client.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RedisStore{
		log:    cfg.Logger,
		clock:  cfg.Clock,
		client: cfg.Client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisStore) entryKey(key string) string {
	return s.prefix + "entry:" + key
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Store writes payload under a new key.
func (s *RedisStore) Store(ctx context.Context, sessionID string, payload []byte, summary string) (string, error) {
	return storeWithUniqueKey(sessionID, func(key string) (bool, error) {
		now := s.clock.Now().UTC()

		// Claim the key first so concurrent writers never share one.
		claimed, err := s.client.HSetNX(ctx, s.entryKey(key), "session_id", sessionID).Result()
		if err != nil {
			return false, fmt.Errorf("failed to claim memory key: %w", err)
		}
		if !claimed {
			return false, nil
		}

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, s.entryKey(key), map[string]any{
			"summary":    summary,
			"created_at": now.Format(time.RFC3339Nano),
			"payload":    payload,
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.entryKey(key), s.ttl)
		}
		score := float64(now.UnixMicro())
		pipe.ZAdd(ctx, s.sessionKey(sessionID), backend.Z{Score: score, Member: key})
		pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: key})
		if _, err := pipe.Exec(ctx); err != nil {
			_ = s.client.Del(ctx, s.entryKey(key)).Err()
			return false, fmt.Errorf("failed to save to redis: %w", err)
		}
		s.log.Debug("memory: stored payload", "key", key, "bytes", len(payload))
		return true, nil
	})
}

// Retrieve returns the payload stored under key.
func (s *RedisStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.entryKey(key), "payload").Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	return data, nil
}

// Get returns the entry stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.entryKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	payload, ok := fields["payload"]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	e := &Entry{
		Key:       key,
		SessionID: fields["session_id"],
		Summary:   fields["summary"],
		Payload:   []byte(payload),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		e.CreatedAt = ts
	}
	return e, nil
}

// List returns the entries of a session, newest first. Entries that expired
// through the TTL are dropped from the index as they are found.
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]EntryInfo, error) {
	keys, err := s.client.ZRevRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session index: %w", err)
	}

	out := make([]EntryInfo, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HMGet(ctx, s.entryKey(key), "summary", "created_at").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read from redis: %w", err)
		}
		size, err := s.client.HStrLen(ctx, s.entryKey(key), "payload").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read from redis: %w", err)
		}
		if fields[1] == nil {
			s.client.ZRem(ctx, s.sessionKey(sessionID), key)
			s.client.ZRem(ctx, s.indexKey(), key)
			continue
		}
		info := EntryInfo{Key: key, SessionID: sessionID, Size: int(size)}
		if v, ok := fields[0].(string); ok {
			info.Summary = v
		}
		if v, ok := fields[1].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				info.CreatedAt = ts
			}
		}
		out = append(out, info)
	}
	sortNewestFirst(out)
	return out, nil
}

// Cleanup removes entries created before now minus olderThan.
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	keys, err := s.client.ZRangeByScore(ctx, s.indexKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan memory index: %w", err)
	}

	removed := 0
	for _, key := range keys {
		sessionID, err := SessionFromKey(key)
		if err != nil {
			s.log.Warn("memory: skipping malformed key in index", "key", key)
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.entryKey(key))
		pipe.ZRem(ctx, s.sessionKey(sessionID), key)
		pipe.ZRem(ctx, s.indexKey(), key)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("failed to delete memory entry %s: %w", key, err)
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("memory: cleaned up old entries", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
