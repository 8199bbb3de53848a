package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/workflow"
)

// redisEnvelope is the value stored under each document key.
type redisEnvelope struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// RedisStore keeps each document as a JSON value under <prefix><id> and the
// set of ids under <prefix>index.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore wraps client. When owned is true Close also closes the client.
func NewRedisStore(client redis.UniversalClient, prefix string, owned bool, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		owned:  owned,
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }
func (s *RedisStore) indexKey() string     { return s.prefix + "index" }

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (workflow.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return workflow.Snapshot{}, err
	}
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return workflow.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("redis get %s: %w", id, err)
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return workflow.Snapshot{}, fmt.Errorf("decode redis envelope for %s: %w", id, err)
	}
	return decode(env.Snapshot)
}

func (s *RedisStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	value, err := json.Marshal(redisEnvelope{UpdatedAt: time.Now().UTC(), Snapshot: data})
	if err != nil {
		return fmt.Errorf("encode redis envelope for %s: %w", id, err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(id), value, 0)
		p.SAdd(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.key(id))
		p.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List reads the id index, then fetches every value in one MGET. Ids whose
// value has vanished are dropped from the index.
func (s *RedisStore) List(ctx context.Context) ([]Summary, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list index: %w", err)
	}
	if len(ids) == 0 {
		return []Summary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list values: %w", err)
	}

	out := make([]Summary, 0, len(ids))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var env redisEnvelope
		if err := json.Unmarshal([]byte(str), &env); err != nil {
			s.logger.Warn("skipping unreadable workflow value", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		snap, err := decode(env.Snapshot)
		if err != nil {
			s.logger.Warn("skipping corrupt workflow value", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, summarize(ids[i], snap, env.UpdatedAt))
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			s.logger.Warn("failed to prune workflow index", zap.Error(err))
		}
	}
	sortSummaries(out)
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.client.Close()
	}
	return nil
}
