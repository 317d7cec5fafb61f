package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-workflow/engine"
)

const defaultRedisPrefix = "workflow"

// RedisStore keeps one JSON document per instance plus a set indexing every id.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Default is "workflow".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires snapshots after ttl. Zero, the default, keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore builds a store on client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Save writes snapshot under WATCH so a concurrent newer version is never overwritten.
func (s *RedisStore) Save(ctx context.Context, snapshot engine.Instance) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	id := strings.TrimSpace(snapshot.ID)
	if id == "" {
		return errors.New("snapshot id required")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	key := s.instanceKey(id)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored struct {
				Version int64 `json:"version"`
			}
			if json.Unmarshal(current, &stored) == nil && stored.Version > snapshot.Version {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			pipe.SAdd(ctx, s.indexKey(), id)
			return nil
		})
		return err
	}

	const maxRetries = 5
	for range maxRetries {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every indexed snapshot ordered by creation time. Index entries whose
// document has expired are pruned.
func (s *RedisStore) LoadAll(ctx context.Context) ([]engine.Instance, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index read failed: %w", err)
	}
	out := []engine.Instance{}
	if len(ids) == 0 {
		return out, nil
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.instanceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var inst engine.Instance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", ids[i], err)
		}
		out = append(out, inst)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis index prune failed: %w", err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the snapshot and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	id = strings.TrimSpace(id)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.instanceKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (s *RedisStore) instanceKey(id string) string {
	return s.prefix + ":instance:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}
