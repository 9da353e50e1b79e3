package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/status"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, family Family, id string, dst Record) error {
	raw, err := s.client.Get(ctx, recordKey(family, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s %s: %w", family, id, status.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("ledger get %s %s: %w", family, id, err)
	}
	reset(dst)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("ledger decode %s %s: %w", family, id, err)
	}
	return nil
}

func (s *RedisStore) Set(ctx context.Context, family Family, id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger encode %s %s: %w", family, id, err)
	}
	key := recordKey(family, id)

	txf := func(tx *redis.Tx) error {
		before := map[string]string{}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var old indexedJSON
			if err := json.Unmarshal(raw, &old); err == nil {
				before = old.fields(rec)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			pipe.SAdd(ctx, familyKey(family), id)
			applyIndex(ctx, pipe, id, indexChanges(family, before, rec.IndexFields()))
			return nil
		})
		return err
	}
	return s.watch(ctx, key, txf)
}

func (s *RedisStore) Create(ctx context.Context, family Family, id string, rec Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("ledger encode %s %s: %w", family, id, err)
	}

	ok, err := s.client.SetNX(ctx, recordKey(family, id), string(data), 0).Result()
	if err != nil {
		return false, fmt.Errorf("ledger create %s %s: %w", family, id, err)
	}
	if !ok {
		return false, nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, familyKey(family), id)
		applyIndex(ctx, pipe, id, indexChanges(family, nil, rec.IndexFields()))
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("ledger index %s %s: %w", family, id, err)
	}
	return true, nil
}

func (s *RedisStore) Update(ctx context.Context, family Family, id string, dst Record, fn func() error) error {
	key := recordKey(family, id)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s %s: %w", family, id, status.ErrNotFound)
		}
		if err != nil {
			return err
		}
		reset(dst)
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("ledger decode %s %s: %w", family, id, err)
		}

		before := dst.IndexFields()
		if err := fn(); err != nil {
			return err
		}
		data, err := json.Marshal(dst)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			applyIndex(ctx, pipe, id, indexChanges(family, before, dst.IndexFields()))
			return nil
		})
		return err
	}

	err := s.watch(ctx, key, txf)
	if errors.Is(err, ErrSkip) {
		return nil
	}
	return err
}

func (s *RedisStore) watch(ctx context.Context, key string, txf func(tx *redis.Tx) error) error {
	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%s: %w", key, ErrConflict)
}

func (s *RedisStore) Query(ctx context.Context, family Family, field, equals string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, indexKey(family, field, equals)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger query %s.%s: %w", family, field, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) List(ctx context.Context, family Family) ([]string, error) {
	ids, err := s.client.SMembers(ctx, familyKey(family)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger list %s: %w", family, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

func (s *RedisStore) IncrementMany(ctx context.Context, deltas map[string]int64) error {
	keys := make([]string, 0, len(deltas))
	for k, d := range deltas {
		if d != 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.IncrBy(ctx, k, deltas[k])
		}
		return nil
	})
	return err
}

func (s *RedisStore) Counters(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			out[keys[i]] = 0
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", keys[i], err)
		}
		out[keys[i]] = n
	}
	return out, nil
}

func (s *RedisStore) SetCounters(ctx context.Context, values map[string]int64) error {
	if len(values) == 0 {
		return nil
	}
	pairs := make([]any, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	return s.client.MSet(ctx, pairs...).Err()
}

func (s *RedisStore) Flag(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, flagKey(key), 1, 0).Result()
}

func (s *RedisStore) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lockKey(key)
	token := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("ledger lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// The lease may outlive ctx, so release on a fresh context.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				releaseScript.Run(releaseCtx, s.client, []string{k}, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", key, status.ErrLocked)
		case <-time.After(lockPollInterval):
		}
	}
}

func applyIndex(ctx context.Context, pipe redis.Pipeliner, id string, changes []indexChange) {
	for _, c := range changes {
		if c.remove {
			pipe.SRem(ctx, c.key, id)
		} else {
			pipe.SAdd(ctx, c.key, id)
		}
	}
}

// indexedJSON decodes a stored record generically so Set can drop stale
// index entries without knowing the concrete type.
type indexedJSON map[string]any

func (m indexedJSON) fields(like Record) map[string]string {
	out := map[string]string{}
	for f := range like.IndexFields() {
		switch v := m[f].(type) {
		case string:
			out[f] = v
		case bool:
			if v {
				out[f] = "true"
			}
		}
	}
	return out
}
