package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
)

// MemoryStore is a process-local Store. It backs tests and single-node
// development runs; it gives the same per-key guarantees as RedisStore.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string][]byte
	families map[Family]map[string]struct{}
	indexes  map[string]map[string]struct{}
	counters map[string]int64
	flags    map[string]struct{}
	locks    map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  map[string][]byte{},
		families: map[Family]map[string]struct{}{},
		indexes:  map[string]map[string]struct{}{},
		counters: map[string]int64{},
		flags:    map[string]struct{}{},
		locks:    map[string]time.Time{},
	}
}

func (s *MemoryStore) Get(_ context.Context, family Family, id string, dst Record) error {
	s.mu.Lock()
	raw, ok := s.records[recordKey(family, id)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s %s: %w", family, id, status.ErrNotFound)
	}
	reset(dst)
	return json.Unmarshal(raw, dst)
}

func (s *MemoryStore) Set(_ context.Context, family Family, id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(family, id)
	before := map[string]string{}
	if raw, ok := s.records[key]; ok {
		var old indexedJSON
		if err := json.Unmarshal(raw, &old); err == nil {
			before = old.fields(rec)
		}
	}
	s.records[key] = data
	s.addToFamily(family, id)
	s.applyIndex(id, indexChanges(family, before, rec.IndexFields()))
	return nil
}

func (s *MemoryStore) Create(_ context.Context, family Family, id string, rec Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(family, id)
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = data
	s.addToFamily(family, id)
	s.applyIndex(id, indexChanges(family, nil, rec.IndexFields()))
	return true, nil
}

func (s *MemoryStore) Update(_ context.Context, family Family, id string, dst Record, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(family, id)
	raw, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%s %s: %w", family, id, status.ErrNotFound)
	}
	reset(dst)
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}

	before := dst.IndexFields()
	if err := fn(); err != nil {
		if errors.Is(err, ErrSkip) {
			return nil
		}
		return err
	}
	data, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	s.records[key] = data
	s.applyIndex(id, indexChanges(family, before, dst.IndexFields()))
	return nil
}

func (s *MemoryStore) Query(_ context.Context, family Family, field, equals string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.indexes[indexKey(family, field, equals)]), nil
}

func (s *MemoryStore) List(_ context.Context, family Family) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.families[family]), nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += delta
	return s.counters[key], nil
}

func (s *MemoryStore) IncrementMany(_ context.Context, deltas map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range deltas {
		s.counters[k] += d
	}
	return nil
}

func (s *MemoryStore) Counters(_ context.Context, keys []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		out[k] = s.counters[k]
	}
	return out, nil
}

func (s *MemoryStore) SetCounters(_ context.Context, values map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.counters[k] = v
	}
	return nil
}

func (s *MemoryStore) Flag(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[key]; ok {
		return false, nil
	}
	s.flags[key] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		s.mu.Lock()
		expiry, held := s.locks[key]
		if !held || time.Now().After(expiry) {
			acquired := time.Now().Add(ttl)
			s.locks[key] = acquired
			s.mu.Unlock()
			return func() {
				s.mu.Lock()
				if s.locks[key] == acquired {
					delete(s.locks, key)
				}
				s.mu.Unlock()
			}, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", key, status.ErrLocked)
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *MemoryStore) addToFamily(family Family, id string) {
	set, ok := s.families[family]
	if !ok {
		set = map[string]struct{}{}
		s.families[family] = set
	}
	set[id] = struct{}{}
}

func (s *MemoryStore) applyIndex(id string, changes []indexChange) {
	for _, c := range changes {
		set, ok := s.indexes[c.key]
		if c.remove {
			if ok {
				delete(set, id)
			}
			continue
		}
		if !ok {
			set = map[string]struct{}{}
			s.indexes[c.key] = set
		}
		set[id] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
