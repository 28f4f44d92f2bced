// Package kv implements the typed key/value store described for authoritative
// agent and task state: get/set with TTL, hashes, sorted sets, and channel
// pub/sub, all defaulting to JSON encoding for structured values.
package kv

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jarvis-labs/fabric/internal/bus"
)

// Store is the full C2 contract.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int) ([]string, error)
	ZRem(ctx context.Context, key, member string) error

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (func(), error)
}

type entry struct {
	value   []byte
	expires time.Time // zero = no TTL
}

type zmember struct {
	member string
	score  float64
}

// MemoryStore is an in-process Store, grounded on the jobs store's
// mutex-guarded-map-plus-insertion-order-slice idiom and generalized across
// the five operation families C2 requires.
type MemoryStore struct {
	mu     sync.RWMutex
	kv     map[string]entry
	keys   []string // insertion order, for deterministic iteration
	hashes map[string]map[string][]byte
	zsets  map[string][]zmember
	bus    *bus.Bus
}

// NewMemoryStore constructs a Store backed by process memory. A *bus.Bus is
// used to implement Publish/Subscribe, since both are subject/key addressed
// fan-out mechanisms.
func NewMemoryStore(b *bus.Bus) *MemoryStore {
	return &MemoryStore{
		kv:     make(map[string]entry),
		hashes: make(map[string]map[string][]byte),
		zsets:  make(map[string][]zmember),
		bus:    b,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	if _, existed := s.kv[key]; !existed {
		s.keys = append(s.keys, key)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.kv[key] = entry{value: stored, expires: expires}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kv[key]; ok {
		delete(s.kv, key)
		for i, k := range s.keys {
			if k == key {
				s.keys = append(s.keys[:i], s.keys[i+1:]...)
				break
			}
		}
	}
	delete(s.hashes, key)
	delete(s.zsets, key)
	return nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	h[field] = stored
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[key]
	if !ok {
		return nil, false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.zsets[key]
	for i, m := range set {
		if m.member == member {
			set[i].score = score
			sortZSet(set)
			s.zsets[key] = set
			return nil
		}
	}
	set = append(set, zmember{member: member, score: score})
	sortZSet(set)
	s.zsets[key] = set
	return nil
}

func sortZSet(set []zmember) {
	sort.SliceStable(set, func(i, j int) bool { return set[i].score < set[j].score })
}

// ZRange returns members ordered by ascending score within [start, stop]
// (inclusive), following the common zset-by-index convention; negative
// indices count from the end, as in -1 meaning the highest-scored member.
func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.zsets[key]
	n := len(set)
	start = normalizeIndex(start, n)
	stop = normalizeIndex(stop, n)
	if start > stop || start >= n || n == 0 {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	out := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, set[i].member)
	}
	return out, nil
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		i = n + i
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (s *MemoryStore) ZRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.zsets[key]
	for i, m := range set {
		if m.member == member {
			s.zsets[key] = append(set[:i], set[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(ctx, "kv."+channel, payload)
}

func (s *MemoryStore) Subscribe(_ context.Context, channel string, handler func(payload []byte)) (func(), error) {
	if s.bus == nil {
		return func() {}, nil
	}
	sub, err := s.bus.Subscribe("kv."+channel, func(_ context.Context, _ string, data []byte, _ string) {
		handler(data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// SetJSON is a convenience wrapper encoding v as JSON before Set.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data, ttl)
}

// GetJSON is a convenience wrapper decoding the stored value into v.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	return true, json.Unmarshal(data, v)
}
