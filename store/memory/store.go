// Package memory implements the store contract in process memory.
//
// It exists so the queue and worker packages can be tested without a Redis
// server; every method is atomic under one mutex, which satisfies the same
// contract the Redis commands provide.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/store"
)

// Store implements store.Store using in-memory maps.
type Store struct {
	mu        sync.Mutex
	connected bool
	zsets     map[string]map[string]float64
	hashes    map[string]map[string]string
	sets      map[string]map[string]struct{}
	values    map[string][]byte
	deadlines map[string]time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a connected in-memory store.
func New() *Store {
	return &Store{
		connected: true,
		zsets:     make(map[string]map[string]float64),
		hashes:    make(map[string]map[string]string),
		sets:      make(map[string]map[string]struct{}),
		values:    make(map[string][]byte),
		deadlines: make(map[string]time.Time),
	}
}

// Connect marks the store connected (no-op otherwise).
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Close drops all data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.zsets = make(map[string]map[string]float64)
	s.hashes = make(map[string]map[string]string)
	s.sets = make(map[string]map[string]struct{})
	s.values = make(map[string][]byte)
	s.deadlines = make(map[string]time.Time)
	return nil
}

// Health reports connectivity.
func (s *Store) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerrors.ErrNotConnected
	}
	return nil
}

// reap drops a key if its deadline has passed. Callers hold the lock.
func (s *Store) reap(key string) {
	deadline, ok := s.deadlines[key]
	if !ok || time.Now().Before(deadline) {
		return
	}
	delete(s.deadlines, key)
	delete(s.hashes, key)
	delete(s.values, key)
	delete(s.zsets, key)
	delete(s.sets, key)
}

func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerrors.ErrNotConnected
	}
	zset, ok := s.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (s *Store) ZRem(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, qerrors.ErrNotConnected
	}
	zset, ok := s.zsets[key]
	if !ok {
		return false, nil
	}
	if _, present := zset[member]; !present {
		return false, nil
	}
	delete(zset, member)
	return true, nil
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int) ([]store.ZEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, qerrors.ErrNotConnected
	}
	zset := s.zsets[key]
	entries := make([]store.ZEntry, 0, len(zset))
	for member, score := range zset {
		entries = append(entries, store.ZEntry{Member: member, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score < entries[j].Score
		}
		return entries[i].Member < entries[j].Member
	})

	// Same index conventions as Redis ZRANGE.
	n := len(entries)
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	return entries[start : stop+1], nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, qerrors.ErrNotConnected
	}
	return int64(len(s.zsets[key])), nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerrors.ErrNotConnected
	}
	s.reap(key)
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = value
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", false, qerrors.ErrNotConnected
	}
	s.reap(key)
	value, ok := s.hashes[key][field]
	return value, ok, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, qerrors.ErrNotConnected
	}
	s.reap(key)
	fields := make(map[string]string, len(s.hashes[key]))
	for field, value := range s.hashes[key] {
		fields[field] = value
	}
	return fields, nil
}

func (s *Store) HSetIfEquals(ctx context.Context, key, field, want, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, qerrors.ErrNotConnected
	}
	s.reap(key)
	hash, ok := s.hashes[key]
	if !ok {
		return false, nil
	}
	if hash[field] != want {
		return false, nil
	}
	hash[field] = next
	return true, nil
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerrors.ErrNotConnected
	}
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerrors.ErrNotConnected
	}
	delete(s.sets[key], member)
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, qerrors.ErrNotConnected
	}
	members := make([]string, 0, len(s.sets[key]))
	for member := range s.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerrors.ErrNotConnected
	}
	s.values[key] = append([]byte(nil), value...)
	s.deadlines[key] = time.Now().Add(ttl)
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, false, qerrors.ErrNotConnected
	}
	s.reap(key)
	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return qerrors.ErrNotConnected
	}
	s.deadlines[key] = time.Now().Add(ttl)
	return nil
}
