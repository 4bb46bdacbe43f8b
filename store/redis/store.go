// Package redis implements the store contract on Redis via redigo.
package redis

import (
	"context"
	"fmt"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	redisutil "github.com/loamlabs/taskqueue/internal/redis"
	"github.com/loamlabs/taskqueue/store"

	"github.com/gomodule/redigo/redis"
)

// hsetIfEquals atomically swaps a hash field only when it holds the expected
// value. This is the claim/transition primitive the queue's state machine
// relies on.
var hsetIfEquals = redis.NewScript(1, `
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0`)

// Store implements store.Store on Redis. All operations are single-key and
// rely on Redis command atomicity; the compare-and-set uses a Lua script.
type Store struct {
	pool    *redis.Pool
	options Options
}

var _ store.Store = (*Store)(nil)

// New creates a Redis store. Call Connect before use.
func New(options Options) *Store {
	return &Store{options: options}
}

// Connect establishes the connection pool and verifies connectivity.
func (s *Store) Connect(ctx context.Context) error {
	pool, err := redisutil.CreatePool(s.options)
	if err != nil {
		return qerrors.NewConnectionError(s.options.URI,
			fmt.Errorf("failed to create Redis pool: %w", err))
	}
	s.pool = pool

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return qerrors.NewConnectionError(s.options.URI, err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return qerrors.NewConnectionError(s.options.URI,
			fmt.Errorf("ping failed: %w", err))
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		return s.pool.Close()
	}
	return nil
}

// Health checks connectivity.
func (s *Store) Health() error {
	if s.pool == nil {
		return qerrors.ErrNotConnected
	}
	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return qerrors.NewConnectionError(s.options.URI,
			fmt.Errorf("health check failed: %w", err))
	}
	return nil
}

func (s *Store) conn(ctx context.Context) (redis.Conn, error) {
	if s.pool == nil {
		return nil, qerrors.ErrNotConnected
	}
	return s.pool.GetContext(ctx)
}

// ZAdd inserts or updates a sorted-set member.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return qerrors.NewStoreError("zadd", key, err)
	}
	defer conn.Close()

	if _, err := conn.Do("ZADD", key, score, member); err != nil {
		return qerrors.NewStoreError("zadd", key, err)
	}
	return nil
}

// ZRem removes a member, reporting whether it was present.
func (s *Store) ZRem(ctx context.Context, key, member string) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, qerrors.NewStoreError("zrem", key, err)
	}
	defer conn.Close()

	removed, err := redis.Int(conn.Do("ZREM", key, member))
	if err != nil {
		return false, qerrors.NewStoreError("zrem", key, err)
	}
	return removed > 0, nil
}

// ZRange returns members ordered by ascending score.
func (s *Store) ZRange(ctx context.Context, key string, start, stop int) ([]store.ZEntry, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, qerrors.NewStoreError("zrange", key, err)
	}
	defer conn.Close()

	values, err := redis.Values(conn.Do("ZRANGE", key, start, stop, "WITHSCORES"))
	if err != nil {
		return nil, qerrors.NewStoreError("zrange", key, err)
	}

	entries := make([]store.ZEntry, 0, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		member, err := redis.String(values[i], nil)
		if err != nil {
			return nil, qerrors.NewStoreError("zrange", key, err)
		}
		score, err := redis.Float64(values[i+1], nil)
		if err != nil {
			return nil, qerrors.NewStoreError("zrange", key, err)
		}
		entries = append(entries, store.ZEntry{Member: member, Score: score})
	}
	return entries, nil
}

// ZCard returns the cardinality of a sorted set.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, qerrors.NewStoreError("zcard", key, err)
	}
	defer conn.Close()

	n, err := redis.Int64(conn.Do("ZCARD", key))
	if err != nil {
		return 0, qerrors.NewStoreError("zcard", key, err)
	}
	return n, nil
}

// HSet writes hash fields.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return qerrors.NewStoreError("hset", key, err)
	}
	defer conn.Close()

	args := redis.Args{}.Add(key)
	for field, value := range fields {
		args = args.Add(field, value)
	}
	if _, err := conn.Do("HSET", args...); err != nil {
		return qerrors.NewStoreError("hset", key, err)
	}
	return nil
}

// HGet reads one hash field.
func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return "", false, qerrors.NewStoreError("hget", key, err)
	}
	defer conn.Close()

	reply, err := conn.Do("HGET", key, field)
	if err != nil {
		return "", false, qerrors.NewStoreError("hget", key, err)
	}
	if reply == nil {
		return "", false, nil
	}
	value, err := redis.String(reply, nil)
	if err != nil {
		return "", false, qerrors.NewStoreError("hget", key, err)
	}
	return value, true, nil
}

// HGetAll reads all hash fields.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, qerrors.NewStoreError("hgetall", key, err)
	}
	defer conn.Close()

	fields, err := redis.StringMap(conn.Do("HGETALL", key))
	if err != nil {
		return nil, qerrors.NewStoreError("hgetall", key, err)
	}
	return fields, nil
}

// HSetIfEquals atomically swaps a hash field when it holds the expected value.
func (s *Store) HSetIfEquals(ctx context.Context, key, field, want, next string) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, qerrors.NewStoreError("hsetifequals", key, err)
	}
	defer conn.Close()

	swapped, err := redis.Int(hsetIfEquals.Do(conn, key, field, want, next))
	if err != nil {
		return false, qerrors.NewStoreError("hsetifequals", key, err)
	}
	return swapped > 0, nil
}

// SAdd adds a member to a set.
func (s *Store) SAdd(ctx context.Context, key, member string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return qerrors.NewStoreError("sadd", key, err)
	}
	defer conn.Close()

	if _, err := conn.Do("SADD", key, member); err != nil {
		return qerrors.NewStoreError("sadd", key, err)
	}
	return nil
}

// SRem removes a member from a set.
func (s *Store) SRem(ctx context.Context, key, member string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return qerrors.NewStoreError("srem", key, err)
	}
	defer conn.Close()

	if _, err := conn.Do("SREM", key, member); err != nil {
		return qerrors.NewStoreError("srem", key, err)
	}
	return nil
}

// SMembers returns all members of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, qerrors.NewStoreError("smembers", key, err)
	}
	defer conn.Close()

	members, err := redis.Strings(conn.Do("SMEMBERS", key))
	if err != nil {
		return nil, qerrors.NewStoreError("smembers", key, err)
	}
	return members, nil
}

// SetEx writes a value with a ttl.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return qerrors.NewStoreError("setex", key, err)
	}
	defer conn.Close()

	if _, err := conn.Do("SET", key, value, "PX", int64(ttl/time.Millisecond)); err != nil {
		return qerrors.NewStoreError("setex", key, err)
	}
	return nil
}

// Get reads a value, reporting whether the key exists.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, false, qerrors.NewStoreError("get", key, err)
	}
	defer conn.Close()

	reply, err := conn.Do("GET", key)
	if err != nil {
		return nil, false, qerrors.NewStoreError("get", key, err)
	}
	if reply == nil {
		return nil, false, nil
	}
	value, err := redis.Bytes(reply, nil)
	if err != nil {
		return nil, false, qerrors.NewStoreError("get", key, err)
	}
	return value, true, nil
}

// Expire sets a ttl on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return qerrors.NewStoreError("expire", key, err)
	}
	defer conn.Close()

	if _, err := conn.Do("PEXPIRE", key, int64(ttl/time.Millisecond)); err != nil {
		return qerrors.NewStoreError("expire", key, err)
	}
	return nil
}
