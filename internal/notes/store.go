// Package notes is the capped, per-booking message buffer shared by the
// passenger and driver of a booking.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

const DefaultCap = 50

// Store holds the most recent notes of each booking, oldest first.
type Store interface {
	Append(ctx context.Context, n models.Note) error
	List(ctx context.Context, bookingID string) ([]models.Note, error)
}

const shardCount = 32

// sweepEvery is how many appends a shard takes between expiry sweeps.
const sweepEvery = 64

type buffer struct {
	notes   []models.Note
	touched time.Time
}

type shard struct {
	mu      sync.Mutex
	notes   map[string]*buffer
	appends int
}

// MemoryStore keeps buffers in process. Each booking id hashes to one shard
// so appends to the same booking are serialized. A buffer expires ttl after
// its last append, like the Redis lists; ttl <= 0 keeps buffers forever.
type MemoryStore struct {
	cap    int
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]*shard
}

func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	m := &MemoryStore{cap: capacity, ttl: ttl, now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{notes: make(map[string]*buffer)}
	}
	return m
}

func (m *MemoryStore) shardFor(bookingID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bookingID))
	return m.shards[h.Sum32()%shardCount]
}

func (m *MemoryStore) expired(b *buffer, now time.Time) bool {
	return m.ttl > 0 && now.Sub(b.touched) > m.ttl
}

func (m *MemoryStore) Append(ctx context.Context, n models.Note) error {
	s := m.shardFor(n.BookingID)
	now := m.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.appends%sweepEvery == 0 {
		for id, b := range s.notes {
			if m.expired(b, now) {
				delete(s.notes, id)
			}
		}
	}
	b, ok := s.notes[n.BookingID]
	if !ok || m.expired(b, now) {
		b = &buffer{}
		s.notes[n.BookingID] = b
	}
	b.notes = append(b.notes, n)
	if over := len(b.notes) - m.cap; over > 0 {
		b.notes = append([]models.Note(nil), b.notes[over:]...)
	}
	b.touched = now
	return nil
}

func (m *MemoryStore) List(ctx context.Context, bookingID string) ([]models.Note, error) {
	s := m.shardFor(bookingID)
	now := m.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.notes[bookingID]
	if !ok {
		return []models.Note{}, nil
	}
	if m.expired(b, now) {
		delete(s.notes, bookingID)
		return []models.Note{}, nil
	}
	out := make([]models.Note, len(b.notes))
	copy(out, b.notes)
	return out, nil
}

// Len reports how many bookings currently hold a buffer.
func (m *MemoryStore) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.notes)
		s.mu.Unlock()
	}
	return total
}

// RedisStore keeps each buffer in a Redis list so every gateway replica
// sees the same notes. Lists expire ttl after the last append.
type RedisStore struct {
	client *redis.Client
	cap    int
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, capacity int, ttl time.Duration) *RedisStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &RedisStore{client: client, cap: capacity, ttl: ttl}
}

func redisKey(bookingID string) string { return "booking:notes:" + bookingID }

func (r *RedisStore) Append(ctx context.Context, n models.Note) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode note: %w", err)
	}
	key := redisKey(n.BookingID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		p.LTrim(ctx, key, int64(-r.cap), -1)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append note: %w", err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context, bookingID string) ([]models.Note, error) {
	raw, err := r.client.LRange(ctx, redisKey(bookingID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list notes: %w", err)
	}
	out := make([]models.Note, 0, len(raw))
	for _, s := range raw {
		var n models.Note
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
