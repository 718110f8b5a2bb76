package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"AskBot/model"
)

// PayloadCache stores the context behind inline buttons and a couple of
// small per-user flags. Entries expire so stale buttons stop working.
// Callers supply the id so sibling buttons can list each other in Related
// before any payload is stored.
type PayloadCache interface {
	Put(ctx context.Context, id string, payload *model.ButtonPayload) error
	Get(ctx context.Context, id string) (*model.ButtonPayload, error)
	Remove(ctx context.Context, ids ...string) error
	// FirstAnswer reports whether this is the first answer the user ever
	// gives, recording the fact as a side effect. Used to decide whether to
	// show the code-of-conduct reminder.
	FirstAnswer(ctx context.Context, userID string) (bool, error)
}

const (
	payloadKeyPrefix     = "payload:"
	firstAnswerKeyPrefix = "first-answer:"
)

// RedisCache is the production PayloadCache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (c *RedisCache) Put(ctx context.Context, id string, payload *model.ButtonPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding payload: %w", err)
	}
	if err := c.client.Set(ctx, payloadKeyPrefix+id, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("error caching payload: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, id string) (*model.ButtonPayload, error) {
	data, err := c.client.Get(ctx, payloadKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, model.ErrPayloadExpired
	}
	if err != nil {
		return nil, fmt.Errorf("error reading payload: %w", err)
	}
	var payload model.ButtonPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("error decoding payload: %w", err)
	}
	return &payload, nil
}

func (c *RedisCache) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = payloadKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error removing payloads: %w", err)
	}
	return nil
}

func (c *RedisCache) FirstAnswer(ctx context.Context, userID string) (bool, error) {
	set, err := c.client.SetNX(ctx, firstAnswerKeyPrefix+userID, "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("error recording first answer: %w", err)
	}
	return set, nil
}

// MemoryCache is an in-memory PayloadCache for tests. It never expires
// entries.
type MemoryCache struct {
	mu       sync.Mutex
	payloads map[string]*model.ButtonPayload
	answered map[string]bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		payloads: make(map[string]*model.ButtonPayload),
		answered: make(map[string]bool),
	}
}

func (c *MemoryCache) Put(_ context.Context, id string, payload *model.ButtonPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[id] = payload
	return nil
}

func (c *MemoryCache) Get(_ context.Context, id string) (*model.ButtonPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.payloads[id]
	if !ok {
		return nil, model.ErrPayloadExpired
	}
	return payload, nil
}

func (c *MemoryCache) Remove(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.payloads, id)
	}
	return nil
}

func (c *MemoryCache) FirstAnswer(_ context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answered[userID] {
		return false, nil
	}
	c.answered[userID] = true
	return true, nil
}
