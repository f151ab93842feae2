package lists

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	blockPrefix     = "kestrel:block:"
	whitelistPrefix = "kestrel:whitelist:"
)

// RedisStore implements ListStore using Redis. Time-bounded blocks map to
// key TTLs so expiry is enforced server-side; permanent blocks have no TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed list store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Block records a block for an entity.
func (s *RedisStore) Block(ctx context.Context, rec domain.BlockRecord) error {
	if err := rec.Entity.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	var ttl time.Duration // 0 = no expiry
	if rec.ExpiresAt != nil {
		ttl = time.Until(*rec.ExpiresAt)
		if ttl <= 0 {
			return nil // already expired, nothing to store
		}
	}

	return s.client.Set(ctx, blockPrefix+rec.Entity.String(), payload, ttl).Err()
}

// Unblock removes a block.
func (s *RedisStore) Unblock(ctx context.Context, key domain.EntityKey) error {
	return s.client.Del(ctx, blockPrefix+key.String()).Err()
}

// GetBlock returns the active block for an entity, or nil, nil.
func (s *RedisStore) GetBlock(ctx context.Context, key domain.EntityKey) (*domain.BlockRecord, error) {
	data, err := s.client.Get(ctx, blockPrefix+key.String()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec domain.BlockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBlocks returns all active blocks.
func (s *RedisStore) ListBlocks(ctx context.Context) ([]domain.BlockRecord, error) {
	var out []domain.BlockRecord

	iter := s.client.Scan(ctx, 0, blockPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}

		var rec domain.BlockRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Whitelist adds an entity to the whitelist.
func (s *RedisStore) Whitelist(ctx context.Context, entry domain.WhitelistEntry) error {
	if err := entry.Entity.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, whitelistPrefix+entry.Entity.String(), payload, 0).Err()
}

// Unwhitelist removes an entity from the whitelist.
func (s *RedisStore) Unwhitelist(ctx context.Context, key domain.EntityKey) error {
	return s.client.Del(ctx, whitelistPrefix+key.String()).Err()
}

// IsWhitelisted reports whitelist membership.
func (s *RedisStore) IsWhitelisted(ctx context.Context, key domain.EntityKey) (bool, error) {
	n, err := s.client.Exists(ctx, whitelistPrefix+key.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping checks Redis health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
