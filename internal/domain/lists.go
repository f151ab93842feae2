package domain

import (
	"context"
	"time"
)

// BlockRecord marks an entity as blocked. Created automatically when a
// velocity rule's block threshold is exceeded, or manually for curated
// blacklists. A nil ExpiresAt means the block is permanent.
type BlockRecord struct {
	Entity    EntityKey  `json:"entity"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the block is in force at the given time.
func (b *BlockRecord) Active(now time.Time) bool {
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

// WhitelistEntry marks an entity as trusted; membership subtracts a fixed
// bonus from the composite risk score.
type WhitelistEntry struct {
	Entity    EntityKey `json:"entity"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListStore holds block and whitelist state. Consulted synchronously by the
// Risk Scorer on every candidate. Implementations: bounded in-memory store
// with TTL eviction, or Redis for shared deployments.
type ListStore interface {
	// Block records a block for an entity, replacing any existing block.
	Block(ctx context.Context, rec BlockRecord) error

	// Unblock removes a block. Removing a missing block is not an error.
	Unblock(ctx context.Context, key EntityKey) error

	// GetBlock returns the active block for an entity, or nil, nil when the
	// entity is not blocked (expired blocks count as absent).
	GetBlock(ctx context.Context, key EntityKey) (*BlockRecord, error)

	// ListBlocks returns all active blocks.
	ListBlocks(ctx context.Context) ([]BlockRecord, error)

	// Whitelist adds an entity to the whitelist.
	Whitelist(ctx context.Context, entry WhitelistEntry) error

	// Unwhitelist removes an entity from the whitelist.
	Unwhitelist(ctx context.Context, key EntityKey) error

	// IsWhitelisted reports whitelist membership.
	IsWhitelisted(ctx context.Context, key EntityKey) (bool, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ListStoreConfig holds configuration for list store initialization.
type ListStoreConfig struct {
	// Type is the store type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Memory store settings
	MaxEntries int `json:"maxEntries" yaml:"max_entries"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"redisPassword" yaml:"redis_password"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db"`
}
