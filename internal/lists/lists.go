// Package lists provides block/whitelist store implementations.
package lists

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a list store based on configuration.
// Single-process deployments use the bounded in-memory store; shared
// deployments use Redis so blocks apply across instances.
func New(cfg domain.ListStoreConfig) (domain.ListStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.MaxEntries), nil

	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported list store type: %s", cfg.Type)
	}
}
