// Package settlement implements payment provider clients.
package settlement

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a settlement provider based on configuration.
func New(cfg domain.SettlementConfig) (domain.Settler, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPProvider(cfg)

	case "mock":
		return NewMockProvider(), nil

	default:
		return nil, fmt.Errorf("unsupported settlement provider: %s", cfg.Provider)
	}
}
