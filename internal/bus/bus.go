// Package bus provides event bus implementations for the alert/audit sink.
package bus

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates an event bus based on configuration. The channel bus serves
// single-process deployments; NATS fans alerts out to external consumers.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
