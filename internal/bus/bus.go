package bus

import (
	"fmt"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

// New creates a new event bus based on configuration.
// "none" returns a nil bus, which callers treat as publishing disabled.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "", "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
