package network

import (
	"context"
	"errors"
	"fmt"

	"offline-sns/internal/logging"
)

// Message is the transport envelope used by the runtime.
type Message struct {
	Topic   string
	Payload []byte
	// Remote is set when the message was published by another node.
	Remote bool
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}

const (
	BusMemory = "memory"
	BusLibp2p = "libp2p"
)

var ErrUnknownBus = errors.New("unknown bus kind")

// Options selects and configures a bus.
type Options struct {
	Kind   string
	Libp2p Libp2pOptions
	Logger logging.Logger
}

// New builds the bus named by opts.Kind. An empty kind means memory.
func New(ctx context.Context, opts Options) (PubSub, error) {
	switch opts.Kind {
	case "", BusMemory:
		return NewMemoryPubSub(opts.Logger), nil
	case BusLibp2p:
		lo := opts.Libp2p
		if lo.Logger == nil {
			lo.Logger = opts.Logger
		}
		return NewLibp2pPubSub(ctx, lo)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBus, opts.Kind)
	}
}
