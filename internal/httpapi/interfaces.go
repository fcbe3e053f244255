package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/ledger"
)

// ChannelReader abstracts channel read operations.
type ChannelReader interface {
	// ChannelByID returns a channel by id.
	ChannelByID(ctx context.Context, id uuid.UUID) (ledger.Channel, error)
	// Channels returns all channels ordered by code.
	Channels(ctx context.Context) ([]ledger.Channel, error)
}

// ChannelWriter abstracts channel registry writes. The ledger core never
// creates channels as a side effect; this is the operator surface.
type ChannelWriter interface {
	CreateChannel(ctx context.Context, c ledger.Channel) (ledger.Channel, error)
	UpdateChannel(ctx context.Context, c ledger.Channel) (ledger.Channel, error)
}

// ReadyChecker is optionally implemented by stores to indicate readiness.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}
