package port

import (
	"context"

	"github.com/huyvnnb/tanin/internal/core/domain"
)

// Gateway is the connection/fan-out layer: a per-process registry of live
// clients plus cross-process event delivery over one shared channel.
type Gateway interface {
	// Register records the client as the identity's live local handle. A
	// reconnecting identity supersedes (and closes) its prior handle.
	Register(id domain.UserID, c Client)

	// Unregister drops the handle, but only if c is still the current one,
	// so a superseded connection's deferred cleanup cannot evict its
	// successor. Safe to call when absent.
	Unregister(id domain.UserID, c Client)

	// Publish serializes the event with its target and publishes it on the
	// shared channel. Delivery to a same-process recipient still goes
	// through the channel: one code path for all recipients.
	Publish(ctx context.Context, target domain.UserID, ev domain.ServerEvent) error

	// Listen subscribes to the shared channel and delivers each decoded
	// event to the locally registered target, dropping messages for
	// identities connected elsewhere. It blocks until ctx is cancelled;
	// cancellation is observed only between receives.
	Listen(ctx context.Context) error
}

// Client is a live transport handle held by the Gateway.
type Client interface {
	ID() string
	Send(encoded []byte) error
	Close() error
}
