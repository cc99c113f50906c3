// Package channels implements chat transports that feed the message bus.
package channels

import (
	"context"
)

// Channel defines the interface for chat platforms.
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
}

// RouteRecorder records which session group produced an outgoing message so
// replies to it route back to the same group. Satisfied by
// *router.ReplyRoutes.
type RouteRecorder interface {
	Record(messageID, group string) error
}
