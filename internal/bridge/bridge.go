// Package bridge defines the chat-platform bridge contract named
// out-of-scope for its internals at §6: a bridge only needs to move text
// in and out, with its platform-specific formatting, threading, and
// attachment handling left to the adapter.
package bridge

import "context"

// ChatBridge sends Overseer replies to, and receives user messages from,
// one chat platform.
type ChatBridge interface {
	// Send delivers text to the platform's configured destination.
	Send(ctx context.Context, text string) error

	// Inbound streams user messages received from the platform. Closed
	// when the bridge is stopped.
	Inbound() <-chan string

	// Close stops the bridge and releases its connection.
	Close() error
}
