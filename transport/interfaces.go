// Package transport carries address book events to, and change commands
// from, systems outside the process.
package transport

import (
	"context"

	"github.com/kabili207/contactindex/core/notify"
)

// Publisher is the base interface for event transports. A Publisher is a
// notify.Observer: subscribe it to a book to forward its events.
type Publisher interface {
	notify.Observer

	// Start begins the transport's connection handling.
	// The provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool
	// SetCommandHandler sets the callback for incoming change commands.
	SetCommandHandler(fn CommandHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
}

// CommandHandler is called when a change command is received.
type CommandHandler func(cmd Command)

// StateHandler is called when the transport state changes.
type StateHandler func(p Publisher, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}
