// Package broker provides the per-session outbox through which the server
// pushes unsolicited messages to a client's open GET stream.
//
// Delivery is FIFO per session and at-most-once: Drain atomically removes
// everything pending, so an entry handed to one stream is never seen by
// another. Subscribers receive a coalesced wake-up signal when something is
// published and are expected to Drain in response.
package broker

import "context"

// Broker queues server-initiated messages per session.
type Broker interface {
	// Publish appends data to the session's outbox and wakes its subscribers.
	Publish(ctx context.Context, sessionID string, data []byte) error

	// Drain removes and returns every pending entry for the session, oldest
	// first. An empty outbox yields a nil slice.
	Drain(ctx context.Context, sessionID string) ([]Envelope, error)

	// Subscribe registers interest in the session's outbox. The returned
	// subscription's Ready channel receives a signal after each publish;
	// signals coalesce while unread.
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)

	// Cleanup drops the session's pending entries.
	Cleanup(ctx context.Context, sessionID string) error
}

// Subscription is a registration returned by Broker.Subscribe.
type Subscription interface {
	Ready() <-chan struct{}
	Close() error
}

// Envelope wraps an outbox entry.
type Envelope struct {
	// ID is unique within the session and increases with publish order.
	ID string `json:"id" msgpack:"id"`
	// Data is the JSON-serialized message content.
	Data []byte `json:"data" msgpack:"data"`
}
