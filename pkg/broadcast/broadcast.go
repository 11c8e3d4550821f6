package broadcast

import (
	"errors"
)

// ErrClosed is returned by Next once a broadcaster has been stopped and
// its queue drained; the receiver loop should exit cleanly.
var ErrClosed = errors.New("broadcast: no more messages")

// Message is an opaque payload together with the topic it was
// published under.
type Message struct {
	Payload []byte
	Topic   string
}

// Broadcaster provides a way to send an opaque payload to all replicas
// and to retrieve payloads broadcasted by others.
type Broadcaster interface {
	// Broadcast sends payload to all subscribers of topic. An empty
	// topic publishes on the broadcaster's default topic. Fire and
	// forget: delivery is best-effort.
	Broadcast(payload []byte, topic string) error

	// Next blocks until the next inbound message arrives, returning
	// ErrClosed once the broadcaster is stopped.
	Next() (Message, error)

	// HasTopic reports whether this broadcaster is subscribed to topic.
	HasTopic(topic string) bool

	// Join subscribes this broadcaster to topic.
	Join(topic string) error

	Close() error
}
