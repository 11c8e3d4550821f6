package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meshkv/meshkv/pkg/log"
)

// DefaultTopic is the topic used when publishing with an empty topic
// name.
const DefaultTopic = "meshkv"

// Broker distributes messages between the endpoints attached to it.
// It is an in-process transport: every replica sharing a broker sees
// every message published by the others. Replicas in separate
// processes need a networked Broadcaster instead; the driver does not
// care which it is handed.
type Broker struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	closed    bool
	logger    zerolog.Logger
}

// NewBroker creates a broker with no attached endpoints.
func NewBroker() *Broker {
	return &Broker{
		endpoints: make(map[string]*Endpoint),
		logger:    log.WithComponent("broker"),
	}
}

// Endpoint attaches a new endpoint, pre-subscribed to the default
// topic. Each replica owns exactly one endpoint.
func (b *Broker) Endpoint() *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep := &Endpoint{
		id:     uuid.NewString(),
		broker: b,
		topics: map[string]bool{DefaultTopic: true},
		inbox:  make(chan Message, 128),
	}
	if !b.closed {
		b.endpoints[ep.id] = ep
	}
	return ep
}

// publish delivers msg to every endpoint subscribed to its topic,
// except the sender. Full inboxes are skipped rather than blocked on.
func (b *Broker) publish(senderID string, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ep := range b.endpoints {
		if id == senderID {
			continue
		}
		if !ep.HasTopic(msg.Topic) {
			continue
		}
		select {
		case ep.inbox <- msg:
		default:
			b.logger.Warn().Str("topic", msg.Topic).Msg("endpoint inbox full, dropping message")
		}
	}
}

func (b *Broker) detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, id)
}

// Close detaches and closes every endpoint.
func (b *Broker) Close() {
	b.mu.Lock()
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	b.endpoints = make(map[string]*Endpoint)
	b.closed = true
	b.mu.Unlock()

	for _, ep := range eps {
		ep.closeInbox()
	}
}

// Endpoint is one replica's attachment to a Broker. It implements
// Broadcaster.
type Endpoint struct {
	id     string
	broker *Broker

	mu     sync.RWMutex
	topics map[string]bool
	closed bool

	inbox chan Message
}

// Broadcast publishes payload on topic to all other endpoints.
func (e *Endpoint) Broadcast(payload []byte, topic string) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if topic == "" {
		topic = DefaultTopic
	}
	e.broker.publish(e.id, Message{Payload: payload, Topic: topic})
	return nil
}

// Next blocks for the next inbound message.
func (e *Endpoint) Next() (Message, error) {
	msg, ok := <-e.inbox
	if !ok {
		return Message{}, ErrClosed
	}
	return msg, nil
}

// HasTopic reports whether the endpoint is subscribed to topic.
func (e *Endpoint) HasTopic(topic string) bool {
	if topic == "" {
		topic = DefaultTopic
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topics[topic]
}

// Join subscribes the endpoint to topic.
func (e *Endpoint) Join(topic string) error {
	if topic == "" {
		topic = DefaultTopic
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.topics[topic] = true
	return nil
}

// Close detaches the endpoint from its broker and unblocks Next.
func (e *Endpoint) Close() error {
	e.broker.detach(e.id)
	e.closeInbox()
	return nil
}

func (e *Endpoint) closeInbox() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.inbox)
	}
}
