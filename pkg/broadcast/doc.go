/*
Package broadcast defines the pub/sub boundary the CRDT store gossips
through, plus an in-process implementation.

The Broadcaster interface is deliberately small: fire-and-forget
Broadcast to a topic, a blocking Next that ends with ErrClosed, and
topic membership. The store treats payloads as opaque; the envelope
codec lives with the CRDT driver.

Broker wires replicas living in one process: each replica owns an
Endpoint, messages fan out to every other endpoint subscribed to the
topic, and slow consumers drop rather than block the publisher. A
networked deployment swaps the Broker for a transport-backed
Broadcaster; the driver cannot tell the difference.
*/
package broadcast
