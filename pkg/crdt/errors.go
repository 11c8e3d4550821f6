package crdt

import (
	"errors"
)

// The public error surface is a closed set of sentinel errors. Callers
// classify failures with errors.Is; everything else wraps the
// underlying storage error.
var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("crdt: key not found")

	// ErrNotInitialized is returned for operations on a store that has
	// not been opened or has been closed.
	ErrNotInitialized = errors.New("crdt: datastore not initialized")

	// ErrAlreadyCommitted is returned on a second commit of a
	// transaction.
	ErrAlreadyCommitted = errors.New("crdt: transaction already committed")

	// ErrStorage is returned when the underlying backend failed. The
	// failure is fatal to the specific operation but does not poison
	// the store.
	ErrStorage = errors.New("crdt: storage error")

	// ErrCodec is returned for corrupt serialized deltas or broadcast
	// envelopes.
	ErrCodec = errors.New("crdt: codec error")

	// ErrBroadcast is returned when the broadcaster rejected a payload
	// or was stopped.
	ErrBroadcast = errors.New("crdt: broadcast error")

	// ErrDAGFetch is returned when a DAG node could not be fetched.
	ErrDAGFetch = errors.New("crdt: dag fetch error")

	// ErrInvalidOption is returned by Options.Validate.
	ErrInvalidOption = errors.New("crdt: invalid option")

	// ErrInvalidKey is returned for empty or malformed keys.
	ErrInvalidKey = errors.New("crdt: invalid key")
)
