package crdt

import (
	"errors"
	"sync"

	"github.com/meshkv/meshkv/pkg/keys"
)

// txState is the latest pending operation for a key inside a
// transaction.
type txState struct {
	removed bool
	value   []byte
}

// Transaction groups puts and removes into one delta that publishes as
// a single DAG node, so observers see all of its operations or none.
// Reads through Get see the transaction's own pending writes first.
//
// A transaction whose pending delta outgrows MaxBatchDeltaSize is
// committed automatically and keeps accepting operations. Abandoning
// an uncommitted transaction has no side effects.
type Transaction struct {
	d *Datastore

	mu        sync.Mutex
	delta     *Delta
	modified  map[string]bool
	pending   map[string]txState
	committed bool
}

func newTransaction(d *Datastore) *Transaction {
	return &Transaction{
		d:        d,
		delta:    &Delta{},
		modified: make(map[string]bool),
		pending:  make(map[string]txState),
	}
}

// Put adds a key-value pair to the transaction.
func (t *Transaction) Put(key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return ErrAlreadyCommitted
	}
	canonical := keys.New(key).String()
	if canonical == "/" {
		return ErrInvalidKey
	}

	t.delta = MergeDeltas(t.delta, t.d.set.CreateDeltaToAdd(key, value))
	t.modified[canonical] = true
	t.pending[canonical] = txState{value: value}
	return t.autoCommit()
}

// Remove tombstones every instance of key observable at the time of the
// call.
func (t *Transaction) Remove(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return ErrAlreadyCommitted
	}
	canonical := keys.New(key).String()

	removeDelta, err := t.d.set.CreateDeltaToRemove(key)
	if err != nil {
		return err
	}
	t.delta = MergeDeltas(t.delta, removeDelta)
	t.modified[canonical] = true
	t.pending[canonical] = txState{removed: true}
	return t.autoCommit()
}

// Get returns the pending value for key when this transaction wrote
// one, falling back to the datastore otherwise.
func (t *Transaction) Get(key string) ([]byte, error) {
	canonical := keys.New(key).String()
	t.mu.Lock()
	state, ok := t.pending[canonical]
	t.mu.Unlock()
	if ok {
		if state.removed {
			return nil, ErrNotFound
		}
		return state.value, nil
	}
	return t.d.Get(key)
}

// Has reports whether key is observable through this transaction.
func (t *Transaction) Has(key string) (bool, error) {
	_, err := t.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Modified reports whether this transaction has a pending operation on
// key.
func (t *Transaction) Modified(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modified[keys.New(key).String()]
}

// Commit publishes the combined delta as one DAG node, broadcast on
// each of the supplied topics (or the store's defaults when none are
// given). A second commit returns ErrAlreadyCommitted; a failed commit
// leaves the transaction open.
func (t *Transaction) Commit(topics ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return ErrAlreadyCommitted
	}
	if err := t.commitLocked(topics); err != nil {
		return err
	}
	t.committed = true
	return nil
}

func (t *Transaction) commitLocked(topics []string) error {
	if len(t.delta.Elements) == 0 && len(t.delta.Tombstones) == 0 {
		return nil
	}
	if err := t.d.publish(t.delta, topics); err != nil {
		return err
	}
	t.delta = &Delta{}
	t.modified = make(map[string]bool)
	t.pending = make(map[string]txState)
	return nil
}

// autoCommit publishes the pending delta when it outgrows the
// configured cap. The transaction stays open for further operations.
func (t *Transaction) autoCommit() error {
	if t.delta.Size() <= t.d.opts.MaxBatchDeltaSize {
		return nil
	}
	return t.commitLocked(nil)
}

// Rollback discards all pending operations.
func (t *Transaction) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delta = &Delta{}
	t.modified = make(map[string]bool)
	t.pending = make(map[string]txState)
}
