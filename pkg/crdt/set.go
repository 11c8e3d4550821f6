package crdt

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meshkv/meshkv/pkg/keys"
	"github.com/meshkv/meshkv/pkg/log"
	"github.com/meshkv/meshkv/pkg/storage"
)

// Namespaces inside the set's root prefix.
const (
	elemsNamespace = "s" // /<root>/s/<key>/<id>  element instance markers
	tombsNamespace = "t" // /<root>/t/<key>/<id>  tombstones
	keysNamespace  = "k" // /<root>/k/<key>/{v,p} winning value and priority
	valueSuffix    = "v"
	prioritySuffix = "p"
)

// PutHook is invoked once per accepted element after its value update.
// DeleteHook is invoked once per tombstone. Hooks run synchronously
// inside the merge critical section and cannot fail the merge.
type (
	PutHook    func(key string, value []byte)
	DeleteHook func(key string)
)

// Set implements an add-wins observed-remove set with a priority-ordered
// last-writer-wins value per key, backing all state in an ordered
// key-value store. It is agnostic to the Merkle-DAG layer: deltas come
// in, state comes out.
//
// A key is observable iff at least one element marker /s/<key>/<id>
// exists with no matching tombstone /t/<key>/<id>. The winning value at
// /k/<key>/v carries the highest priority seen; ties break toward the
// lexicographically greater value.
type Set struct {
	store      storage.Store
	ns         keys.Key
	putHook    PutHook
	deleteHook DeleteHook
	logger     zerolog.Logger

	// mu serialises Merge invocations so that the read-check-write on
	// per-key priorities cannot interleave.
	mu sync.Mutex
}

// NewSet creates a set rooted at namespace. Hooks may be nil.
func NewSet(store storage.Store, namespace keys.Key, putHook PutHook, deleteHook DeleteHook) *Set {
	return &Set{
		store:      store,
		ns:         namespace,
		putHook:    putHook,
		deleteHook: deleteHook,
		logger:     log.WithComponent("set"),
	}
}

// Path helpers. The user key is canonicalized so that /a, a and //a all
// name the same entry.

func (s *Set) elemsPrefix(key string) string {
	return s.ns.Child(elemsNamespace).String() + keys.New(key).String()
}

func (s *Set) tombsPrefix(key string) string {
	return s.ns.Child(tombsNamespace).String() + keys.New(key).String()
}

func (s *Set) keysKey(key string) string {
	return s.ns.Child(keysNamespace).String() + keys.New(key).String()
}

func (s *Set) valueKey(key string) string {
	return s.keysKey(key) + "/" + valueSuffix
}

func (s *Set) priorityKey(key string) string {
	return s.keysKey(key) + "/" + prioritySuffix
}

// CreateDeltaToAdd returns a delta adding the given key/value. The
// element ID is left empty; Merge files the instance under the id it is
// given, which the driver sets to the CID of the published block.
func (s *Set) CreateDeltaToAdd(key string, value []byte) *Delta {
	return &Delta{
		Elements: []Element{{Key: keys.New(key).String(), Value: value}},
	}
}

// CreateDeltaToRemove returns a delta tombstoning every currently
// observable instance of key. The delta is empty when the key is not in
// the set; callers suppress publication then.
func (s *Set) CreateDeltaToRemove(key string) (*Delta, error) {
	d := &Delta{}
	canonical := keys.New(key).String()
	prefix := s.elemsPrefix(key) + "/"

	results, err := s.store.Query([]byte(prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: querying elements of %s: %v", ErrStorage, canonical, err)
	}
	defer results.Close()

	for {
		entry, ok := results.Next()
		if !ok {
			break
		}
		id := strings.TrimPrefix(string(entry.Key), prefix)
		tombed, err := s.inTombsKeyID(canonical, id)
		if err != nil {
			return nil, err
		}
		if tombed {
			continue
		}
		d.Tombstones = append(d.Tombstones, Element{Key: canonical, ID: id})
	}
	return d, nil
}

// Element returns the current value for key, or ErrNotFound when the
// presence rule does not hold.
func (s *Set) Element(key string) ([]byte, error) {
	inSet, err := s.InSet(key)
	if err != nil {
		return nil, err
	}
	if !inSet {
		return nil, ErrNotFound
	}
	value, err := s.store.Get([]byte(s.valueKey(key)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading value of %s: %v", ErrStorage, key, err)
	}
	return value, nil
}

// InSet reports whether key has at least one non-tombstoned element
// instance.
func (s *Set) InSet(key string) (bool, error) {
	canonical := keys.New(key).String()
	prefix := s.elemsPrefix(key) + "/"

	results, err := s.store.Query([]byte(prefix))
	if err != nil {
		return false, fmt.Errorf("%w: querying elements of %s: %v", ErrStorage, canonical, err)
	}
	defer results.Close()

	for {
		entry, ok := results.Next()
		if !ok {
			return false, nil
		}
		id := strings.TrimPrefix(string(entry.Key), prefix)
		tombed, err := s.inTombsKeyID(canonical, id)
		if err != nil {
			return false, err
		}
		if !tombed {
			return true, nil
		}
	}
}

func (s *Set) inTombsKeyID(key, id string) (bool, error) {
	tombed, err := s.store.Has([]byte(s.tombsPrefix(key) + "/" + id))
	if err != nil {
		return false, fmt.Errorf("%w: checking tombstone of %s/%s: %v", ErrStorage, key, id, err)
	}
	return tombed, nil
}

// Iterator yields observable key-value pairs. Obtain one from
// QueryElements; re-calling QueryElements restarts the scan.
type Iterator struct {
	set     *Set
	results storage.Results
	prefix  string
}

// Next returns the next observable pair. ok is false once the scan is
// exhausted.
func (it *Iterator) Next() (key string, value []byte, ok bool, err error) {
	for {
		entry, more := it.results.Next()
		if !more {
			return "", nil, false, nil
		}
		k := string(entry.Key)
		if !strings.HasSuffix(k, "/"+valueSuffix) {
			continue
		}
		userKey := strings.TrimSuffix(strings.TrimPrefix(k, it.prefix), "/"+valueSuffix)
		if userKey == "" {
			continue
		}
		inSet, err := it.set.InSet(userKey)
		if err != nil {
			return "", nil, false, err
		}
		if !inSet {
			continue
		}
		return userKey, entry.Value, true, nil
	}
}

// Close releases the underlying query.
func (it *Iterator) Close() error {
	return it.results.Close()
}

// QueryElements scans observable pairs under the given key prefix. An
// empty prefix yields every observable pair. The iteration is lazy:
// presence checks run as the caller advances.
func (s *Set) QueryElements(prefix string) (*Iterator, error) {
	nsPrefix := s.ns.Child(keysNamespace).String()
	scan := nsPrefix
	if p := keys.New(prefix).String(); p != "/" {
		scan += p
	}
	results, err := s.store.Query([]byte(scan))
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", ErrStorage, scan, err)
	}
	return &Iterator{set: s, results: results, prefix: nsPrefix}, nil
}

// getPriority reads the stored winning priority for key; absent
// entries rank as zero.
func (s *Set) getPriority(key string) (uint64, error) {
	data, err := s.store.Get([]byte(s.priorityKey(key)))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading priority of %s: %v", ErrStorage, key, err)
	}
	prio, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad priority entry for %s: %v", ErrCodec, key, err)
	}
	return prio, nil
}

// pendingValue overlays the winning (priority, value) pairs written by
// the in-progress batch, so that multiple elements for one key inside a
// single delta compare against each other and not against stale store
// state.
type pendingValue struct {
	priority uint64
	value    []byte
}

// setValue updates the winning value for key iff the incoming priority
// wins: strictly greater, or equal with a lexicographically greater
// value. Tombstoned element instances never set values.
func (s *Set) setValue(b storage.Batch, pending map[string]pendingValue, key, id string, value []byte, priority uint64) (bool, error) {
	tombed, err := s.inTombsKeyID(key, id)
	if err != nil {
		return false, err
	}
	if tombed {
		return false, nil
	}

	curPrio, curValue := uint64(0), []byte(nil)
	if p, ok := pending[key]; ok {
		curPrio, curValue = p.priority, p.value
	} else {
		curPrio, err = s.getPriority(key)
		if err != nil {
			return false, err
		}
		curValue, err = s.store.Get([]byte(s.valueKey(key)))
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("%w: reading value of %s: %v", ErrStorage, key, err)
		}
	}

	if priority < curPrio {
		return false, nil
	}
	if priority == curPrio && bytes.Compare(value, curValue) <= 0 {
		return false, nil
	}

	if err := b.Put([]byte(s.valueKey(key)), value); err != nil {
		return false, fmt.Errorf("%w: batching value of %s: %v", ErrStorage, key, err)
	}
	if err := b.Put([]byte(s.priorityKey(key)), []byte(strconv.FormatUint(priority, 10))); err != nil {
		return false, fmt.Errorf("%w: batching priority of %s: %v", ErrStorage, key, err)
	}
	pending[key] = pendingValue{priority: priority, value: value}
	return true, nil
}

// Merge applies a delta under the given block identifier. Elements gain
// presence markers filed under their own ID (or id when empty) and
// compete for the winning value at the delta's priority; tombstones are
// recorded as-is. All writes commit in one batch, so observers see the
// delta entirely or not at all. Replaying the same delta with the same
// id converges to the same state.
func (s *Set) Merge(d *Delta, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.store.Batch()
	pending := make(map[string]pendingValue)

	type accepted struct {
		key   string
		value []byte
	}
	var acceptedElems []accepted

	for _, e := range d.Elements {
		eid := e.ID
		if eid == "" {
			eid = id
		}
		marker := s.elemsPrefix(e.Key) + "/" + eid
		if err := b.Put([]byte(marker), []byte{}); err != nil {
			return fmt.Errorf("%w: writing element marker %s: %v", ErrStorage, marker, err)
		}
		won, err := s.setValue(b, pending, keys.New(e.Key).String(), eid, e.Value, d.Priority)
		if err != nil {
			return fmt.Errorf("setting value for %s: %w", e.Key, err)
		}
		if won {
			acceptedElems = append(acceptedElems, accepted{key: keys.New(e.Key).String(), value: e.Value})
		}
	}

	for _, t := range d.Tombstones {
		tomb := s.tombsPrefix(t.Key) + "/" + t.ID
		if err := b.Put([]byte(tomb), []byte{}); err != nil {
			return fmt.Errorf("%w: writing tombstone %s: %v", ErrStorage, tomb, err)
		}
	}

	if err := b.Commit(); err != nil {
		return fmt.Errorf("%w: committing merge batch: %v", ErrStorage, err)
	}

	if s.putHook != nil {
		for _, a := range acceptedElems {
			s.putHook(a.key, a.value)
		}
	}
	if s.deleteHook != nil {
		for _, t := range d.Tombstones {
			s.deleteHook(keys.New(t.Key).String())
		}
	}
	return nil
}

// Sync flushes set state under the given user-key prefix.
func (s *Set) Sync(prefix string) error {
	for _, p := range []string{
		s.elemsPrefix(prefix),
		s.tombsPrefix(prefix),
		s.keysKey(prefix),
	} {
		if err := s.store.Sync([]byte(p)); err != nil {
			return fmt.Errorf("%w: syncing %s: %v", ErrStorage, p, err)
		}
	}
	return nil
}
