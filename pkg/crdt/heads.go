package crdt

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meshkv/meshkv/pkg/cid"
	"github.com/meshkv/meshkv/pkg/keys"
	"github.com/meshkv/meshkv/pkg/log"
	"github.com/meshkv/meshkv/pkg/storage"
)

type headEntry struct {
	height uint64
	topic  string
}

// Heads manages the current Merkle-DAG frontier: the set of block CIDs
// with no known descendant. Entries persist under /<ns>/<cidString> as
// "<height>[@<topic>]" text and are re-primed from storage on open, so
// a replica resumes from its last frontier.
type Heads struct {
	store storage.Store
	ns    keys.Key

	mu    sync.Mutex
	cache map[cid.CID]headEntry

	logger zerolog.Logger
}

// NewHeads creates the head set rooted at namespace and primes the
// in-memory cache from storage.
func NewHeads(store storage.Store, namespace keys.Key) (*Heads, error) {
	h := &Heads{
		store:  store,
		ns:     namespace,
		cache:  make(map[cid.CID]headEntry),
		logger: log.WithComponent("heads"),
	}
	if err := h.primeCache(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Heads) key(c cid.CID) []byte {
	return h.ns.Child(c.String()).Bytes()
}

func encodeHeadValue(height uint64, topic string) []byte {
	s := strconv.FormatUint(height, 10)
	if topic != "" {
		s += "@" + topic
	}
	return []byte(s)
}

func decodeHeadValue(data []byte) (uint64, string, error) {
	text, topic, _ := strings.Cut(string(data), "@")
	height, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad head height %q: %v", ErrCodec, text, err)
	}
	return height, topic, nil
}

// primeCache rebuilds the in-memory head map from persisted entries.
func (h *Heads) primeCache() error {
	prefix := h.ns.String() + "/"
	results, err := h.store.Query([]byte(prefix))
	if err != nil {
		return fmt.Errorf("%w: querying heads: %v", ErrStorage, err)
	}
	defer results.Close()

	for {
		entry, ok := results.Next()
		if !ok {
			break
		}
		strCid := strings.TrimPrefix(string(entry.Key), prefix)
		c, err := cid.Parse(strCid)
		if err != nil {
			h.logger.Warn().Str("key", string(entry.Key)).Msg("skipping unparsable head entry")
			continue
		}
		height, topic, err := decodeHeadValue(entry.Value)
		if err != nil {
			return err
		}
		h.cache[c] = headEntry{height: height, topic: topic}
	}
	return nil
}

// IsHead returns if a given cid is among the current heads.
func (h *Heads) IsHead(c cid.CID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cache[c]
	return ok
}

// Height returns the stored height for a head and whether c is a head.
func (h *Heads) Height(c cid.CID) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.cache[c]
	return e.height, ok
}

// Topic returns the topic recorded for a head, empty when unknown.
func (h *Heads) Topic(c cid.CID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache[c].topic
}

// Len returns the current number of heads.
func (h *Heads) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cache)
}

// Add inserts or overwrites a head. The entry persists before the
// in-memory map updates; a storage failure leaves the map untouched.
func (h *Heads) Add(c cid.CID, height uint64, topic string) error {
	b := h.store.Batch()
	if err := b.Put(h.key(c), encodeHeadValue(height, topic)); err != nil {
		return fmt.Errorf("%w: batching head %s: %v", ErrStorage, c, err)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("%w: persisting head %s: %v", ErrStorage, c, err)
	}

	h.mu.Lock()
	h.cache[c] = headEntry{height: height, topic: topic}
	h.mu.Unlock()
	return nil
}

// Replace atomically deletes old and inserts c as a head.
func (h *Heads) Replace(old, c cid.CID, height uint64, topic string) error {
	b := h.store.Batch()
	if err := b.Put(h.key(c), encodeHeadValue(height, topic)); err != nil {
		return fmt.Errorf("%w: batching head %s: %v", ErrStorage, c, err)
	}
	if err := b.Delete(h.key(old)); err != nil {
		return fmt.Errorf("%w: batching head delete %s: %v", ErrStorage, old, err)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("%w: replacing head %s with %s: %v", ErrStorage, old, c, err)
	}

	h.mu.Lock()
	delete(h.cache, old)
	h.cache[c] = headEntry{height: height, topic: topic}
	h.mu.Unlock()
	return nil
}

// List returns the current heads and the maximum height among them.
// Iteration order is unspecified.
func (h *Heads) List() ([]cid.CID, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	heads := make([]cid.CID, 0, len(h.cache))
	var maxHeight uint64
	for c, e := range h.cache {
		heads = append(heads, c)
		if e.height > maxHeight {
			maxHeight = e.height
		}
	}
	return heads, maxHeight
}

// ByTopic groups the current heads by their recorded topic.
func (h *Heads) ByTopic() map[string][]cid.CID {
	h.mu.Lock()
	defer h.mu.Unlock()

	groups := make(map[string][]cid.CID)
	for c, e := range h.cache {
		groups[e.topic] = append(groups[e.topic], c)
	}
	return groups
}

// NamespaceKey returns the storage namespace of the head set.
func (h *Heads) NamespaceKey() keys.Key {
	return h.ns
}
