package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshkv/meshkv/pkg/keys"
	"github.com/meshkv/meshkv/pkg/storage"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	return NewSet(storage.NewMemStore(), keys.New("/crdt"), nil, nil)
}

func TestCreateDeltaToAdd(t *testing.T) {
	s := newTestSet(t)
	d := s.CreateDeltaToAdd("k1", []byte("v1"))

	require.Len(t, d.Elements, 1)
	assert.Equal(t, "/k1", d.Elements[0].Key)
	assert.Equal(t, []byte("v1"), d.Elements[0].Value)
	assert.Empty(t, d.Elements[0].ID)
	assert.Empty(t, d.Tombstones)
}

func TestMergeAddAndGet(t *testing.T) {
	s := newTestSet(t)
	d := s.CreateDeltaToAdd("/k1", []byte("v1"))
	d.Priority = 1
	require.NoError(t, s.Merge(d, "block-1"))

	inSet, err := s.InSet("/k1")
	require.NoError(t, err)
	assert.True(t, inSet)

	v, err := s.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	_, err = s.Element("/other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeIdempotent(t *testing.T) {
	s := newTestSet(t)
	d := s.CreateDeltaToAdd("/k1", []byte("v1"))
	d.Priority = 1

	require.NoError(t, s.Merge(d, "block-1"))
	require.NoError(t, s.Merge(d, "block-1"))

	v, err := s.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	// still exactly one instance to tombstone
	rm, err := s.CreateDeltaToRemove("/k1")
	require.NoError(t, err)
	assert.Len(t, rm.Tombstones, 1)
}

func TestHigherPriorityWins(t *testing.T) {
	s := newTestSet(t)

	d1 := s.CreateDeltaToAdd("/k1", []byte("zzz"))
	d1.Priority = 1
	require.NoError(t, s.Merge(d1, "block-1"))

	d2 := s.CreateDeltaToAdd("/k1", []byte("aaa"))
	d2.Priority = 2
	require.NoError(t, s.Merge(d2, "block-2"))

	v, err := s.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("aaa"), v, "higher priority wins regardless of value ordering")
}

func TestEqualPriorityLexicographicTieBreak(t *testing.T) {
	s := newTestSet(t)

	d1 := s.CreateDeltaToAdd("/k1", []byte("A"))
	d1.Priority = 1
	require.NoError(t, s.Merge(d1, "block-1"))

	d2 := s.CreateDeltaToAdd("/k1", []byte("B"))
	d2.Priority = 1
	require.NoError(t, s.Merge(d2, "block-2"))

	v, err := s.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), v)

	// arrival order does not matter
	s2 := newTestSet(t)
	require.NoError(t, s2.Merge(d2, "block-2"))
	require.NoError(t, s2.Merge(d1, "block-1"))
	v, err = s2.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), v)
}

func TestPriorityNeverDowngrades(t *testing.T) {
	s := newTestSet(t)

	d2 := s.CreateDeltaToAdd("/k1", []byte("high"))
	d2.Priority = 5
	require.NoError(t, s.Merge(d2, "block-2"))

	d1 := s.CreateDeltaToAdd("/k1", []byte("late and low"))
	d1.Priority = 2
	require.NoError(t, s.Merge(d1, "block-1"))

	v, err := s.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("high"), v)
}

func TestRemove(t *testing.T) {
	s := newTestSet(t)

	d := s.CreateDeltaToAdd("/k1", []byte("v1"))
	d.Priority = 1
	require.NoError(t, s.Merge(d, "block-1"))

	rm, err := s.CreateDeltaToRemove("/k1")
	require.NoError(t, err)
	require.Len(t, rm.Tombstones, 1)
	assert.Equal(t, "/k1", rm.Tombstones[0].Key)
	assert.Equal(t, "block-1", rm.Tombstones[0].ID)

	rm.Priority = 2
	require.NoError(t, s.Merge(rm, "block-2"))

	inSet, err := s.InSet("/k1")
	require.NoError(t, err)
	assert.False(t, inSet)

	_, err = s.Element("/k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAbsentKeyYieldsEmptyDelta(t *testing.T) {
	s := newTestSet(t)

	rm, err := s.CreateDeltaToRemove("/never-put")
	require.NoError(t, err)
	assert.Empty(t, rm.Tombstones)
	assert.Empty(t, rm.Elements)
}

func TestRemoveOnlyCoversObservedInstances(t *testing.T) {
	s := newTestSet(t)

	d1 := s.CreateDeltaToAdd("/k1", []byte("v1"))
	d1.Priority = 1
	require.NoError(t, s.Merge(d1, "block-1"))

	rm, err := s.CreateDeltaToRemove("/k1")
	require.NoError(t, err)
	rm.Priority = 2
	require.NoError(t, s.Merge(rm, "block-2"))

	// an instance added under a new block id is unaffected: add wins
	// over tombstones that did not observe it
	d2 := s.CreateDeltaToAdd("/k1", []byte("v2"))
	d2.Priority = 3
	require.NoError(t, s.Merge(d2, "block-3"))

	inSet, err := s.InSet("/k1")
	require.NoError(t, err)
	assert.True(t, inSet)

	v, err := s.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestTombstonedInstanceCannotSetValue(t *testing.T) {
	s := newTestSet(t)

	// tombstone for block-1 arrives before the add it refers to
	rm := &Delta{Tombstones: []Element{{Key: "/k1", ID: "block-1"}}, Priority: 2}
	require.NoError(t, s.Merge(rm, "block-2"))

	d := s.CreateDeltaToAdd("/k1", []byte("v1"))
	d.Priority = 3
	require.NoError(t, s.Merge(d, "block-1"))

	inSet, err := s.InSet("/k1")
	require.NoError(t, err)
	assert.False(t, inSet, "element observed by the tombstone stays removed")
}

func TestMultipleElementsSameKeyInOneDelta(t *testing.T) {
	s := newTestSet(t)

	d := &Delta{
		Elements: []Element{
			{Key: "/k1", Value: []byte("bbb"), ID: "id-1"},
			{Key: "/k1", Value: []byte("aaa"), ID: "id-2"},
		},
		Priority: 1,
	}
	require.NoError(t, s.Merge(d, "block-1"))

	v, err := s.Element("/k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), v, "equal priority inside one delta resolves lexicographically")
}

func TestQueryElements(t *testing.T) {
	s := newTestSet(t)

	for _, kv := range []struct{ k, v string }{
		{"/app/a", "1"},
		{"/app/b", "2"},
		{"/other/c", "3"},
	} {
		d := s.CreateDeltaToAdd(kv.k, []byte(kv.v))
		d.Priority = 1
		require.NoError(t, s.Merge(d, "block-"+kv.k))
	}

	rm, err := s.CreateDeltaToRemove("/app/b")
	require.NoError(t, err)
	rm.Priority = 2
	require.NoError(t, s.Merge(rm, "block-rm"))

	collect := func(prefix string) map[string]string {
		it, err := s.QueryElements(prefix)
		require.NoError(t, err)
		defer it.Close()
		out := make(map[string]string)
		for {
			k, v, ok, err := it.Next()
			require.NoError(t, err)
			if !ok {
				return out
			}
			out[k] = string(v)
		}
	}

	assert.Equal(t, map[string]string{"/app/a": "1"}, collect("/app"))
	assert.Equal(t, map[string]string{"/app/a": "1", "/other/c": "3"}, collect(""))

	// iterators restart by re-calling
	assert.Equal(t, collect("/app"), collect("/app"))
}

// failingStore errors on every Query and Get, standing in for a broken
// backend.
type failingStore struct {
	storage.Store
}

func (failingStore) Query(prefix []byte) (storage.Results, error) {
	return nil, errors.New("disk error")
}

func (failingStore) Get(key []byte) ([]byte, error) {
	return nil, errors.New("disk error")
}

func TestBackendFailuresCarryStorageSentinel(t *testing.T) {
	s := NewSet(failingStore{storage.NewMemStore()}, keys.New("/crdt"), nil, nil)

	_, err := s.CreateDeltaToRemove("/k")
	assert.ErrorIs(t, err, ErrStorage)

	_, err = s.InSet("/k")
	assert.ErrorIs(t, err, ErrStorage)

	_, err = s.QueryElements("")
	assert.ErrorIs(t, err, ErrStorage)

	d := s.CreateDeltaToAdd("/k", []byte("v"))
	d.Priority = 1
	assert.ErrorIs(t, s.Merge(d, "block-1"), ErrStorage)
}

func TestHooks(t *testing.T) {
	var puts []string
	var dels []string

	s := NewSet(storage.NewMemStore(), keys.New("/crdt"),
		func(k string, v []byte) { puts = append(puts, k+"="+string(v)) },
		func(k string) { dels = append(dels, k) },
	)

	d := s.CreateDeltaToAdd("/k1", []byte("v1"))
	d.Priority = 1
	require.NoError(t, s.Merge(d, "block-1"))
	assert.Equal(t, []string{"/k1=v1"}, puts)

	// a losing value does not trigger the put hook
	low := s.CreateDeltaToAdd("/k1", []byte("a"))
	low.Priority = 1
	require.NoError(t, s.Merge(low, "block-2"))
	assert.Len(t, puts, 1)

	rm, err := s.CreateDeltaToRemove("/k1")
	require.NoError(t, err)
	rm.Priority = 2
	require.NoError(t, s.Merge(rm, "block-3"))
	assert.Contains(t, dels, "/k1")
}
