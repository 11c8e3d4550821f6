package crdt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meshkv/meshkv/pkg/cid"
)

func TestProcessedSetPinAndMark(t *testing.T) {
	p := newProcessedSet(16)
	c := cid.Sum([]byte("a"))

	assert.True(t, p.tryPin(c))
	assert.False(t, p.tryPin(c), "in-flight CIDs cannot be claimed twice")

	p.mark(c)
	p.unpin(c)
	assert.True(t, p.contains(c))
	assert.False(t, p.tryPin(c), "processed CIDs cannot be claimed")
}

func TestProcessedSetEvictsFIFO(t *testing.T) {
	p := newProcessedSet(3)

	cids := make([]cid.CID, 5)
	for i := range cids {
		cids[i] = cid.Sum([]byte(fmt.Sprintf("cid-%d", i)))
		p.mark(cids[i])
	}

	assert.False(t, p.contains(cids[0]))
	assert.False(t, p.contains(cids[1]))
	assert.True(t, p.contains(cids[2]))
	assert.True(t, p.contains(cids[3]))
	assert.True(t, p.contains(cids[4]))
}

func TestProcessedSetNeverEvictsPinned(t *testing.T) {
	p := newProcessedSet(2)

	pinned := cid.Sum([]byte("pinned"))
	assert.True(t, p.tryPin(pinned))
	p.mark(pinned)

	for i := 0; i < 5; i++ {
		p.mark(cid.Sum([]byte(fmt.Sprintf("other-%d", i))))
	}

	assert.True(t, p.contains(pinned), "pinned CID survived eviction pressure")

	p.unpin(pinned)
	for i := 0; i < 5; i++ {
		p.mark(cid.Sum([]byte(fmt.Sprintf("late-%d", i))))
	}
	assert.False(t, p.contains(pinned), "unpinned CID ages out normally")
}
