package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleDelta() *Delta {
	return &Delta{
		Elements: []Element{
			{Key: "/a", Value: []byte("1")},
			{Key: "/b", Value: []byte("2"), ID: "block-1"},
		},
		Tombstones: []Element{
			{Key: "/c", ID: "block-0"},
		},
		Priority: 7,
	}
}

func TestDeltaEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		delta *Delta
	}{
		{name: "full", delta: sampleDelta()},
		{name: "empty", delta: &Delta{}},
		{name: "elements only", delta: &Delta{Elements: []Element{{Key: "/k", Value: []byte("v")}}}},
		{name: "tombstones only", delta: &Delta{Tombstones: []Element{{Key: "/k", ID: "i"}}, Priority: 3}},
		{name: "zero priority", delta: &Delta{Elements: []Element{{Key: "/k"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeDelta(tt.delta.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.delta.Priority, decoded.Priority)
			assert.Equal(t, len(tt.delta.Elements), len(decoded.Elements))
			assert.Equal(t, len(tt.delta.Tombstones), len(decoded.Tombstones))
			for i, e := range tt.delta.Elements {
				assert.Equal(t, e.Key, decoded.Elements[i].Key)
				assert.Equal(t, e.ID, decoded.Elements[i].ID)
				assert.Equal(t, string(e.Value), string(decoded.Elements[i].Value))
			}
			for i, tomb := range tt.delta.Tombstones {
				assert.Equal(t, tomb.Key, decoded.Tombstones[i].Key)
				assert.Equal(t, tomb.ID, decoded.Tombstones[i].ID)
			}
		})
	}
}

func TestDeltaEncodeDeterministic(t *testing.T) {
	assert.Equal(t, sampleDelta().Encode(), sampleDelta().Encode())
}

func TestDecodeDeltaRejectsUnknownField(t *testing.T) {
	buf := sampleDelta().Encode()
	buf = protowire.AppendTag(buf, 9, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 42)

	_, err := DecodeDelta(buf)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDecodeDeltaRejectsGarbage(t *testing.T) {
	_, err := DecodeDelta([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrCodec)
}

func TestMergeDeltas(t *testing.T) {
	a := &Delta{Elements: []Element{{Key: "/a"}}, Priority: 2}
	b := &Delta{Elements: []Element{{Key: "/b"}}, Tombstones: []Element{{Key: "/t", ID: "x"}}, Priority: 5}

	merged := MergeDeltas(a, b)
	assert.Len(t, merged.Elements, 2)
	assert.Len(t, merged.Tombstones, 1)
	assert.Equal(t, uint64(5), merged.Priority)

	// max priority regardless of order
	assert.Equal(t, uint64(5), MergeDeltas(b, a).Priority)
}

func TestMergeDeltasNil(t *testing.T) {
	a := &Delta{Elements: []Element{{Key: "/a"}}, Priority: 2}
	assert.Equal(t, uint64(2), MergeDeltas(a, nil).Priority)
	assert.Len(t, MergeDeltas(nil, a).Elements, 1)
	assert.Empty(t, MergeDeltas(nil, nil).Elements)
}

// associativity up to element ordering
func TestMergeDeltasAssociative(t *testing.T) {
	a := &Delta{Elements: []Element{{Key: "/a"}}, Priority: 1}
	b := &Delta{Elements: []Element{{Key: "/b"}}, Priority: 9}
	c := &Delta{Tombstones: []Element{{Key: "/c", ID: "i"}}, Priority: 4}

	left := MergeDeltas(MergeDeltas(a, b), c)
	right := MergeDeltas(a, MergeDeltas(b, c))

	assert.Equal(t, left.Priority, right.Priority)
	assert.ElementsMatch(t, left.Elements, right.Elements)
	assert.ElementsMatch(t, left.Tombstones, right.Tombstones)
}
