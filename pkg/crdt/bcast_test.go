package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshkv/meshkv/pkg/cid"
)

func TestBroadcastRoundTrip(t *testing.T) {
	heads := []cid.CID{
		cid.Sum([]byte("head1")),
		cid.Sum([]byte("head2")),
		cid.Sum([]byte("head3")),
	}

	decoded, err := DecodeBroadcast(EncodeBroadcast(heads))
	require.NoError(t, err)
	assert.Equal(t, heads, decoded)
}

func TestEncodeBroadcastEmpty(t *testing.T) {
	assert.Empty(t, EncodeBroadcast(nil))
}

func TestDecodeBroadcastEmptyPayload(t *testing.T) {
	_, err := DecodeBroadcast(nil)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDecodeBroadcastRejectsUnknownField(t *testing.T) {
	buf := EncodeBroadcast([]cid.CID{cid.Sum([]byte("h"))})
	buf = protowire.AppendTag(buf, 5, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte("legacy"))

	_, err := DecodeBroadcast(buf)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDecodeBroadcastRejectsBadCid(t *testing.T) {
	var msg []byte
	msg = protowire.AppendTag(msg, headFieldCidText, protowire.BytesType)
	msg = protowire.AppendString(msg, "definitely-not-a-cid")
	var buf []byte
	buf = protowire.AppendTag(buf, bcastFieldHead, protowire.BytesType)
	buf = protowire.AppendBytes(buf, msg)

	_, err := DecodeBroadcast(buf)
	assert.ErrorIs(t, err, ErrCodec)
}
