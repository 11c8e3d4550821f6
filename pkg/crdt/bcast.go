package crdt

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshkv/meshkv/pkg/cid"
)

// Broadcast envelope wire format: a repeated head message (field 1),
// each carrying the CID string form (field 1). Decoders reject
// envelopes with unknown fields; old payload layouts are not honored.
const (
	bcastFieldHead   = 1
	headFieldCidText = 1
)

// EncodeBroadcast serializes a CID list into a broadcast envelope.
// An empty list yields a nil payload; callers skip publication.
func EncodeBroadcast(heads []cid.CID) []byte {
	var buf []byte
	for _, h := range heads {
		var msg []byte
		msg = protowire.AppendTag(msg, headFieldCidText, protowire.BytesType)
		msg = protowire.AppendString(msg, h.String())
		buf = protowire.AppendTag(buf, bcastFieldHead, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg)
	}
	return buf
}

// DecodeBroadcast parses a broadcast envelope into the CID list it
// carries.
func DecodeBroadcast(payload []byte) ([]cid.CID, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty broadcast payload", ErrCodec)
	}
	var heads []cid.CID
	data := payload
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return nil, fmt.Errorf("%w: bad broadcast tag", ErrCodec)
		}
		data = data[tagLen:]
		if num != bcastFieldHead || typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: unknown broadcast field %d", ErrCodec, num)
		}
		msg, msgLen := protowire.ConsumeBytes(data)
		if msgLen < 0 {
			return nil, fmt.Errorf("%w: bad broadcast head", ErrCodec)
		}
		data = data[msgLen:]

		c, err := decodeHead(msg)
		if err != nil {
			return nil, err
		}
		heads = append(heads, c)
	}
	return heads, nil
}

func decodeHead(msg []byte) (cid.CID, error) {
	var text string
	for len(msg) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(msg)
		if tagLen < 0 {
			return cid.CID{}, fmt.Errorf("%w: bad head tag", ErrCodec)
		}
		msg = msg[tagLen:]
		if num != headFieldCidText || typ != protowire.BytesType {
			return cid.CID{}, fmt.Errorf("%w: unknown head field %d", ErrCodec, num)
		}
		val, valLen := protowire.ConsumeBytes(msg)
		if valLen < 0 {
			return cid.CID{}, fmt.Errorf("%w: bad head cid", ErrCodec)
		}
		msg = msg[valLen:]
		text = string(val)
	}
	c, err := cid.Parse(text)
	if err != nil {
		return cid.CID{}, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return c, nil
}
