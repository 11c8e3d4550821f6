package dag

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshkv/meshkv/pkg/cid"
)

// Node is an immutable Merkle-DAG record: an opaque content payload and
// links to the parent blocks that were the publisher's heads when the
// node was created. A node's CID is computed over its serialized form,
// so the encoding must be deterministic.
type Node struct {
	Content []byte
	Links   []cid.CID
}

// Field numbers of the node wire format.
const (
	nodeFieldContent = 1
	nodeFieldLink    = 2
)

// NewNode builds a node over content with the given links. The link
// order is preserved and significant to the node's CID.
func NewNode(content []byte, links []cid.CID) *Node {
	n := &Node{Content: content}
	n.Links = append(n.Links, links...)
	return n
}

// Encode serializes the node: field 1 holds the content, field 2 the
// raw digest of each link in order.
func (n *Node) Encode() []byte {
	buf := protowire.AppendTag(nil, nodeFieldContent, protowire.BytesType)
	buf = protowire.AppendBytes(buf, n.Content)
	for _, l := range n.Links {
		buf = protowire.AppendTag(buf, nodeFieldLink, protowire.BytesType)
		buf = protowire.AppendBytes(buf, l.Bytes())
	}
	return buf
}

// DecodeNode parses the serialized form produced by Encode.
func DecodeNode(data []byte) (*Node, error) {
	n := &Node{}
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return nil, fmt.Errorf("dag: bad tag: %w", protowire.ParseError(tagLen))
		}
		data = data[tagLen:]
		if typ != protowire.BytesType {
			return nil, fmt.Errorf("dag: unexpected wire type %d for field %d", typ, num)
		}
		val, valLen := protowire.ConsumeBytes(data)
		if valLen < 0 {
			return nil, fmt.Errorf("dag: bad field %d: %w", num, protowire.ParseError(valLen))
		}
		data = data[valLen:]

		switch num {
		case nodeFieldContent:
			n.Content = append([]byte(nil), val...)
		case nodeFieldLink:
			link, err := cid.FromBytes(val)
			if err != nil {
				return nil, fmt.Errorf("dag: bad link: %w", err)
			}
			n.Links = append(n.Links, link)
		default:
			return nil, fmt.Errorf("dag: unknown field %d", num)
		}
	}
	return n, nil
}

// CID returns the content identifier of the node's serialized form.
func (n *Node) CID() cid.CID {
	return cid.Sum(n.Encode())
}
