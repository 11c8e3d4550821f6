package crdt

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Element is a single entry of a delta: a key, the value bytes and the
// block identifier under which the element instance is filed. For
// add-elements the ID is left empty, and Set.Merge files the instance
// under the CID of the DAG node carrying the delta; for tombstones the
// ID names the element instance being removed.
type Element struct {
	Key   string
	Value []byte
	ID    string
}

// Delta is an atomic bundle of add-elements and tombstones sharing one
// priority. Deltas are the content of DAG nodes; their serialized form
// must be deterministic so node CIDs are stable.
type Delta struct {
	Elements   []Element
	Tombstones []Element
	Priority   uint64
}

// Field numbers of the delta wire format.
const (
	deltaFieldElement   = 1
	deltaFieldTombstone = 2
	deltaFieldPriority  = 3

	elementFieldKey   = 1
	elementFieldValue = 2
	elementFieldID    = 3
)

func appendElement(buf []byte, field protowire.Number, e Element) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, elementFieldKey, protowire.BytesType)
	msg = protowire.AppendString(msg, e.Key)
	if len(e.Value) > 0 {
		msg = protowire.AppendTag(msg, elementFieldValue, protowire.BytesType)
		msg = protowire.AppendBytes(msg, e.Value)
	}
	if e.ID != "" {
		msg = protowire.AppendTag(msg, elementFieldID, protowire.BytesType)
		msg = protowire.AppendString(msg, e.ID)
	}
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	return protowire.AppendBytes(buf, msg)
}

func consumeElement(data []byte) (Element, error) {
	var e Element
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return e, fmt.Errorf("%w: bad element tag", ErrCodec)
		}
		data = data[tagLen:]
		if typ != protowire.BytesType {
			return e, fmt.Errorf("%w: unexpected wire type %d in element", ErrCodec, typ)
		}
		val, valLen := protowire.ConsumeBytes(data)
		if valLen < 0 {
			return e, fmt.Errorf("%w: bad element field %d", ErrCodec, num)
		}
		data = data[valLen:]

		switch num {
		case elementFieldKey:
			e.Key = string(val)
		case elementFieldValue:
			e.Value = append([]byte(nil), val...)
		case elementFieldID:
			e.ID = string(val)
		default:
			return e, fmt.Errorf("%w: unknown element field %d", ErrCodec, num)
		}
	}
	return e, nil
}

// Encode serializes the delta deterministically: elements and
// tombstones in order, then the priority.
func (d *Delta) Encode() []byte {
	var buf []byte
	for _, e := range d.Elements {
		buf = appendElement(buf, deltaFieldElement, e)
	}
	for _, t := range d.Tombstones {
		buf = appendElement(buf, deltaFieldTombstone, t)
	}
	if d.Priority != 0 {
		buf = protowire.AppendTag(buf, deltaFieldPriority, protowire.VarintType)
		buf = protowire.AppendVarint(buf, d.Priority)
	}
	return buf
}

// Size returns the encoded length of the delta.
func (d *Delta) Size() int {
	return len(d.Encode())
}

// DecodeDelta parses the serialized form produced by Encode.
func DecodeDelta(data []byte) (*Delta, error) {
	d := &Delta{}
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return nil, fmt.Errorf("%w: bad delta tag", ErrCodec)
		}
		data = data[tagLen:]

		switch num {
		case deltaFieldElement, deltaFieldTombstone:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("%w: unexpected wire type %d for delta field %d", ErrCodec, typ, num)
			}
			val, valLen := protowire.ConsumeBytes(data)
			if valLen < 0 {
				return nil, fmt.Errorf("%w: bad delta field %d", ErrCodec, num)
			}
			data = data[valLen:]
			e, err := consumeElement(val)
			if err != nil {
				return nil, err
			}
			if num == deltaFieldElement {
				d.Elements = append(d.Elements, e)
			} else {
				d.Tombstones = append(d.Tombstones, e)
			}
		case deltaFieldPriority:
			if typ != protowire.VarintType {
				return nil, fmt.Errorf("%w: unexpected wire type %d for priority", ErrCodec, typ)
			}
			v, vLen := protowire.ConsumeVarint(data)
			if vLen < 0 {
				return nil, fmt.Errorf("%w: bad priority", ErrCodec)
			}
			data = data[vLen:]
			d.Priority = v
		default:
			return nil, fmt.Errorf("%w: unknown delta field %d", ErrCodec, num)
		}
	}
	return d, nil
}

// MergeDeltas combines two deltas: elements and tombstones concatenate,
// the result takes the higher priority. Either argument may be nil.
func MergeDeltas(a, b *Delta) *Delta {
	out := &Delta{}
	if a != nil {
		out.Elements = append(out.Elements, a.Elements...)
		out.Tombstones = append(out.Tombstones, a.Tombstones...)
		out.Priority = a.Priority
	}
	if b != nil {
		out.Elements = append(out.Elements, b.Elements...)
		out.Tombstones = append(out.Tombstones, b.Tombstones...)
		if b.Priority > out.Priority {
			out.Priority = b.Priority
		}
	}
	return out
}
