// Package cid implements content identifiers for immutable byte blocks.
//
// A CID is the SHA-256 digest of a block's serialized form. CIDs are
// comparable values usable as map keys, carry a compact string form
// (lowercase base32 without padding), and order totally by that string
// form so they can key sorted structures deterministically.
package cid

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

// enc is the base32 alphabet used for the string form. Lowercase,
// unpadded, matching the multibase base32 convention.
var enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// Size is the byte length of a CID digest.
const Size = sha256.Size

// CID is a content identifier: the SHA-256 digest of a block.
// The zero value is not a valid identifier; use Sum or Parse.
type CID struct {
	digest [Size]byte
}

// Sum computes the CID of the given block bytes.
func Sum(data []byte) CID {
	return CID{digest: sha256.Sum256(data)}
}

// Parse decodes the string form produced by String.
func Parse(s string) (CID, error) {
	raw, err := enc.DecodeString(strings.ToUpper(s))
	if err != nil {
		return CID{}, fmt.Errorf("cid: decoding %q: %w", s, err)
	}
	if len(raw) != Size {
		return CID{}, fmt.Errorf("cid: bad digest length %d", len(raw))
	}
	var c CID
	copy(c.digest[:], raw)
	return c, nil
}

// FromBytes builds a CID from a raw digest.
func FromBytes(b []byte) (CID, error) {
	if len(b) != Size {
		return CID{}, fmt.Errorf("cid: bad digest length %d", len(b))
	}
	var c CID
	copy(c.digest[:], b)
	return c, nil
}

// String returns the lowercase base32 form of the digest.
func (c CID) String() string {
	return strings.ToLower(enc.EncodeToString(c.digest[:]))
}

// Bytes returns a copy of the raw digest.
func (c CID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, c.digest[:])
	return out
}

// Defined reports whether the CID is non-zero.
func (c CID) Defined() bool {
	return c != CID{}
}

// Less orders CIDs by their string form.
func (c CID) Less(other CID) bool {
	return c.String() < other.String()
}
