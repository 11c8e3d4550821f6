package crdt

import (
	"strings"

	"github.com/meshkv/meshkv/pkg/keys"
)

// FilteredIterator narrows a prefix scan by a middle path segment.
// Given a base prefix, matching keys look like
// <base>/<middle>/<remainder...>; the middle pattern may be a plain
// segment, "*" to accept any, or "!x" to accept any segment but x.
type FilteredIterator struct {
	it        *Iterator
	base      keys.Key
	middle    string
	remainder []string
}

// Next returns the next matching pair; ok is false once exhausted.
func (f *FilteredIterator) Next() (key string, value []byte, ok bool, err error) {
	for {
		k, v, ok, err := f.it.Next()
		if err != nil || !ok {
			return "", nil, false, err
		}
		if f.matches(k) {
			return k, v, true, nil
		}
	}
}

// Close releases the underlying scan.
func (f *FilteredIterator) Close() error {
	return f.it.Close()
}

func (f *FilteredIterator) matches(key string) bool {
	if f.middle == "" {
		return true
	}

	rest := strings.TrimPrefix(keys.New(key).String(), f.base.String())
	segs := keys.New(rest).List()
	if len(segs) == 0 {
		return false
	}

	switch {
	case f.middle == "*":
	case strings.HasPrefix(f.middle, "!"):
		if segs[0] == f.middle[1:] {
			return false
		}
	default:
		if segs[0] != f.middle {
			return false
		}
	}

	tail := segs[1:]
	if len(f.remainder) > len(tail) {
		return false
	}
	for i, seg := range f.remainder {
		if tail[i] != seg {
			return false
		}
	}
	return true
}
