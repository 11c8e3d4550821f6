package keys

import (
	"strings"
)

// Key represents the unique identifier of an object, inspired by file
// systems and the Google App Engine key model. Keys are hierarchical,
// incorporating more and more specific namespaces:
//
//	keys.New("/bank")
//	keys.New("/bank/accounts")
//	keys.New("/bank/accounts/12")
//
// Keys are plain value types and perform no I/O.
type Key struct {
	s string
}

// New creates a Key from s, canonicalizing it: a leading "/" is ensured
// and empty segments are collapsed. New("") and New("/") both yield the
// root key "/".
func New(s string) Key {
	return Key{s: clean(s)}
}

func clean(s string) string {
	if s == "" {
		return "/"
	}
	parts := strings.Split(s, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return "/" + strings.Join(segs, "/")
}

// String returns the canonical form of the key.
func (k Key) String() string {
	return k.s
}

// Child returns the child key of k for the given segment:
//
//	keys.New("/bank").Child("accounts") == keys.New("/bank/accounts")
func (k Key) Child(segment string) Key {
	if k.s == "/" {
		return New("/" + segment)
	}
	return New(k.s + "/" + segment)
}

// List returns the list representation of the key:
//
//	keys.New("/bank/accounts/12").List() == []string{"bank", "accounts", "12"}
func (k Key) List() []string {
	if k.s == "/" || k.s == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(k.s, "/"), "/")
}

// IsTopLevel reports whether the key has exactly one segment.
func (k Key) IsTopLevel() bool {
	return len(k.List()) == 1
}

// Equal reports whether two keys have the same canonical form.
func (k Key) Equal(other Key) bool {
	return k.s == other.s
}

// Bytes returns the canonical form as a byte slice, for use as a
// storage key.
func (k Key) Bytes() []byte {
	return []byte(k.s)
}
