// Package keys implements hierarchical string keys: canonical
// /-separated paths with child derivation and segment listing.
package keys
