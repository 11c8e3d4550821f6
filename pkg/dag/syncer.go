package dag

import (
	"context"
	"errors"

	"github.com/meshkv/meshkv/pkg/cid"
)

// ErrNodeNotFound is returned when a block is not locally available and
// cannot be fetched.
var ErrNodeNotFound = errors.New("dag: node not found")

// Syncer is an abstraction over a content-addressed block layer with
// the ability to publish new nodes and retrieve others, possibly from
// the network. GetNode and FetchGraphOnDepth may block on network I/O
// and honor context cancellation.
type Syncer interface {
	// AddNode durably writes a node to the block store.
	AddNode(ctx context.Context, n *Node) error

	// GetNode returns the node for c, fetching it remotely if needed.
	GetNode(ctx context.Context, c cid.CID) (*Node, error)

	// HasBlock reports whether the block for c is locally available.
	HasBlock(c cid.CID) (bool, error)

	// FetchGraphOnDepth prefetches the node for c and its descendants
	// up to the given depth, returning the node for c.
	FetchGraphOnDepth(ctx context.Context, c cid.CID, depth uint) (*Node, error)
}

// Fetcher retrieves blocks that are not locally available. A StoreSyncer
// configured with a Fetcher pulls missing blocks through it and persists
// them, which is how a networked block exchange plugs in underneath the
// local store.
type Fetcher interface {
	Fetch(ctx context.Context, c cid.CID) (*Node, error)
}
