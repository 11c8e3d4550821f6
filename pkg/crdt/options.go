package crdt

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshkv/meshkv/pkg/log"
)

// Options holds configurable values for the datastore.
type Options struct {
	// Logger receives the store's structured log events.
	Logger zerolog.Logger

	// RebroadcastInterval specifies how often the current heads are
	// re-announced so that replicas which missed a broadcast converge.
	RebroadcastInterval time.Duration

	// DAGSyncerTimeout bounds how long to wait for a DAG fetch.
	// Set to 0 to disable.
	DAGSyncerTimeout time.Duration

	// NumWorkers specifies the number of workers ready to walk DAGs.
	NumWorkers int

	// MaxBatchDeltaSize automatically commits any transaction whose
	// combined delta grows past this encoded size. This keeps DAG
	// nodes small enough to move through the network.
	MaxBatchDeltaSize int

	// ProcessedCacheSize bounds the processed-CID dedup set. Entries
	// evict FIFO once the bound is reached; in-flight CIDs are never
	// evicted.
	ProcessedCacheSize int

	// PutHook is triggered whenever an element is successfully added
	// to the datastore (by a local or remote update), and only when
	// that addition is the prevalent value.
	PutHook PutHook

	// DeleteHook is triggered whenever a version of an element is
	// removed (by a local or remote update). Concurrent updates may
	// trigger it even though the element was re-added; use Has to
	// check.
	DeleteHook DeleteHook
}

// DefaultOptions returns a validated set of defaults.
func DefaultOptions() *Options {
	return &Options{
		Logger:              log.WithComponent("crdt"),
		RebroadcastInterval: time.Minute,
		DAGSyncerTimeout:    5 * time.Minute,
		NumWorkers:          5,
		MaxBatchDeltaSize:   1 << 20,
		ProcessedCacheSize:  1 << 16,
	}
}

// Validate checks the options, wrapping every failure in
// ErrInvalidOption.
func (o *Options) Validate() error {
	if o.RebroadcastInterval <= 0 {
		return fmt.Errorf("%w: rebroadcast interval must be positive", ErrInvalidOption)
	}
	if o.DAGSyncerTimeout < 0 {
		return fmt.Errorf("%w: dag syncer timeout must not be negative", ErrInvalidOption)
	}
	if o.NumWorkers <= 0 {
		return fmt.Errorf("%w: number of workers must be positive", ErrInvalidOption)
	}
	if o.MaxBatchDeltaSize <= 0 {
		return fmt.Errorf("%w: max batch delta size must be positive", ErrInvalidOption)
	}
	if o.ProcessedCacheSize <= 0 {
		return fmt.Errorf("%w: processed cache size must be positive", ErrInvalidOption)
	}
	return nil
}
