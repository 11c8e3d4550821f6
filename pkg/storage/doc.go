/*
Package storage provides the ordered byte-key/byte-value backend for the
CRDT state.

The Store interface exposes primitive get/put/remove, all-or-nothing
write batches, and lexicographic prefix scans. Two implementations
ship: BoltStore keeps everything in a single BoltDB bucket so the
B+tree's key order doubles as the store's scan order, and MemStore backs
tests and ephemeral replicas with an in-memory map whose query results
are sorted by key.

# Transaction model

BoltStore reads run in db.View (concurrent, snapshot-isolated) and
writes in db.Update (serialized, fsynced on commit). A Batch buffers its
operations and applies them inside one update transaction, which is what
gives the CRDT merge its all-or-nothing visibility.

Query snapshots the matching entries at call time, so iterating results
never holds a storage transaction open.
*/
package storage
