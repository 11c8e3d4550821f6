/*
Package crdt implements a replicated key-value store on a Merkle-CRDT.

Every local mutation produces a delta: an atomic bundle of add-elements
and tombstones with a priority. The driver wraps the delta in an
immutable DAG node whose links reference the current heads, persists it
through the DAG syncer, merges it locally and gossips the node's CID
through the broadcaster. Remote replicas fetch announced nodes and their
ancestry, replay the deltas and converge without coordination.

# Architecture

	┌───────────────────── CRDT DATASTORE ─────────────────────┐
	│                                                           │
	│  Put/Delete ──► Set.CreateDelta ──► DAG node over heads   │
	│                                        │                  │
	│            ┌─────────── local merge ◄──┘                  │
	│            ▼                                              │
	│  ┌──────────────────┐       ┌──────────────────┐          │
	│  │  Set (AWORSet)   │       │      Heads       │          │
	│  │  /s /t /k state  │       │  /h frontier     │          │
	│  └──────────────────┘       └──────────────────┘          │
	│            ▲                          ▲                   │
	│            └───── DAG worker pool ────┘                   │
	│                        ▲                                  │
	│   broadcast receiver ──┘      head rebroadcaster          │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

State layout under the store's root namespace:

	/<root>/s/<key>/<id>   element instance marker
	/<root>/t/<key>/<id>   tombstone for an instance
	/<root>/k/<key>/v      current winning value
	/<root>/k/<key>/p      current winning priority (decimal text)
	/<root>/h/<cid>        head entry: "<height>[@<topic>]"

# Convergence rules

A key is observable iff some element marker exists with no matching
tombstone (add-wins, observed-remove). The winning value per key is the
one with the highest priority; equal priorities break toward the
lexicographically greater value, so replay order never changes the
outcome. Priorities are assigned at publication time as the maximum
head height plus one.

# Concurrency

Three task groups run per store: one broadcast receiver, one head
rebroadcaster, and NumWorkers DAG workers draining a FIFO job queue.
Merges serialise on the set's mutex; the merge plus head update of one
node runs under the store's DAG mutex; a bounded processed-CID set
dedups replayed announcements. Close is idempotent and joins all tasks.
*/
package crdt
