/*
Package dag implements the content-addressed block layer: immutable
nodes carrying a payload and links to parent CIDs, a deterministic wire
codec, and a Syncer contract for publishing and retrieving nodes.

StoreSyncer keeps blocks in an ordered key-value store under the /b/
namespace. Configured with a Fetcher it pulls missing blocks remotely
and persists them before serving, which is the seam where a networked
block exchange plugs in.
*/
package dag
