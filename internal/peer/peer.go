// Package peer defines the contract for the pair of byte streams
// connecting this process to a peer running the same tool in remote
// mode. Spawning that peer process and plumbing its pipes is out of
// scope (spec.md §1): this package only names the interface the rest
// of the tool drives.
package peer

import "io"

// Pair is a peer stream pair: a writable stream to the peer's stdin
// and a readable stream from the peer's stdout.
type Pair struct {
	In  io.Reader // reads from the peer's stdout
	Out io.Writer // writes to the peer's stdin
}
