package rewiring

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats summarizes one Apply call. Strategies hand it to the WithStatsFunc
// sink and log it at V(1); it never influences the rewired batch.
//
// Edge accounting always balances: EdgesKept+EdgesDropped == EdgesBefore and
// EdgesAfter == EdgesKept+SelfLoopsAdded.
type Stats struct {
	Strategy string
	Graphs   int

	NodesBefore, NodesAfter int
	EdgesBefore, EdgesAfter int

	// CollapsedNodes counts atoms absorbed into super-nodes (or dropped, for
	// the remove strategy); SuperNodes counts the nodes created in exchange.
	CollapsedNodes int
	SuperNodes     int

	// EdgesKept are input edges carried over (endpoints remapped).
	// EdgesDropped are input edges discarded, split into the reasons below
	// where the strategy distinguishes them.
	EdgesKept          int
	EdgesDropped       int
	SelfLoopsRemoved   int // Substituted edges whose endpoints coincided.
	DuplicatesRemoved  int // Substituted edges equal to an earlier one.
	SelfLoopsAdded     int // Synthetic super-node self-loops appended.

	Elapsed time.Duration
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("%s: %s graphs, nodes %s→%s, edges %s→%s (kept %s, dropped %s, self-loops +%s) in %s",
		s.Strategy,
		humanize.Comma(int64(s.Graphs)),
		humanize.Comma(int64(s.NodesBefore)), humanize.Comma(int64(s.NodesAfter)),
		humanize.Comma(int64(s.EdgesBefore)), humanize.Comma(int64(s.EdgesAfter)),
		humanize.Comma(int64(s.EdgesKept)), humanize.Comma(int64(s.EdgesDropped)),
		humanize.Comma(int64(s.SelfLoopsAdded)),
		s.Elapsed.Round(time.Microsecond))
}
