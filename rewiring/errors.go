package rewiring

import "fmt"

// EmptyAggregateError reports a graph that has no sub-surface atoms for a
// super-node strategy to collapse. Averaging over an empty member set would
// produce NaN positions, so by default strategies refuse the whole batch;
// the AllowEmpty option turns these graphs into pass-throughs instead.
type EmptyAggregateError struct {
	Graph int   // Position of the graph within the batch.
	SID   int64 // Structure id of the graph.
}

// Error implements the error interface.
func (e *EmptyAggregateError) Error() string {
	return fmt.Sprintf("graph %d (sid %d) has no sub-surface atoms to collapse"+
		" -- use AllowEmpty to pass such graphs through unreduced", e.Graph, e.SID)
}

// IndexResolutionError reports a surviving edge whose endpoint did not remap
// to any node of the rewired batch. It means the node association table is
// corrupt and is always a hard fault: the edge is never silently dropped.
type IndexResolutionError struct {
	Edge     int    // Edge row in the input batch.
	Endpoint string // "source" or "target".
	Node     int32  // Input node row that failed to resolve.
}

// Error implements the error interface.
func (e *IndexResolutionError) Error() string {
	return fmt.Sprintf("edge #%d: %s endpoint (node %d) did not resolve to any rewired node",
		e.Edge, e.Endpoint, e.Node)
}
