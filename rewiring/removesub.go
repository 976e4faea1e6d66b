package rewiring

import (
	"fmt"
	"time"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/pkg/errors"
)

// NewRemoveSubSurface returns the strategy that simply drops every
// sub-surface atom, with no super-node in exchange: node rows are removed,
// every edge touching a dropped atom goes with them and the survivors are
// remapped. Surviving edges keep their stored distances and cell offsets --
// both endpoints still exist, so the values remain exact.
//
// A graph whose atoms are all sub-surface cannot be represented (batches
// never contain empty graphs), so such inputs fail with a
// ShapeMismatchError. Graphs with no sub-surface atoms pass through
// untouched.
func NewRemoveSubSurface(opts ...Option) Strategy {
	return &removeSubSurface{opts: newOptions(opts...)}
}

type removeSubSurface struct {
	opts *options
}

// Name implements Strategy.
func (s *removeSubSurface) Name() string { return RemoveSubSurfaceName }

// Apply implements Strategy.
func (s *removeSubSurface) Apply(b *atomgraph.Batch) (*atomgraph.Batch, error) {
	start := time.Now()
	if err := b.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s: input batch", s.Name())
	}

	numGraphs := b.NumGraphs()
	sub, keep := partition(b)
	collapsed := 0
	for i := range keep {
		if len(keep[i]) == 0 {
			return nil, errors.WithMessagef(
				&atomgraph.ShapeMismatchError{
					Field:  "Ptr",
					Reason: fmt.Sprintf("graph %d (sid %d) would be left with no atoms", i, b.SID[i]),
				},
				"applying %s", s.Name())
		}
		collapsed += len(sub[i])
	}

	out := &atomgraph.Batch{Device: b.Device}
	out.Ptr = make([]int32, 1, numGraphs+1)
	for i := 0; i < numGraphs; i++ {
		out.Ptr = append(out.Ptr, out.Ptr[i]+int32(len(keep[i])))
	}
	newNodes := int(out.Ptr[numGraphs])

	assoc := make([]int32, b.NumNodes())
	for i := range assoc {
		assoc[i] = -1
	}
	out.Pos = make([]float32, 0, 3*newNodes)
	out.PosRelaxed = make([]float32, 0, 3*newNodes)
	out.Force = make([]float32, 0, 3*newNodes)
	out.AtomicNumbers = make([]int32, 0, newNodes)
	out.Tags = make([]int32, 0, newNodes)
	out.Fixed = make([]bool, 0, newNodes)
	out.Graph = make([]int32, 0, newNodes)
	for i := 0; i < numGraphs; i++ {
		for _, n := range keep[i] {
			assoc[n] = int32(len(out.AtomicNumbers))
			appendNodeRow(out, b, n, int32(i))
		}
	}

	stats := Stats{
		Strategy:       s.Name(),
		Graphs:         numGraphs,
		NodesBefore:    b.NumNodes(),
		EdgesBefore:    b.NumEdges(),
		CollapsedNodes: collapsed,
	}
	edgePtr := b.EdgePtr()
	out.EdgeSource = make([]int32, 0, b.NumEdges())
	out.EdgeTarget = make([]int32, 0, b.NumEdges())
	out.CellOffsets = make([]int32, 0, 3*b.NumEdges())
	out.Distances = make([]float32, 0, b.NumEdges())
	out.Neighbors = make([]int32, 0, numGraphs)
	for i := 0; i < numGraphs; i++ {
		blockStart := len(out.EdgeSource)
		for e := edgePtr[i]; e < edgePtr[i+1]; e++ {
			src, tgt := b.EdgeSource[e], b.EdgeTarget[e]
			if b.Tags[src] == atomgraph.TagSubSurface || b.Tags[tgt] == atomgraph.TagSubSurface {
				stats.EdgesDropped++
				continue
			}
			newSrc, newTgt := assoc[src], assoc[tgt]
			if newSrc < 0 {
				return nil, errors.WithMessagef(
					&IndexResolutionError{Edge: int(e), Endpoint: "source", Node: src}, "applying %s", s.Name())
			}
			if newTgt < 0 {
				return nil, errors.WithMessagef(
					&IndexResolutionError{Edge: int(e), Endpoint: "target", Node: tgt}, "applying %s", s.Name())
			}
			out.EdgeSource = append(out.EdgeSource, newSrc)
			out.EdgeTarget = append(out.EdgeTarget, newTgt)
			out.CellOffsets = append(out.CellOffsets, b.CellOffsets[3*e:3*e+3]...)
			out.Distances = append(out.Distances, b.Distances[e])
			stats.EdgesKept++
		}
		out.Neighbors = append(out.Neighbors, int32(len(out.EdgeSource)-blockStart))
	}

	finishGraphArrays(out, b)
	stats.NodesAfter = out.NumNodes()
	stats.EdgesAfter = out.NumEdges()
	stats.Elapsed = time.Since(start)
	if err := out.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s produced an inconsistent batch", s.Name())
	}
	s.opts.report(stats)
	return out, nil
}
