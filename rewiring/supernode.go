package rewiring

import (
	"time"

	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NewSuperNodePerGraph returns the strategy that collapses each graph's
// sub-surface atoms into a single super-node placed at the tail of the
// graph's node range. The super-node carries the mean position, mean relaxed
// position and mean force of its members, the sentinel atomic number, tag 0
// and a set relaxation constraint.
//
// Edges with both endpoints sub-surface are dropped; all others survive with
// endpoints remapped (collapsed endpoints resolve to the super-node) and
// their distances recomputed from the new positions. One synthetic self-loop
// with a zero cell offset is appended per super-node so it stays reachable by
// message passing. Per-graph energies, ids and cells are untouched.
func NewSuperNodePerGraph(opts ...Option) Strategy {
	return &superNodeStrategy{
		name:      SuperNodePerGraphName,
		aggregate: meanAggregate,
		opts:      newOptions(opts...),
	}
}

// NewSuperNodePerGraphByType returns a strategy with the exact output
// contract of NewSuperNodePerGraph, computed through a different aggregation
// path: sub-surface atoms are grouped per atomic type, averaged per type and
// the per-type means merged weighted by member count.
//
// On graphs whose sub-surface atoms are all one type the two strategies agree
// bit for bit; with several types they agree to float precision. Divergence
// beyond that indicates a bug in one of the paths, which is the reason this
// strategy exists.
func NewSuperNodePerGraphByType(opts ...Option) Strategy {
	return &superNodeStrategy{
		name:      SuperNodePerGraphByTypeName,
		aggregate: typeMergedAggregate,
		opts:      newOptions(opts...),
	}
}

// superNodeStrategy implements both per-graph collapse strategies; they
// differ only in how the super-node payload is aggregated.
type superNodeStrategy struct {
	name      string
	aggregate aggregateFn
	opts      *options
}

// Name implements Strategy.
func (s *superNodeStrategy) Name() string { return s.name }

// Apply implements Strategy.
func (s *superNodeStrategy) Apply(b *atomgraph.Batch) (*atomgraph.Batch, error) {
	start := time.Now()
	if err := b.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s: input batch", s.name)
	}

	numGraphs := b.NumGraphs()
	sub, keep := partition(b)
	hasSuperNode := make([]bool, numGraphs)
	collapsed, superNodes := 0, 0
	for i := range sub {
		if len(sub[i]) == 0 {
			if !s.opts.allowEmpty {
				return nil, errors.WithMessagef(
					&EmptyAggregateError{Graph: i, SID: b.SID[i]}, "applying %s", s.name)
			}
			continue
		}
		hasSuperNode[i] = true
		collapsed += len(sub[i])
		superNodes++
	}

	out := &atomgraph.Batch{Device: b.Device}
	out.Ptr = make([]int32, 1, numGraphs+1)
	for i := 0; i < numGraphs; i++ {
		count := int32(len(keep[i]))
		if hasSuperNode[i] {
			count++
		}
		out.Ptr = append(out.Ptr, out.Ptr[i]+count)
	}
	newNodes := int(out.Ptr[numGraphs])

	// Node arrays, plus the association table remapping input node rows.
	// Survivors come first in input order; the super-node closes each
	// graph's range and absorbs every collapsed row.
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
		if !hasSuperNode[i] {
			continue
		}
		agg := s.aggregate(b, sub[i])
		superNode := int32(len(out.AtomicNumbers))
		for _, n := range sub[i] {
			assoc[n] = superNode
		}
		out.Pos = append(out.Pos, agg.pos[:]...)
		out.PosRelaxed = append(out.PosRelaxed, agg.posRelaxed[:]...)
		out.Force = append(out.Force, agg.force[:]...)
		out.AtomicNumbers = append(out.AtomicNumbers, s.opts.sentinel)
		out.Tags = append(out.Tags, atomgraph.TagSubSurface)
		out.Fixed = append(out.Fixed, true)
		out.Graph = append(out.Graph, int32(i))
	}

	// Edge pass, one graph block at a time: drop edges fully inside the
	// collapsed set, remap the rest, close each block with the synthetic
	// self-loop.
	stats := Stats{
		Strategy:       s.name,
		Graphs:         numGraphs,
		NodesBefore:    b.NumNodes(),
		EdgesBefore:    b.NumEdges(),
		CollapsedNodes: collapsed,
	}
	edgePtr := b.EdgePtr()
	out.EdgeSource = make([]int32, 0, b.NumEdges()+numGraphs)
	out.EdgeTarget = make([]int32, 0, b.NumEdges()+numGraphs)
	out.CellOffsets = make([]int32, 0, 3*(b.NumEdges()+numGraphs))
	out.Neighbors = make([]int32, 0, numGraphs)
	for i := 0; i < numGraphs; i++ {
		blockStart := len(out.EdgeSource)
		for e := edgePtr[i]; e < edgePtr[i+1]; e++ {
			src, tgt := b.EdgeSource[e], b.EdgeTarget[e]
			if b.Tags[src] == atomgraph.TagSubSurface && b.Tags[tgt] == atomgraph.TagSubSurface {
				stats.EdgesDropped++
				continue
			}
			newSrc, newTgt := assoc[src], assoc[tgt]
			if newSrc < 0 {
				return nil, errors.WithMessagef(
					&IndexResolutionError{Edge: int(e), Endpoint: "source", Node: src}, "applying %s", s.name)
			}
			if newTgt < 0 {
				return nil, errors.WithMessagef(
					&IndexResolutionError{Edge: int(e), Endpoint: "target", Node: tgt}, "applying %s", s.name)
			}
			out.EdgeSource = append(out.EdgeSource, newSrc)
			out.EdgeTarget = append(out.EdgeTarget, newTgt)
			out.CellOffsets = append(out.CellOffsets, b.CellOffsets[3*e:3*e+3]...)
			stats.EdgesKept++
		}
		if hasSuperNode[i] {
			superNode := out.Ptr[i+1] - 1
			out.EdgeSource = append(out.EdgeSource, superNode)
			out.EdgeTarget = append(out.EdgeTarget, superNode)
			out.CellOffsets = append(out.CellOffsets, 0, 0, 0)
			stats.SelfLoopsAdded++
		}
		out.Neighbors = append(out.Neighbors, int32(len(out.EdgeSource)-blockStart))
	}

	out.Distances = make([]float32, len(out.EdgeSource))
	for e := range out.EdgeSource {
		out.Distances[e] = distance(out.Pos, out.EdgeSource[e], out.EdgeTarget[e])
	}

	finishGraphArrays(out, b)
	stats.NodesAfter = out.NumNodes()
	stats.EdgesAfter = out.NumEdges()
	stats.SuperNodes = superNodes
	stats.Elapsed = time.Since(start)
	if err := out.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s produced an inconsistent batch", s.name)
	}
	s.opts.report(stats)
	return out, nil
}

// appendNodeRow copies input node row n into out, assigned to graph.
func appendNodeRow(out, b *atomgraph.Batch, n, graph int32) {
	out.Pos = append(out.Pos, b.Pos[3*n:3*n+3]...)
	out.PosRelaxed = append(out.PosRelaxed, b.PosRelaxed[3*n:3*n+3]...)
	out.Force = append(out.Force, b.Force[3*n:3*n+3]...)
	out.AtomicNumbers = append(out.AtomicNumbers, b.AtomicNumbers[n])
	out.Tags = append(out.Tags, b.Tags[n])
	out.Fixed = append(out.Fixed, b.Fixed[n])
	out.Graph = append(out.Graph, graph)
}

// finishGraphArrays rebuilds Natoms from the new pointer array and carries
// the untouched per-graph bookkeeping over from the input.
func finishGraphArrays(out, b *atomgraph.Batch) {
	numGraphs := out.NumGraphs()
	out.Natoms = make([]int32, numGraphs)
	for i := 0; i < numGraphs; i++ {
		out.Natoms[i] = out.Ptr[i+1] - out.Ptr[i]
	}
	out.Cell = xslices.Copy(b.Cell)
	out.Energy = xslices.Copy(b.Energy)
	out.EnergyRelaxed = xslices.Copy(b.EnergyRelaxed)
	out.SID = xslices.Copy(b.SID)
}

// report logs the stats and feeds the optional sink.
func (o *options) report(stats Stats) {
	klog.V(1).Info(stats)
	if o.statsFn != nil {
		o.statsFn(stats)
	}
}
