package rewiring

import (
	"time"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/pkg/errors"
)

// NewSuperNodePerAtomType returns the strategy that collapses each graph's
// sub-surface atoms into one super-node per distinct atomic type, appended at
// the tail of the graph's node range in ascending atomic-number order. Each
// super-node keeps its real atomic number, sits at its first member's
// position (lowest node row) and carries the per-type mean relaxed position
// and force.
//
// Edges are substituted rather than filtered: every collapsed endpoint is
// replaced by its type's super-node, then edges whose endpoints coincide are
// removed and duplicated ordered pairs are dropped keeping the first
// occurrence (its cell offset wins). Edges between sub-surface atoms of
// different types therefore survive as super-node to super-node edges. No
// synthetic self-loop is appended.
func NewSuperNodePerAtomType(opts ...Option) Strategy {
	return &superNodePerAtomType{opts: newOptions(opts...)}
}

type superNodePerAtomType struct {
	opts *options
}

// Name implements Strategy.
func (s *superNodePerAtomType) Name() string { return SuperNodePerAtomTypeName }

// Apply implements Strategy.
func (s *superNodePerAtomType) Apply(b *atomgraph.Batch) (*atomgraph.Batch, error) {
	start := time.Now()
	if err := b.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s: input batch", s.Name())
	}

	numGraphs := b.NumGraphs()
	sub, keep := partition(b)
	types := make([][]int32, numGraphs)
	groups := make([][][]int32, numGraphs)
	collapsed, superNodes := 0, 0
	for i := range sub {
		if len(sub[i]) == 0 {
			if !s.opts.allowEmpty {
				return nil, errors.WithMessagef(
					&EmptyAggregateError{Graph: i, SID: b.SID[i]}, "applying %s", s.Name())
			}
			continue
		}
		types[i], groups[i] = groupByType(b, sub[i])
		collapsed += len(sub[i])
		superNodes += len(types[i])
	}

	out := &atomgraph.Batch{Device: b.Device}
	out.Ptr = make([]int32, 1, numGraphs+1)
	for i := 0; i < numGraphs; i++ {
		out.Ptr = append(out.Ptr, out.Ptr[i]+int32(len(keep[i])+len(types[i])))
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
		for j, z := range types[i] {
			members := groups[i][j]
			superNode := int32(len(out.AtomicNumbers))
			for _, n := range members {
				assoc[n] = superNode
			}
			first := members[0]
			relaxed := roundRows(meanRows(b.PosRelaxed, members))
			force := roundRows(meanRows(b.Force, members))
			out.Pos = append(out.Pos, b.Pos[3*first:3*first+3]...)
			out.PosRelaxed = append(out.PosRelaxed, relaxed[:]...)
			out.Force = append(out.Force, force[:]...)
			out.AtomicNumbers = append(out.AtomicNumbers, z)
			out.Tags = append(out.Tags, atomgraph.TagSubSurface)
			out.Fixed = append(out.Fixed, true)
			out.Graph = append(out.Graph, int32(i))
		}
	}

	stats := Stats{
		Strategy:       s.Name(),
		Graphs:         numGraphs,
		NodesBefore:    b.NumNodes(),
		EdgesBefore:    b.NumEdges(),
		CollapsedNodes: collapsed,
		SuperNodes:     superNodes,
	}
	edgePtr := b.EdgePtr()
	out.EdgeSource = make([]int32, 0, b.NumEdges())
	out.EdgeTarget = make([]int32, 0, b.NumEdges())
	out.CellOffsets = make([]int32, 0, 3*b.NumEdges())
	out.Neighbors = make([]int32, 0, numGraphs)
	seen := make(map[int64]struct{}, b.NumEdges())
	for i := 0; i < numGraphs; i++ {
		blockStart := len(out.EdgeSource)
		for e := edgePtr[i]; e < edgePtr[i+1]; e++ {
			src, tgt := b.EdgeSource[e], b.EdgeTarget[e]
			newSrc, newTgt := assoc[src], assoc[tgt]
			if newSrc < 0 {
				return nil, errors.WithMessagef(
					&IndexResolutionError{Edge: int(e), Endpoint: "source", Node: src}, "applying %s", s.Name())
			}
			if newTgt < 0 {
				return nil, errors.WithMessagef(
					&IndexResolutionError{Edge: int(e), Endpoint: "target", Node: tgt}, "applying %s", s.Name())
			}
			if newSrc == newTgt {
				stats.SelfLoopsRemoved++
				stats.EdgesDropped++
				continue
			}
			key := int64(newSrc)<<32 | int64(uint32(newTgt))
			if _, dup := seen[key]; dup {
				stats.DuplicatesRemoved++
				stats.EdgesDropped++
				continue
			}
			seen[key] = struct{}{}
			out.EdgeSource = append(out.EdgeSource, newSrc)
			out.EdgeTarget = append(out.EdgeTarget, newTgt)
			out.CellOffsets = append(out.CellOffsets, b.CellOffsets[3*e:3*e+3]...)
			stats.EdgesKept++
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
	stats.Elapsed = time.Since(start)
	if err := out.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s produced an inconsistent batch", s.Name())
	}
	s.opts.report(stats)
	return out, nil
}
