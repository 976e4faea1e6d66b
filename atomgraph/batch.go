package atomgraph

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Batch packs a set of systems into index-aligned flat arrays, one graph per
// system. See the package documentation for the layout. Create one with
// NewBatch or Concat, or by rewiring an existing batch; hand-assembled
// batches should be checked with Validate.
type Batch struct {
	// Ptr delimits each graph's node rows: graph i owns rows Ptr[i]:Ptr[i+1].
	// It has NumGraphs+1 entries, starts at 0 and is strictly increasing --
	// graphs are never empty.
	Ptr []int32

	// Node arrays, one row per atom. Pos, PosRelaxed and Force are flat,
	// 3 values per atom.
	Pos, PosRelaxed, Force []float32
	AtomicNumbers          []int32
	Tags                   []int32
	Fixed                  []bool
	// Graph maps each node row to the graph owning it. It is redundant with
	// Ptr and kept in sync by every operation.
	Graph []int32

	// Edge arrays, one row per directed edge, grouped per graph in Ptr order.
	EdgeSource, EdgeTarget []int32
	// CellOffsets is flat, 3 lattice-unit values per edge.
	CellOffsets []int32
	// Distances are the source→target edge lengths in Å.
	Distances []float32

	// Graph arrays, one row per structure.
	Natoms        []int32
	Neighbors     []int32
	Cell          []float32 // Flat, 9 values (row-major 3x3) per graph.
	Energy        []float32
	EnergyRelaxed []float32
	SID           []int64

	// Device is the logical accelerator this batch is destined to.
	Device backends.DeviceNum
}

// NumGraphs (systems) packed in the batch.
func (b *Batch) NumGraphs() int { return len(b.Ptr) - 1 }

// NumNodes (atoms) in the batch, across all graphs.
func (b *Batch) NumNodes() int { return len(b.AtomicNumbers) }

// NumEdges in the batch, across all graphs.
func (b *Batch) NumEdges() int { return len(b.EdgeSource) }

// NodeRange returns the half-open range of node rows owned by graph i.
func (b *Batch) NodeRange(i int) (start, end int32) { return b.Ptr[i], b.Ptr[i+1] }

// EdgePtr builds the edge counterpart of Ptr from Neighbors: a NumGraphs+1
// cumulative pointer delimiting each graph's edge block.
func (b *Batch) EdgePtr() []int32 {
	edgePtr := make([]int32, len(b.Neighbors)+1)
	for i, n := range b.Neighbors {
		edgePtr[i+1] = edgePtr[i] + n
	}
	return edgePtr
}

// String returns a one-line summary of the batch sizes.
func (b *Batch) String() string {
	return fmt.Sprintf("Batch: %s graphs, %s atoms, %s edges, device #%d",
		humanize.Comma(int64(b.NumGraphs())), humanize.Comma(int64(b.NumNodes())),
		humanize.Comma(int64(b.NumEdges())), b.Device)
}

// Validate checks the invariants every batch must uphold: Ptr starts at zero
// and is strictly increasing; node, edge and graph arrays have the lengths
// the pointer array implies; Graph and Natoms agree with Ptr; edge endpoints
// are valid node rows; edge rows are grouped per graph and Neighbors counts
// them. The first violation found is returned as a ShapeMismatchError.
func (b *Batch) Validate() error {
	if len(b.Ptr) < 2 {
		return shapeErrorf("Ptr", "has %d entries, a batch needs at least one graph", len(b.Ptr))
	}
	if b.Ptr[0] != 0 {
		return shapeErrorf("Ptr", "starts at %d, want 0", b.Ptr[0])
	}
	for i := 1; i < len(b.Ptr); i++ {
		if b.Ptr[i] <= b.Ptr[i-1] {
			return shapeErrorf("Ptr", "entry #%d is %d, not above the previous %d -- graphs cannot be empty",
				i, b.Ptr[i], b.Ptr[i-1])
		}
	}
	numGraphs, numNodes, numEdges := b.NumGraphs(), b.NumNodes(), b.NumEdges()
	if last := int(xslices.Last(b.Ptr)); last != numNodes {
		return shapeErrorf("Ptr", "ends at %d, but the batch has %d node rows", last, numNodes)
	}

	// Node arrays.
	if err := checkLen("Pos", len(b.Pos), 3*numNodes); err != nil {
		return err
	}
	if err := checkLen("PosRelaxed", len(b.PosRelaxed), 3*numNodes); err != nil {
		return err
	}
	if err := checkLen("Force", len(b.Force), 3*numNodes); err != nil {
		return err
	}
	if err := checkLen("Tags", len(b.Tags), numNodes); err != nil {
		return err
	}
	if err := checkLen("Fixed", len(b.Fixed), numNodes); err != nil {
		return err
	}
	if err := checkLen("Graph", len(b.Graph), numNodes); err != nil {
		return err
	}
	for i := 0; i < numGraphs; i++ {
		for n := b.Ptr[i]; n < b.Ptr[i+1]; n++ {
			if b.Graph[n] != int32(i) {
				return shapeErrorf("Graph", "node %d is assigned to graph %d, but Ptr places it in graph %d",
					n, b.Graph[n], i)
			}
		}
	}

	// Graph arrays.
	if err := checkLen("Natoms", len(b.Natoms), numGraphs); err != nil {
		return err
	}
	for i := range b.Natoms {
		if want := b.Ptr[i+1] - b.Ptr[i]; b.Natoms[i] != want {
			return shapeErrorf("Natoms", "graph %d has %d atoms, but Ptr implies %d", i, b.Natoms[i], want)
		}
	}
	if err := checkLen("Neighbors", len(b.Neighbors), numGraphs); err != nil {
		return err
	}
	if err := checkLen("Cell", len(b.Cell), 9*numGraphs); err != nil {
		return err
	}
	if err := checkLen("Energy", len(b.Energy), numGraphs); err != nil {
		return err
	}
	if err := checkLen("EnergyRelaxed", len(b.EnergyRelaxed), numGraphs); err != nil {
		return err
	}
	if err := checkLen("SID", len(b.SID), numGraphs); err != nil {
		return err
	}

	// Edge arrays.
	if err := checkLen("EdgeTarget", len(b.EdgeTarget), numEdges); err != nil {
		return err
	}
	if err := checkLen("CellOffsets", len(b.CellOffsets), 3*numEdges); err != nil {
		return err
	}
	if err := checkLen("Distances", len(b.Distances), numEdges); err != nil {
		return err
	}
	counts := make([]int32, numGraphs)
	lastGraph := int32(0)
	for e := 0; e < numEdges; e++ {
		src, tgt := b.EdgeSource[e], b.EdgeTarget[e]
		if src < 0 || int(src) >= numNodes {
			return shapeErrorf("EdgeSource", "edge #%d points at node %d, batch has %d nodes", e, src, numNodes)
		}
		if tgt < 0 || int(tgt) >= numNodes {
			return shapeErrorf("EdgeTarget", "edge #%d points at node %d, batch has %d nodes", e, tgt, numNodes)
		}
		g := b.Graph[src]
		if g < lastGraph {
			return shapeErrorf("EdgeSource", "edge #%d belongs to graph %d but follows edges of graph %d -- "+
				"edge rows must be grouped per graph", e, g, lastGraph)
		}
		lastGraph = g
		counts[g]++
	}
	for i, got := range b.Neighbors {
		if got != counts[i] {
			return shapeErrorf("Neighbors", "graph %d claims %d edges, found %d", i, got, counts[i])
		}
	}
	return nil
}

// Clone returns a deep copy of the batch: no memory is shared with the
// receiver.
func (b *Batch) Clone() *Batch {
	return &Batch{
		Ptr:           xslices.Copy(b.Ptr),
		Pos:           xslices.Copy(b.Pos),
		PosRelaxed:    xslices.Copy(b.PosRelaxed),
		Force:         xslices.Copy(b.Force),
		AtomicNumbers: xslices.Copy(b.AtomicNumbers),
		Tags:          xslices.Copy(b.Tags),
		Fixed:         xslices.Copy(b.Fixed),
		Graph:         xslices.Copy(b.Graph),
		EdgeSource:    xslices.Copy(b.EdgeSource),
		EdgeTarget:    xslices.Copy(b.EdgeTarget),
		CellOffsets:   xslices.Copy(b.CellOffsets),
		Distances:     xslices.Copy(b.Distances),
		Natoms:        xslices.Copy(b.Natoms),
		Neighbors:     xslices.Copy(b.Neighbors),
		Cell:          xslices.Copy(b.Cell),
		Energy:        xslices.Copy(b.Energy),
		EnergyRelaxed: xslices.Copy(b.EnergyRelaxed),
		SID:           xslices.Copy(b.SID),
		Device:        b.Device,
	}
}

// To returns the batch assigned to the given device. If the batch is already
// there the receiver itself is returned; otherwise a deep copy is made, so
// batches on different devices never share memory.
func (b *Batch) To(device backends.DeviceNum) *Batch {
	if b.Device == device {
		return b
	}
	moved := b.Clone()
	moved.Device = device
	return moved
}

// Concat packs the graphs of all given batches, in order, into one new batch.
// Node and edge rows are copied with their indices re-based, and graph rows
// are renumbered. All inputs must sit on the same device: concatenation fails
// with a DeviceMismatchError otherwise.
//
// It panics if called with no batches.
func Concat(batches ...*Batch) (*Batch, error) {
	if len(batches) == 0 {
		Panicf("atomgraph.Concat requires at least one batch, got none")
	}
	device := batches[0].Device
	numNodes, numEdges := 0, 0
	for i, other := range batches {
		if other.Device != device {
			return nil, errors.WithMessagef(
				&DeviceMismatchError{Got: other.Device, Want: device},
				"concatenating batch #%d", i)
		}
		numNodes += other.NumNodes()
		numEdges += other.NumEdges()
	}
	if numNodes > math.MaxInt32 || numEdges > math.MaxInt32 {
		Panicf("batches index node and edge rows with int32: %d atoms / %d edges do not fit", numNodes, numEdges)
	}

	out := batches[0].Clone()
	for _, next := range batches[1:] {
		nodeBase := int32(out.NumNodes())
		graphBase := int32(out.NumGraphs())
		for _, p := range next.Ptr[1:] {
			out.Ptr = append(out.Ptr, nodeBase+p)
		}
		out.Pos = append(out.Pos, next.Pos...)
		out.PosRelaxed = append(out.PosRelaxed, next.PosRelaxed...)
		out.Force = append(out.Force, next.Force...)
		out.AtomicNumbers = append(out.AtomicNumbers, next.AtomicNumbers...)
		out.Tags = append(out.Tags, next.Tags...)
		out.Fixed = append(out.Fixed, next.Fixed...)
		for _, g := range next.Graph {
			out.Graph = append(out.Graph, graphBase+g)
		}
		for e := range next.EdgeSource {
			out.EdgeSource = append(out.EdgeSource, nodeBase+next.EdgeSource[e])
			out.EdgeTarget = append(out.EdgeTarget, nodeBase+next.EdgeTarget[e])
		}
		out.CellOffsets = append(out.CellOffsets, next.CellOffsets...)
		out.Distances = append(out.Distances, next.Distances...)
		out.Natoms = append(out.Natoms, next.Natoms...)
		out.Neighbors = append(out.Neighbors, next.Neighbors...)
		out.Cell = append(out.Cell, next.Cell...)
		out.Energy = append(out.Energy, next.Energy...)
		out.EnergyRelaxed = append(out.EnergyRelaxed, next.EnergyRelaxed...)
		out.SID = append(out.SID, next.SID...)
	}
	return out, nil
}

// Systems unpacks the batch back into standalone systems, inverting NewBatch.
// Each returned System owns fresh arrays, with edge endpoints re-based to
// local atom indices.
func (b *Batch) Systems() []*System {
	edgePtr := b.EdgePtr()
	systems := make([]*System, 0, b.NumGraphs())
	for i := 0; i < b.NumGraphs(); i++ {
		lo, hi := b.NodeRange(i)
		eLo, eHi := edgePtr[i], edgePtr[i+1]
		sys := &System{
			Pos:           xslices.Copy(b.Pos[3*lo : 3*hi]),
			PosRelaxed:    xslices.Copy(b.PosRelaxed[3*lo : 3*hi]),
			Force:         xslices.Copy(b.Force[3*lo : 3*hi]),
			AtomicNumbers: xslices.Copy(b.AtomicNumbers[lo:hi]),
			Tags:          xslices.Copy(b.Tags[lo:hi]),
			Fixed:         xslices.Copy(b.Fixed[lo:hi]),
			EdgeSource:    make([]int32, 0, eHi-eLo),
			EdgeTarget:    make([]int32, 0, eHi-eLo),
			CellOffsets:   xslices.Copy(b.CellOffsets[3*eLo : 3*eHi]),
			Distances:     xslices.Copy(b.Distances[eLo:eHi]),
			Energy:        b.Energy[i],
			EnergyRelaxed: b.EnergyRelaxed[i],
			SID:           b.SID[i],
		}
		copy(sys.Cell[:], b.Cell[9*i:9*(i+1)])
		for e := eLo; e < eHi; e++ {
			sys.EdgeSource = append(sys.EdgeSource, b.EdgeSource[e]-lo)
			sys.EdgeTarget = append(sys.EdgeTarget, b.EdgeTarget[e]-lo)
		}
		systems = append(systems, sys)
	}
	return systems
}
