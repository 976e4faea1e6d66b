// Package atomgraph defines the host-side data model for batched atomic
// structures: a System holds one adsorbate+catalyst structure (atoms, the
// directed neighbor graph and the bookkeeping used by relaxed-energy tasks),
// and a Batch packs many systems into the index-aligned flat arrays every
// other package of the toolkit operates on.
//
// A Batch carries three families of arrays:
//
//   - Node arrays, one row per atom: positions, atomic numbers, tags, ...
//   - Edge arrays, one row per directed edge: endpoints, cell offsets, distances.
//   - Graph arrays, one row per structure: unit cell, energies, ids, counts.
//
// The pointer array Ptr (length NumGraphs+1) delimits each structure's nodes:
// graph i owns node rows Ptr[i]:Ptr[i+1]. Edge rows are grouped per graph in
// the same order, with per-graph counts kept in Neighbors. Tags follow the
// OC20 convention: 0 marks sub-surface atoms, 1 surface atoms, 2 and above
// adsorbate atoms.
//
// Batches are plain host memory. Device records the logical accelerator a
// batch is destined to; operations that combine batches require their devices
// to match and fail with a DeviceMismatchError otherwise.
package atomgraph

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
)

// Atom tags, following the OC20 convention. Adsorbate atoms may carry tags
// above TagAdsorbate (e.g. a temporarily marked binding atom), so tests for
// adsorbates should use >= TagAdsorbate.
const (
	TagSubSurface int32 = 0
	TagSurface    int32 = 1
	TagAdsorbate  int32 = 2
)

// System is a single atomic structure: an adsorbate placed on a catalyst
// slab, with the directed neighbor graph already derived. All node (per-atom)
// and edge arrays are index-aligned; positions and cell offsets are stored
// flat, 3 values per row.
type System struct {
	// Pos holds the atom positions in Å, flat [NumAtoms*3].
	Pos []float32
	// PosRelaxed holds the atom positions after relaxation, flat [NumAtoms*3].
	PosRelaxed []float32
	// Force holds the per-atom forces in eV/Å, flat [NumAtoms*3].
	Force []float32

	// AtomicNumbers of each atom.
	AtomicNumbers []int32
	// Tags classify each atom: TagSubSurface, TagSurface or TagAdsorbate+.
	Tags []int32
	// Fixed marks atoms held in place by relaxation constraints.
	Fixed []bool

	// EdgeSource and EdgeTarget hold the directed edges as local atom indices.
	EdgeSource, EdgeTarget []int32
	// CellOffsets give the periodic image the target atom was seen in,
	// flat [NumEdges*3], in lattice units.
	CellOffsets []int32
	// Distances are the source→target edge lengths in Å.
	Distances []float32

	// Cell is the unit cell, a row-major 3x3 matrix.
	Cell [9]float32
	// Energy and EnergyRelaxed are the structure's total energies before and
	// after relaxation, in eV.
	Energy, EnergyRelaxed float32
	// SID identifies the structure within its corpus.
	SID int64
}

// NumAtoms in the system.
func (s *System) NumAtoms() int { return len(s.AtomicNumbers) }

// NumEdges in the system's directed neighbor graph.
func (s *System) NumEdges() int { return len(s.EdgeSource) }

// Validate checks that the system's arrays are index-aligned and that edge
// endpoints point at valid atoms. The first violation found is returned as a
// ShapeMismatchError.
func (s *System) Validate() error {
	numAtoms, numEdges := s.NumAtoms(), s.NumEdges()
	if numAtoms == 0 {
		return shapeErrorf("AtomicNumbers", "system has no atoms")
	}
	if err := checkLen("Pos", len(s.Pos), 3*numAtoms); err != nil {
		return err
	}
	if err := checkLen("PosRelaxed", len(s.PosRelaxed), 3*numAtoms); err != nil {
		return err
	}
	if err := checkLen("Force", len(s.Force), 3*numAtoms); err != nil {
		return err
	}
	if err := checkLen("Tags", len(s.Tags), numAtoms); err != nil {
		return err
	}
	if err := checkLen("Fixed", len(s.Fixed), numAtoms); err != nil {
		return err
	}
	if err := checkLen("EdgeTarget", len(s.EdgeTarget), numEdges); err != nil {
		return err
	}
	if err := checkLen("CellOffsets", len(s.CellOffsets), 3*numEdges); err != nil {
		return err
	}
	if err := checkLen("Distances", len(s.Distances), numEdges); err != nil {
		return err
	}
	for e := 0; e < numEdges; e++ {
		if src := s.EdgeSource[e]; src < 0 || int(src) >= numAtoms {
			return shapeErrorf("EdgeSource", "edge #%d points at atom %d, system has %d atoms", e, src, numAtoms)
		}
		if tgt := s.EdgeTarget[e]; tgt < 0 || int(tgt) >= numAtoms {
			return shapeErrorf("EdgeTarget", "edge #%d points at atom %d, system has %d atoms", e, tgt, numAtoms)
		}
	}
	return nil
}

func checkLen(field string, got, want int) error {
	if got != want {
		return shapeErrorf(field, "length is %d, want %d", got, want)
	}
	return nil
}

// NewBatch packs systems into one Batch destined to the given device.
// Systems are laid out back-to-back in the order given: edge endpoints are
// re-based to batch node rows, the pointer array and the per-graph counts are
// derived, and every graph array is filled from the corresponding System
// field.
//
// It panics if systems is empty (batches are never empty), and returns a
// ShapeMismatchError annotated with the system's position if any system's
// arrays are not index-aligned.
func NewBatch(systems []*System, device backends.DeviceNum) (*Batch, error) {
	if len(systems) == 0 {
		Panicf("atomgraph.NewBatch requires at least one system, got none")
	}
	var numNodes, numEdges int
	for i, sys := range systems {
		if err := sys.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "packing system #%d (sid %d)", i, sys.SID)
		}
		numNodes += sys.NumAtoms()
		numEdges += sys.NumEdges()
	}
	if numNodes > math.MaxInt32 || numEdges > math.MaxInt32 {
		Panicf("batches index node and edge rows with int32: %d atoms / %d edges do not fit", numNodes, numEdges)
	}

	numGraphs := len(systems)
	b := &Batch{
		Ptr:           make([]int32, 1, numGraphs+1),
		Pos:           make([]float32, 0, 3*numNodes),
		PosRelaxed:    make([]float32, 0, 3*numNodes),
		Force:         make([]float32, 0, 3*numNodes),
		AtomicNumbers: make([]int32, 0, numNodes),
		Tags:          make([]int32, 0, numNodes),
		Fixed:         make([]bool, 0, numNodes),
		Graph:         make([]int32, 0, numNodes),
		EdgeSource:    make([]int32, 0, numEdges),
		EdgeTarget:    make([]int32, 0, numEdges),
		CellOffsets:   make([]int32, 0, 3*numEdges),
		Distances:     make([]float32, 0, numEdges),
		Natoms:        make([]int32, 0, numGraphs),
		Neighbors:     make([]int32, 0, numGraphs),
		Cell:          make([]float32, 0, 9*numGraphs),
		Energy:        make([]float32, 0, numGraphs),
		EnergyRelaxed: make([]float32, 0, numGraphs),
		SID:           make([]int64, 0, numGraphs),
		Device:        device,
	}
	for i, sys := range systems {
		nodeBase := int32(len(b.AtomicNumbers))
		b.Pos = append(b.Pos, sys.Pos...)
		b.PosRelaxed = append(b.PosRelaxed, sys.PosRelaxed...)
		b.Force = append(b.Force, sys.Force...)
		b.AtomicNumbers = append(b.AtomicNumbers, sys.AtomicNumbers...)
		b.Tags = append(b.Tags, sys.Tags...)
		b.Fixed = append(b.Fixed, sys.Fixed...)
		for range sys.AtomicNumbers {
			b.Graph = append(b.Graph, int32(i))
		}
		for e := range sys.EdgeSource {
			b.EdgeSource = append(b.EdgeSource, nodeBase+sys.EdgeSource[e])
			b.EdgeTarget = append(b.EdgeTarget, nodeBase+sys.EdgeTarget[e])
		}
		b.CellOffsets = append(b.CellOffsets, sys.CellOffsets...)
		b.Distances = append(b.Distances, sys.Distances...)
		b.Ptr = append(b.Ptr, nodeBase+int32(sys.NumAtoms()))
		b.Natoms = append(b.Natoms, int32(sys.NumAtoms()))
		b.Neighbors = append(b.Neighbors, int32(sys.NumEdges()))
		b.Cell = append(b.Cell, sys.Cell[:]...)
		b.Energy = append(b.Energy, sys.Energy)
		b.EnergyRelaxed = append(b.EnergyRelaxed, sys.EnergyRelaxed)
		b.SID = append(b.SID, sys.SID)
	}
	return b, nil
}
