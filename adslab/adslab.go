// Package adslab generates synthetic adsorbate+slab structures for tests,
// benchmarks and demos.
//
// Real OC20-style corpora come from DFT relaxations of enumerated
// adsorbate/surface combinations; producing them requires a quantum-chemistry
// stack. This package fakes the part the graph pipeline cares about: it
// builds slabs as jittered cubic lattices with an adsorbate dropped over a
// hollow site, derives the directed radius graph, and assigns energies from a
// smooth pair potential so models have real signal to fit. The tag and
// constraint contract matches the real builders: sub-surface atoms are tagged
// 0 and held fixed, the top layers are tagged 1, adsorbate atoms are
// tagged 2.
//
// Energies are self-consistent by construction: the relaxed energy integrates
// the pair potential over the relaxed geometry plus a per-element term, and
// the initial energy sits a harmonic displacement penalty above it. Forces
// are that penalty's negative gradient, so they point from each atom's
// initial position toward its relaxed one and vanish on fixed atoms.
package adslab

import (
	"math"
	"math/rand/v2"

	"github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/ocmodels/ocgraph/atomgraph"
)

const (
	// adsorbateHeight is the initial height of the adsorbate's base atom
	// over the top layer, in Å.
	adsorbateHeight = 1.9
	// adsorbateSink is how far the adsorbate relaxes toward the surface, in Å.
	adsorbateSink = 0.2
	// relaxedJitterFraction is the share of the initial jitter that survives
	// relaxation on unconstrained atoms.
	relaxedJitterFraction = 0.3
	// forceConstant is the spring constant of the harmonic displacement
	// penalty, in eV/Å².
	forceConstant = 2.0
)

// adsorbateAtom is one atom of a built-in adsorbate, placed relative to the
// adsorption site.
type adsorbateAtom struct {
	z          int32
	dx, dy, dz float32
}

var adsorbateTable = map[string][]adsorbateAtom{
	"H":  {{1, 0, 0, 0}},
	"O":  {{8, 0, 0, 0}},
	"OH": {{8, 0, 0, 0}, {1, 0, 0, 0.97}},
	"CO": {{6, 0, 0, 0}, {8, 0, 0, 1.13}},
}

// Adsorbates lists the built-in adsorbate names, sorted.
func Adsorbates() []string {
	return xslices.SortedKeys(adsorbateTable)
}

// Spec configures a Generator. The zero value is not usable; start from
// DefaultSpec and override fields.
type Spec struct {
	// Elements are the candidate slab species as atomic numbers. Each system
	// draws one uniformly and builds a mono-element slab from it.
	Elements []int32
	// Adsorbates are the candidate adsorbate names, drawn uniformly per
	// system. See Adsorbates for the built-in names.
	Adsorbates []string

	// CellsX and CellsY are the lateral repetitions of the cubic cell.
	CellsX, CellsY int
	// Layers is the total number of slab layers.
	Layers int
	// SurfaceLayers is how many top layers are tagged as surface. The layers
	// below are tagged sub-surface and held fixed.
	SurfaceLayers int

	// LatticeConstant is the cubic lattice spacing in Å.
	LatticeConstant float32
	// Vacuum is the empty space left over the adsorbate in Å; it only enters
	// the unit cell height.
	Vacuum float32
	// Cutoff is the radius-graph neighbor cutoff in Å.
	Cutoff float32
	// Jitter displaces every unconstrained atom by a uniform offset in
	// [-Jitter, Jitter] per coordinate, in Å. Fixed atoms stay on the ideal
	// lattice.
	Jitter float32

	// BaseSID is the system id of the first generated system; later systems
	// number sequentially.
	BaseSID int64
	// Seed for the generator's random stream. Equal specs generate equal
	// corpora.
	Seed uint64
}

// DefaultSpec returns the spec used by the command-line tools: a 3x3x4
// Cu/Pd/Pt slab with one surface layer and the standard 6Å cutoff.
func DefaultSpec() Spec {
	return Spec{
		Elements:        []int32{29, 46, 78},
		Adsorbates:      []string{"H", "O", "OH", "CO"},
		CellsX:          3,
		CellsY:          3,
		Layers:          4,
		SurfaceLayers:   1,
		LatticeConstant: 2.55,
		Vacuum:          10,
		Cutoff:          6,
		Jitter:          0.05,
		Seed:            42,
	}
}

func (s Spec) validate() error {
	if len(s.Elements) == 0 {
		return errors.New("adslab: spec needs at least one slab element")
	}
	for _, z := range s.Elements {
		if z < 1 || z > 118 {
			return errors.Errorf("adslab: %d is not an atomic number", z)
		}
	}
	if len(s.Adsorbates) == 0 {
		return errors.New("adslab: spec needs at least one adsorbate")
	}
	for _, name := range s.Adsorbates {
		if _, found := adsorbateTable[name]; !found {
			return errors.Errorf("adslab: unknown adsorbate %q, the built-in ones are %v", name, Adsorbates())
		}
	}
	if s.CellsX < 1 || s.CellsY < 1 {
		return errors.Errorf("adslab: cells must be >= 1, got %dx%d", s.CellsX, s.CellsY)
	}
	if s.Layers < 2 {
		return errors.Errorf("adslab: need at least 2 layers (sub-surface and surface), got %d", s.Layers)
	}
	if s.SurfaceLayers < 1 || s.SurfaceLayers >= s.Layers {
		return errors.Errorf("adslab: surface layers must be in [1, layers-1], got %d of %d", s.SurfaceLayers, s.Layers)
	}
	if s.LatticeConstant <= 0 {
		return errors.Errorf("adslab: lattice constant must be > 0, got %g", s.LatticeConstant)
	}
	if s.Cutoff <= 0 {
		return errors.Errorf("adslab: cutoff must be > 0, got %g", s.Cutoff)
	}
	if s.Jitter < 0 || s.Vacuum < 0 {
		return errors.Errorf("adslab: jitter and vacuum must be >= 0, got %g and %g", s.Jitter, s.Vacuum)
	}
	return nil
}

// Generator produces systems from a Spec. It is deterministic: two
// generators built from equal specs generate equal corpora. Not safe for
// concurrent use.
type Generator struct {
	spec    Spec
	rng     *rand.Rand
	nextSID int64
}

// New validates the spec and returns a generator for it.
func New(spec Spec) (*Generator, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &Generator{
		spec:    spec,
		rng:     rand.New(rand.NewPCG(spec.Seed, spec.Seed)),
		nextSID: spec.BaseSID,
	}, nil
}

// Generate builds the next n systems, with sequential system ids. It panics
// if n <= 0.
func (g *Generator) Generate(n int) []*atomgraph.System {
	if n <= 0 {
		Panicf("adslab.Generate requires n > 0, got %d", n)
	}
	systems := make([]*atomgraph.System, n)
	var numAtoms, numEdges int
	for i := range systems {
		systems[i] = g.generateOne()
		numAtoms += systems[i].NumAtoms()
		numEdges += systems[i].NumEdges()
	}
	klog.V(1).Infof("adslab: generated %s systems, %s atoms, %s edges",
		humanize.Comma(int64(n)), humanize.Comma(int64(numAtoms)), humanize.Comma(int64(numEdges)))
	return systems
}

func (g *Generator) generateOne() *atomgraph.System {
	spec := g.spec
	a := spec.LatticeConstant
	slabAtoms := spec.CellsX * spec.CellsY * spec.Layers
	adsorbate := adsorbateTable[spec.Adsorbates[g.rng.IntN(len(spec.Adsorbates))]]
	element := spec.Elements[g.rng.IntN(len(spec.Elements))]
	numAtoms := slabAtoms + len(adsorbate)

	sys := &atomgraph.System{
		Pos:           make([]float32, 0, 3*numAtoms),
		PosRelaxed:    make([]float32, 0, 3*numAtoms),
		AtomicNumbers: make([]int32, 0, numAtoms),
		Tags:          make([]int32, 0, numAtoms),
		Fixed:         make([]bool, 0, numAtoms),
		SID:           g.nextSID,
	}
	g.nextSID++

	// Slab atoms, bottom layer first. Fixed atoms sit exactly on the lattice;
	// the others get jittered and relax most of the jitter away.
	firstSurfaceLayer := spec.Layers - spec.SurfaceLayers
	for k := 0; k < spec.Layers; k++ {
		tag := atomgraph.TagSubSurface
		if k >= firstSurfaceLayer {
			tag = atomgraph.TagSurface
		}
		fixed := tag == atomgraph.TagSubSurface
		for j := 0; j < spec.CellsY; j++ {
			for i := 0; i < spec.CellsX; i++ {
				site := [3]float32{float32(i) * a, float32(j) * a, float32(k) * a}
				g.placeAtom(sys, element, tag, fixed, site, site)
			}
		}
	}

	// The adsorbate drops over a random hollow site of the top layer and
	// sinks toward the surface during relaxation.
	si, sj := g.rng.IntN(spec.CellsX), g.rng.IntN(spec.CellsY)
	baseX := (float32(si) + 0.5) * a
	baseY := (float32(sj) + 0.5) * a
	topZ := float32(spec.Layers-1) * a
	for _, atom := range adsorbate {
		initial := [3]float32{baseX + atom.dx, baseY + atom.dy, topZ + adsorbateHeight + atom.dz}
		relaxed := initial
		relaxed[2] -= adsorbateSink
		g.placeAtom(sys, atom.z, atomgraph.TagAdsorbate, false, initial, relaxed)
	}

	g.deriveEdges(sys)
	g.assignEnergetics(sys)
	return sys
}

// placeAtom appends one atom at the ideal initial and relaxed positions,
// applying jitter to unconstrained atoms.
func (g *Generator) placeAtom(sys *atomgraph.System, z, tag int32, fixed bool, initial, relaxed [3]float32) {
	var jitter [3]float32
	if !fixed && g.spec.Jitter > 0 {
		for d := range jitter {
			jitter[d] = (g.rng.Float32()*2 - 1) * g.spec.Jitter
		}
	}
	for d := 0; d < 3; d++ {
		sys.Pos = append(sys.Pos, initial[d]+jitter[d])
		sys.PosRelaxed = append(sys.PosRelaxed, relaxed[d]+relaxedJitterFraction*jitter[d])
	}
	sys.AtomicNumbers = append(sys.AtomicNumbers, z)
	sys.Tags = append(sys.Tags, tag)
	sys.Fixed = append(sys.Fixed, fixed)
}

// deriveEdges builds the directed radius graph over the initial positions:
// every ordered pair within the cutoff becomes an edge. The generator is not
// periodic, so all cell offsets are zero.
func (g *Generator) deriveEdges(sys *atomgraph.System) {
	numAtoms := sys.NumAtoms()
	cutoff := float64(g.spec.Cutoff)
	for src := 0; src < numAtoms; src++ {
		for tgt := 0; tgt < numAtoms; tgt++ {
			if src == tgt {
				continue
			}
			d := euclidean(sys.Pos, src, tgt)
			if d > cutoff {
				continue
			}
			sys.EdgeSource = append(sys.EdgeSource, int32(src))
			sys.EdgeTarget = append(sys.EdgeTarget, int32(tgt))
			sys.CellOffsets = append(sys.CellOffsets, 0, 0, 0)
			sys.Distances = append(sys.Distances, float32(d))
		}
	}

	height := float32(g.spec.Layers-1)*g.spec.LatticeConstant + adsorbateHeight + g.spec.Vacuum
	sys.Cell = [9]float32{
		float32(g.spec.CellsX) * g.spec.LatticeConstant, 0, 0,
		0, float32(g.spec.CellsY) * g.spec.LatticeConstant, 0,
		0, 0, height,
	}
}

// assignEnergetics fills energies and forces. The relaxed energy integrates
// the pair potential over the relaxed geometry plus a per-element term; the
// initial energy adds the harmonic displacement penalty, and the forces are
// the penalty's negative gradient.
func (g *Generator) assignEnergetics(sys *atomgraph.System) {
	relaxed := 0.0
	for _, z := range sys.AtomicNumbers {
		relaxed += elementEnergy(z)
	}
	for e := range sys.EdgeSource {
		d := euclidean(sys.PosRelaxed, int(sys.EdgeSource[e]), int(sys.EdgeTarget[e]))
		relaxed += 0.5 * pairEnergy(d, float64(g.spec.LatticeConstant))
	}

	penalty := 0.0
	sys.Force = make([]float32, len(sys.Pos))
	for i := 0; i < sys.NumAtoms(); i++ {
		for d := 0; d < 3; d++ {
			delta := float64(sys.PosRelaxed[3*i+d] - sys.Pos[3*i+d])
			penalty += 0.5 * forceConstant * delta * delta
			sys.Force[3*i+d] = float32(forceConstant * delta)
		}
	}

	sys.EnergyRelaxed = float32(relaxed)
	sys.Energy = float32(relaxed + penalty)
}

// elementEnergy is the per-atom contribution in eV, varying by element.
func elementEnergy(z int32) float64 {
	return -2.0 - 0.1*float64(z%7)
}

// pairEnergy is a Gaussian well centered on the lattice constant, in eV.
func pairEnergy(d, r0 float64) float64 {
	delta := d - r0
	return -math.Exp(-delta * delta)
}

func euclidean(pos []float32, a, b int) float64 {
	var sum float64
	for d := 0; d < 3; d++ {
		delta := float64(pos[3*a+d] - pos[3*b+d])
		sum += delta * delta
	}
	return math.Sqrt(sum)
}
