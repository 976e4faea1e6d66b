package adslab

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// testSpec is a small, fast corpus: 2x2x3 copper slab with a CO adsorbate.
func testSpec() Spec {
	spec := DefaultSpec()
	spec.Elements = []int32{29}
	spec.Adsorbates = []string{"CO"}
	spec.CellsX, spec.CellsY = 2, 2
	spec.Layers = 3
	spec.BaseSID = 100
	spec.Seed = 7
	return spec
}

func TestAdsorbates(t *testing.T) {
	assert.Equal(t, []string{"CO", "H", "O", "OH"}, Adsorbates())
}

func TestNewValidatesSpec(t *testing.T) {
	_, err := New(DefaultSpec())
	require.NoError(t, err)

	break1 := func(mutate func(*Spec)) error {
		spec := DefaultSpec()
		mutate(&spec)
		_, err := New(spec)
		return err
	}
	assert.Error(t, break1(func(s *Spec) { s.Elements = nil }))
	assert.Error(t, break1(func(s *Spec) { s.Elements = []int32{0} }))
	assert.Error(t, break1(func(s *Spec) { s.Elements = []int32{119} }))
	assert.Error(t, break1(func(s *Spec) { s.Adsorbates = nil }))
	assert.ErrorContains(t, break1(func(s *Spec) { s.Adsorbates = []string{"N2"} }), "unknown adsorbate")
	assert.Error(t, break1(func(s *Spec) { s.CellsX = 0 }))
	assert.Error(t, break1(func(s *Spec) { s.Layers = 1 }))
	assert.Error(t, break1(func(s *Spec) { s.SurfaceLayers = s.Layers }))
	assert.Error(t, break1(func(s *Spec) { s.LatticeConstant = 0 }))
	assert.Error(t, break1(func(s *Spec) { s.Cutoff = 0 }))
	assert.Error(t, break1(func(s *Spec) { s.Jitter = -1 }))
}

func TestGenerateShapesTagsAndConstraints(t *testing.T) {
	gen, err := New(testSpec())
	require.NoError(t, err)
	systems := gen.Generate(3)
	require.Len(t, systems, 3)

	for i, sys := range systems {
		require.NoError(t, sys.Validate())
		assert.EqualValues(t, 100+i, sys.SID)

		// 2x2x3 slab plus the two CO atoms.
		require.Equal(t, 14, sys.NumAtoms())
		var tagCount [3]int
		for _, tag := range sys.Tags {
			tagCount[tag]++
		}
		assert.Equal(t, [3]int{8, 4, 2}, tagCount)

		// Slab atoms come bottom-first, the adsorbate last.
		for a := 0; a < 12; a++ {
			assert.EqualValues(t, 29, sys.AtomicNumbers[a])
		}
		assert.Equal(t, []int32{6, 8}, sys.AtomicNumbers[12:])

		for a := 0; a < sys.NumAtoms(); a++ {
			assert.Equal(t, sys.Tags[a] == atomgraph.TagSubSurface, sys.Fixed[a], "atom %d", a)
			if sys.Fixed[a] {
				assert.Equal(t, sys.Pos[3*a:3*a+3], sys.PosRelaxed[3*a:3*a+3], "fixed atom %d moved", a)
				assert.Equal(t, []float32{0, 0, 0}, sys.Force[3*a:3*a+3], "fixed atom %d has force", a)
			}
		}
	}
}

func TestGenerateRadiusGraph(t *testing.T) {
	spec := testSpec()
	gen, err := New(spec)
	require.NoError(t, err)
	sys := gen.Generate(1)[0]

	type arc struct{ src, tgt int32 }
	seen := make(map[arc]float32, sys.NumEdges())
	for e := 0; e < sys.NumEdges(); e++ {
		key := arc{sys.EdgeSource[e], sys.EdgeTarget[e]}
		_, dup := seen[key]
		require.Falsef(t, dup, "edge %v appears twice", key)
		seen[key] = sys.Distances[e]

		assert.InDelta(t, euclidean(sys.Pos, int(key.src), int(key.tgt)), sys.Distances[e], 1e-6)
		assert.Equal(t, []int32{0, 0, 0}, sys.CellOffsets[3*e:3*e+3])
	}

	// Exactly the ordered pairs within the cutoff, so the reverse arc of
	// every edge is present too.
	for src := 0; src < sys.NumAtoms(); src++ {
		for tgt := 0; tgt < sys.NumAtoms(); tgt++ {
			if src == tgt {
				continue
			}
			d := euclidean(sys.Pos, src, tgt)
			_, found := seen[arc{int32(src), int32(tgt)}]
			assert.Equalf(t, d <= float64(spec.Cutoff), found, "pair (%d,%d) at %gÅ", src, tgt, d)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	genA, err := New(testSpec())
	require.NoError(t, err)
	genB, err := New(testSpec())
	require.NoError(t, err)
	assert.Equal(t, genA.Generate(4), genB.Generate(4))

	// Consecutive calls continue the sid sequence.
	next := genA.Generate(2)
	assert.EqualValues(t, 104, next[0].SID)
	assert.EqualValues(t, 105, next[1].SID)

	reseeded := testSpec()
	reseeded.Seed = 8
	genC, err := New(reseeded)
	require.NoError(t, err)
	assert.NotEqual(t, genB.Generate(1)[0].Pos, genC.Generate(1)[0].Pos)
}

func TestGenerateEnergetics(t *testing.T) {
	gen, err := New(testSpec())
	require.NoError(t, err)
	for _, sys := range gen.Generate(5) {
		// The initial structure sits a displacement penalty above the
		// relaxed minimum.
		assert.Greater(t, sys.Energy, sys.EnergyRelaxed)

		want := 0.0
		for _, z := range sys.AtomicNumbers {
			want += elementEnergy(z)
		}
		for e := range sys.EdgeSource {
			d := euclidean(sys.PosRelaxed, int(sys.EdgeSource[e]), int(sys.EdgeTarget[e]))
			want += 0.5 * pairEnergy(d, 2.55)
		}
		assert.InDelta(t, want, float64(sys.EnergyRelaxed), 1e-4)

		for a := 0; a < sys.NumAtoms(); a++ {
			for d := 0; d < 3; d++ {
				wantF := forceConstant * (sys.PosRelaxed[3*a+d] - sys.Pos[3*a+d])
				assert.InDelta(t, wantF, sys.Force[3*a+d], 1e-6)
			}
		}

		// The adsorbate sinks, so its force points at the surface.
		for a := 12; a < 14; a++ {
			assert.Negative(t, sys.Force[3*a+2], "adsorbate atom %d", a)
		}
	}
}

func TestGeneratePanicsOnBadCount(t *testing.T) {
	gen, err := New(testSpec())
	require.NoError(t, err)
	assert.Panics(t, func() { gen.Generate(0) })
}

func TestGeneratedSystemsBatch(t *testing.T) {
	gen, err := New(testSpec())
	require.NoError(t, err)
	b, err := atomgraph.NewBatch(gen.Generate(4), 0)
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	assert.Equal(t, 4, b.NumGraphs())
	assert.Equal(t, 4*14, b.NumNodes())
}

func TestPairEnergyWell(t *testing.T) {
	// The well bottoms out at the lattice constant and fades with distance.
	assert.InDelta(t, -1.0, pairEnergy(2.55, 2.55), 1e-9)
	assert.Greater(t, pairEnergy(4.0, 2.55), pairEnergy(2.55, 2.55))
	assert.InDelta(t, 0, pairEnergy(100, 2.55), 1e-12)
	assert.False(t, math.IsNaN(pairEnergy(0, 2.55)))
}
