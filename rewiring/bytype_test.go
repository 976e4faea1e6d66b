package rewiring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByTypeAgreesBitForBitOnSingleType(t *testing.T) {
	// Every graph's sub-surface atoms share one atomic type, so the by-type
	// path must reproduce the per-graph path exactly, bit for bit.
	b := twoGraphBatch(t)
	perGraph, err := NewSuperNodePerGraph().Apply(b)
	require.NoError(t, err)
	byType, err := NewSuperNodePerGraphByType().Apply(b)
	require.NoError(t, err)
	assert.Equal(t, perGraph, byType)
}

func TestByTypeAgreesToFloatPrecisionOnMixedTypes(t *testing.T) {
	// Graph 0 buries two copper and one oxygen atom: the by-type path
	// averages per type and merges, so floats may differ in the last bits
	// but nothing else may.
	b := buildBatch(t,
		sysDef{sid: 3, z: []int32{29, 8, 29, 28, 1}, tags: []int32{0, 0, 0, 1, 2},
			edges: [][2]int32{{0, 3}, {3, 4}}},
		sysDef{sid: 4, z: []int32{29, 26, 29, 1}, tags: []int32{0, 0, 1, 2},
			edges: [][2]int32{{0, 2}, {1, 2}}},
	)
	perGraph, err := NewSuperNodePerGraph().Apply(b)
	require.NoError(t, err)
	byType, err := NewSuperNodePerGraphByType().Apply(b)
	require.NoError(t, err)

	// Identical structure.
	assert.Equal(t, perGraph.Ptr, byType.Ptr)
	assert.Equal(t, perGraph.Graph, byType.Graph)
	assert.Equal(t, perGraph.AtomicNumbers, byType.AtomicNumbers)
	assert.Equal(t, perGraph.Tags, byType.Tags)
	assert.Equal(t, perGraph.Fixed, byType.Fixed)
	assert.Equal(t, perGraph.EdgeSource, byType.EdgeSource)
	assert.Equal(t, perGraph.EdgeTarget, byType.EdgeTarget)
	assert.Equal(t, perGraph.CellOffsets, byType.CellOffsets)
	assert.Equal(t, perGraph.Natoms, byType.Natoms)
	assert.Equal(t, perGraph.Neighbors, byType.Neighbors)
	assert.Equal(t, perGraph.SID, byType.SID)

	// Aggregates agree to float precision.
	assert.InDeltaSlice(t, perGraph.Pos, byType.Pos, 1e-6)
	assert.InDeltaSlice(t, perGraph.PosRelaxed, byType.PosRelaxed, 1e-6)
	assert.InDeltaSlice(t, perGraph.Force, byType.Force, 1e-6)
	assert.InDeltaSlice(t, perGraph.Distances, byType.Distances, 1e-6)
}

func TestByTypeMergedAggregateWeighting(t *testing.T) {
	// Two copper atoms and one oxygen: the merged mean must weight copper
	// twice as much, i.e. equal the plain mean over all three members.
	b := buildBatch(t, sysDef{sid: 5, z: []int32{29, 8, 29, 1}, tags: []int32{0, 0, 0, 2},
		edges: [][2]int32{{0, 3}}})
	out, err := NewSuperNodePerGraphByType().Apply(b)
	require.NoError(t, err)

	superNode := int(out.Ptr[1] - 1)
	for d := 0; d < 3; d++ {
		want := mean32(b.Pos[0+d], b.Pos[3+d], b.Pos[6+d])
		assert.InDelta(t, want, out.Pos[3*superNode+d], 1e-6)
	}
}
