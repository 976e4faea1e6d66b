package rewiring

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperNodePerAtomType(t *testing.T) {
	b := buildBatch(t,
		sysDef{
			sid:  3,
			z:    []int32{29, 8, 29, 28, 1},
			tags: []int32{0, 0, 0, 1, 2},
			edges: [][2]int32{
				{0, 3}, // Becomes super-node(29)→surface.
				{2, 3}, // Duplicate of the above after substitution.
				{0, 2}, // Both endpoints collapse to the same super-node.
				{0, 1}, // Cross-type: survives super-node to super-node.
				{3, 4},
				{4, 4}, // Pre-existing self-loop: removed.
			},
			offsets: [][3]int32{
				{1, 0, 0},
				{0, 2, 0},
				{0, 0, 0},
				{0, 0, 3},
				{0, 0, 0},
				{0, 0, 0},
			},
		},
		sysDef{sid: 4, z: []int32{29, 29, 1}, tags: []int32{0, 1, 2},
			edges: [][2]int32{{0, 1}, {1, 0}}},
	)
	var stats Stats
	out, err := NewSuperNodePerAtomType(WithStatsFunc(func(s Stats) { stats = s })).Apply(b)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	// Graph 0 keeps 2 atoms and gains super-nodes for types 8 and 29, in
	// ascending type order; graph 1 keeps 2 and gains one for type 29.
	assert.EqualValues(t, []int32{0, 4, 7}, out.Ptr)
	assert.EqualValues(t, []int32{28, 1, 8, 29, 29, 1, 29}, out.AtomicNumbers)
	assert.EqualValues(t, []int32{1, 2, 0, 0, 1, 2, 0}, out.Tags)
	assert.Equal(t, []bool{false, false, true, true, false, false, true}, out.Fixed)
	assert.EqualValues(t, []int32{0, 0, 0, 0, 1, 1, 1}, out.Graph)

	// Super-nodes sit at their first member's position.
	assert.Equal(t, b.Pos[3*1:3*1+3], out.Pos[3*2:3*2+3]) // Type 8: atom 1.
	assert.Equal(t, b.Pos[3*0:3*0+3], out.Pos[3*3:3*3+3]) // Type 29: atom 0.
	assert.Equal(t, b.Pos[3*5:3*5+3], out.Pos[3*6:3*6+3]) // Graph 1, type 29: atom 5.

	// Relaxed positions and forces are per-type means.
	for d := 0; d < 3; d++ {
		assert.Equal(t, mean32(b.PosRelaxed[3*0+d], b.PosRelaxed[3*2+d]), out.PosRelaxed[3*3+d])
		assert.Equal(t, mean32(b.Force[3*0+d], b.Force[3*2+d]), out.Force[3*3+d])
		assert.Equal(t, b.PosRelaxed[3*1+d], out.PosRelaxed[3*2+d])
	}

	// Substituted edges: first occurrence wins, self-loops out, cross-type
	// super-node edges in.
	assert.EqualValues(t, []int32{3, 3, 0, 6, 4}, out.EdgeSource)
	assert.EqualValues(t, []int32{0, 2, 1, 4, 6}, out.EdgeTarget)
	assert.EqualValues(t, []int32{3, 2}, out.Neighbors)
	assert.EqualValues(t, []int32{
		1, 0, 0, // Offset of the first (0→3) occurrence, not the duplicate's.
		0, 0, 3,
		0, 0, 0,
		0, 0, 0,
		0, 0, 0,
	}, out.CellOffsets)

	// The super-node of type 29 sits on atom 0, so the surviving edge keeps
	// its original length.
	assert.Equal(t, b.Distances[0], out.Distances[0])

	assert.Equal(t, 8, stats.EdgesBefore)
	assert.Equal(t, 5, stats.EdgesKept)
	assert.Equal(t, 3, stats.EdgesDropped)
	assert.Equal(t, 2, stats.SelfLoopsRemoved)
	assert.Equal(t, 1, stats.DuplicatesRemoved)
	assert.Equal(t, 0, stats.SelfLoopsAdded)
	assert.Equal(t, 5, stats.EdgesAfter)
	assert.Equal(t, 3, stats.SuperNodes)
	assert.Equal(t, 4, stats.CollapsedNodes)
}

func TestSuperNodePerAtomTypeEmptyAggregate(t *testing.T) {
	b := buildBatch(t,
		sysDef{sid: 9, z: []int32{28, 1}, tags: []int32{1, 2}, edges: [][2]int32{{0, 1}}},
	)
	_, err := NewSuperNodePerAtomType().Apply(b)
	var emptyErr *EmptyAggregateError
	require.True(t, errors.As(err, &emptyErr), "want EmptyAggregateError, got %v", err)

	out, err := NewSuperNodePerAtomType(AllowEmpty()).Apply(b)
	require.NoError(t, err)
	assert.EqualValues(t, []int32{0, 2}, out.Ptr)
	assert.EqualValues(t, []int32{28, 1}, out.AtomicNumbers)
	assert.EqualValues(t, []int32{0}, out.EdgeSource)
	assert.EqualValues(t, []int32{1}, out.EdgeTarget)
}
