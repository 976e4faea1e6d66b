package rewiring

import (
	"testing"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sysDef compactly defines one test system.
type sysDef struct {
	sid     int64
	z       []int32      // Atomic number per atom.
	tags    []int32      // Tag per atom.
	edges   [][2]int32   // Directed edges, local atom indices.
	offsets [][3]int32   // Optional cell offset per edge; zeros when nil.
}

// buildSystem lays atom a of system sid at (a, a², a/2+sid), with relaxed
// positions shifted by 0.25 along x.
func buildSystem(d sysDef) *atomgraph.System {
	s := &atomgraph.System{
		AtomicNumbers: append([]int32{}, d.z...),
		Tags:          append([]int32{}, d.tags...),
		Cell:          [9]float32{10, 0, 0, 0, 10, 0, 0, 0, 24},
		Energy:        float32(d.sid),
		EnergyRelaxed: float32(d.sid) - 2,
		SID:           d.sid,
	}
	for a := range d.tags {
		fa := float32(a)
		s.Pos = append(s.Pos, fa, fa*fa, 0.5*fa+float32(d.sid))
		s.PosRelaxed = append(s.PosRelaxed, fa+0.25, fa*fa, 0.5*fa+float32(d.sid))
		s.Force = append(s.Force, 0.1*fa, -0.2*fa, 0.3)
		s.Fixed = append(s.Fixed, d.tags[a] == atomgraph.TagSubSurface)
	}
	for e, edge := range d.edges {
		s.EdgeSource = append(s.EdgeSource, edge[0])
		s.EdgeTarget = append(s.EdgeTarget, edge[1])
		if d.offsets != nil {
			s.CellOffsets = append(s.CellOffsets, d.offsets[e][:]...)
		} else {
			s.CellOffsets = append(s.CellOffsets, 0, 0, 0)
		}
		s.Distances = append(s.Distances, distance(s.Pos, edge[0], edge[1]))
	}
	return s
}

func buildBatch(t *testing.T, defs ...sysDef) *atomgraph.Batch {
	systems := make([]*atomgraph.System, 0, len(defs))
	for _, d := range defs {
		systems = append(systems, buildSystem(d))
	}
	b, err := atomgraph.NewBatch(systems, 0)
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	return b
}

// twoGraphBatch is the canonical small case: a 5-atom graph with two
// sub-surface atoms and one adsorbate edge, and a 3-atom graph with one
// sub-surface atom.
func twoGraphBatch(t *testing.T) *atomgraph.Batch {
	return buildBatch(t,
		sysDef{sid: 1, z: []int32{29, 29, 29, 29, 1}, tags: []int32{0, 0, 1, 1, 2}, edges: [][2]int32{{0, 2}}},
		sysDef{sid: 2, z: []int32{29, 29, 1}, tags: []int32{0, 1, 2}, edges: [][2]int32{{0, 1}}},
	)
}

// mean32 mirrors the strategies' aggregation: accumulate in float64, round
// once.
func mean32(vals ...float32) float32 {
	var acc float64
	for _, v := range vals {
		acc += float64(v)
	}
	return float32(acc / float64(len(vals)))
}

func TestSuperNodePerGraph(t *testing.T) {
	b := twoGraphBatch(t)
	before := b.Clone()
	out, err := NewSuperNodePerGraph().Apply(b)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	// The input batch must be untouched.
	assert.Equal(t, before, b)

	// Graph 0 keeps atoms 2,3,4 and gains a super-node at row 3; graph 1
	// keeps atoms 6,7 and gains one at row 6.
	assert.EqualValues(t, []int32{0, 4, 7}, out.Ptr)
	assert.EqualValues(t, []int32{4, 3}, out.Natoms)
	assert.EqualValues(t, []int32{0, 0, 0, 0, 1, 1, 1}, out.Graph)
	assert.EqualValues(t, []int32{29, 29, 1, 84, 29, 1, 84}, out.AtomicNumbers)
	assert.EqualValues(t, []int32{1, 1, 2, 0, 1, 2, 0}, out.Tags)
	assert.Equal(t, []bool{false, false, false, true, false, false, true}, out.Fixed)

	// Edge (0→2) survives as (super-node→surface); one self-loop per graph.
	assert.EqualValues(t, []int32{3, 3, 6, 6}, out.EdgeSource)
	assert.EqualValues(t, []int32{0, 3, 4, 6}, out.EdgeTarget)
	assert.EqualValues(t, []int32{2, 2}, out.Neighbors)

	// Super-node payloads: member means.
	assert.Equal(t, mean32(b.Pos[0], b.Pos[3]), out.Pos[3*3+0])
	assert.Equal(t, mean32(b.Pos[1], b.Pos[4]), out.Pos[3*3+1])
	assert.Equal(t, mean32(b.Pos[2], b.Pos[5]), out.Pos[3*3+2])
	assert.Equal(t, mean32(b.PosRelaxed[0], b.PosRelaxed[3]), out.PosRelaxed[3*3+0])
	assert.Equal(t, mean32(b.Force[0], b.Force[3]), out.Force[3*3+0])
	// Graph 1 collapses a single atom: the super-node sits right on it.
	assert.Equal(t, b.Pos[3*5:3*5+3], out.Pos[3*6:3*6+3])

	// Distances are re-derived: self-loops measure zero, the surviving edge
	// measures super-node to its target.
	assert.Equal(t, distance(out.Pos, 3, 0), out.Distances[0])
	assert.Zero(t, out.Distances[1])
	assert.Zero(t, out.Distances[3])

	// Bookkeeping rides along unchanged.
	assert.Equal(t, b.Energy, out.Energy)
	assert.Equal(t, b.EnergyRelaxed, out.EnergyRelaxed)
	assert.Equal(t, b.Cell, out.Cell)
	assert.Equal(t, b.SID, out.SID)
	assert.Equal(t, b.Device, out.Device)
}

func TestSuperNodePerGraphDropsBuriedEdges(t *testing.T) {
	// Graph 0 gains an edge fully inside the collapsed set.
	b := buildBatch(t,
		sysDef{sid: 1, z: []int32{29, 29, 29, 29, 1}, tags: []int32{0, 0, 1, 1, 2},
			edges: [][2]int32{{0, 2}, {0, 1}, {1, 0}}},
		sysDef{sid: 2, z: []int32{29, 29, 1}, tags: []int32{0, 1, 2}, edges: [][2]int32{{0, 1}}},
	)
	var stats Stats
	out, err := NewSuperNodePerGraph(WithStatsFunc(func(s Stats) { stats = s })).Apply(b)
	require.NoError(t, err)

	assert.EqualValues(t, []int32{2, 2}, out.Neighbors)
	assert.Equal(t, 4, stats.EdgesBefore)
	assert.Equal(t, 2, stats.EdgesKept)
	assert.Equal(t, 2, stats.EdgesDropped)
	assert.Equal(t, 2, stats.SelfLoopsAdded)
	assert.Equal(t, 4, stats.EdgesAfter)
	assert.Equal(t, 3, stats.CollapsedNodes)
	assert.Equal(t, 2, stats.SuperNodes)
	assert.Equal(t, 8, stats.NodesBefore)
	assert.Equal(t, 7, stats.NodesAfter)

	// The accounting always balances.
	assert.Equal(t, stats.EdgesBefore, stats.EdgesKept+stats.EdgesDropped)
	assert.Equal(t, stats.EdgesAfter, stats.EdgesKept+stats.SelfLoopsAdded)
	assert.Contains(t, stats.String(), SuperNodePerGraphName)
}

func TestSuperNodePerGraphEmptyAggregate(t *testing.T) {
	b := buildBatch(t,
		sysDef{sid: 7, z: []int32{29, 1}, tags: []int32{1, 2}, edges: [][2]int32{{0, 1}}},
		sysDef{sid: 8, z: []int32{29, 29, 1}, tags: []int32{0, 1, 2}, edges: [][2]int32{{0, 1}}},
	)

	_, err := NewSuperNodePerGraph().Apply(b)
	require.Error(t, err)
	var emptyErr *EmptyAggregateError
	require.True(t, errors.As(err, &emptyErr), "want EmptyAggregateError, got %v", err)
	assert.Equal(t, 0, emptyErr.Graph)
	assert.EqualValues(t, 7, emptyErr.SID)

	// AllowEmpty: graph 0 passes through unreduced, graph 1 still collapses.
	out, err := NewSuperNodePerGraph(AllowEmpty()).Apply(b)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.EqualValues(t, []int32{0, 2, 5}, out.Ptr)
	assert.EqualValues(t, []int32{29, 1, 29, 1, 84}, out.AtomicNumbers)
	// Graph 0 keeps its edge verbatim and gains no self-loop.
	assert.EqualValues(t, []int32{0, 4, 4}, out.EdgeSource)
	assert.EqualValues(t, []int32{1, 2, 4}, out.EdgeTarget)
	assert.EqualValues(t, []int32{1, 2}, out.Neighbors)
}

func TestSuperNodePerGraphSentinelOverride(t *testing.T) {
	b := twoGraphBatch(t)
	out, err := NewSuperNodePerGraph(WithSentinelAtomicNumber(118)).Apply(b)
	require.NoError(t, err)
	assert.EqualValues(t, 118, out.AtomicNumbers[3])
	assert.EqualValues(t, 118, out.AtomicNumbers[6])
}

func TestSuperNodePerGraphIsAProjection(t *testing.T) {
	// After one collapse the only sub-surface atom left per graph is the
	// super-node itself, so a second application must change nothing.
	b := twoGraphBatch(t)
	s := NewSuperNodePerGraph()
	once, err := s.Apply(b)
	require.NoError(t, err)
	twice, err := s.Apply(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestStrategiesAreDeterministic(t *testing.T) {
	b := twoGraphBatch(t)
	for _, name := range Names() {
		s := New(name)
		first, err := s.Apply(b)
		require.NoError(t, err, "strategy %s", name)
		second, err := s.Apply(b)
		require.NoError(t, err, "strategy %s", name)
		assert.Equal(t, first, second, "strategy %s must be deterministic", name)
	}
}
