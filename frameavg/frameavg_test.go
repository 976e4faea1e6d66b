package frameavg

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anisotropicSystem spreads atoms along three tilted orthogonal directions
// with clearly distinct variances, so the principal axes are unambiguous.
func anisotropicSystem(sid int64, numAtoms int) *atomgraph.System {
	// Orthogonal, deliberately not axis aligned.
	e1 := [3]float64{2, 1, 1}
	e2 := [3]float64{-1, 1, 1}
	e3 := [3]float64{0, -1, 1}
	s := &atomgraph.System{
		Cell:          [9]float32{12, 0, 0, 0, 12, 0, 0, 0, 30},
		Energy:        float32(sid),
		EnergyRelaxed: float32(sid) - 1,
		SID:           sid,
	}
	for k := 0; k < numAtoms; k++ {
		a := float64(k) - float64(numAtoms-1)/2
		b := 0.4 * float64(k%3-1)
		c := 0.15 * float64(k%2*2-1)
		for d := 0; d < 3; d++ {
			s.Pos = append(s.Pos, float32(a*e1[d]+b*e2[d]+c*e3[d]+5))
		}
		s.PosRelaxed = append(s.PosRelaxed, s.Pos[3*k], s.Pos[3*k+1], s.Pos[3*k+2])
		s.Force = append(s.Force, float32(0.1*a), float32(0.2*b), float32(-0.1*c))
		s.AtomicNumbers = append(s.AtomicNumbers, 29)
		if k == numAtoms-1 {
			s.Tags = append(s.Tags, atomgraph.TagAdsorbate)
		} else if k < 2 {
			s.Tags = append(s.Tags, atomgraph.TagSubSurface)
		} else {
			s.Tags = append(s.Tags, atomgraph.TagSurface)
		}
		s.Fixed = append(s.Fixed, k < 2)
	}
	for k := 0; k < numAtoms; k++ {
		next := int32((k + 1) % numAtoms)
		s.EdgeSource = append(s.EdgeSource, int32(k))
		s.EdgeTarget = append(s.EdgeTarget, next)
		s.CellOffsets = append(s.CellOffsets, 0, 0, 0)
		s.Distances = append(s.Distances, euclidean(s.Pos, int32(k), next))
	}
	return s
}

func euclidean(pos []float32, a, b int32) float32 {
	var sum float64
	for d := int32(0); d < 3; d++ {
		delta := float64(pos[3*a+d]) - float64(pos[3*b+d])
		sum += delta * delta
	}
	return float32(math.Sqrt(sum))
}

func frameBatch(t *testing.T) *atomgraph.Batch {
	b, err := atomgraph.NewBatch([]*atomgraph.System{
		anisotropicSystem(10, 8),
		anisotropicSystem(11, 6),
	}, 0)
	require.NoError(t, err)
	return b
}

func TestApplyPreservesPairwiseDistances(t *testing.T) {
	b := frameBatch(t)
	out, err := Apply(b)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	for i := 0; i < b.NumGraphs(); i++ {
		lo, hi := b.NodeRange(i)
		for a := lo; a < hi; a++ {
			for c := a + 1; c < hi; c++ {
				assert.InDelta(t, euclidean(b.Pos, a, c), euclidean(out.Pos, a, c), 1e-4)
			}
		}
	}
}

func TestApplyCentersAndOrdersAxes(t *testing.T) {
	b := frameBatch(t)
	out, err := Apply(b)
	require.NoError(t, err)

	for i := 0; i < b.NumGraphs(); i++ {
		lo, hi := b.NodeRange(i)
		count := float64(hi - lo)
		var mean, variance [3]float64
		for n := lo; n < hi; n++ {
			for d := int32(0); d < 3; d++ {
				mean[d] += float64(out.Pos[3*n+d])
			}
		}
		for d := 0; d < 3; d++ {
			mean[d] /= count
			assert.InDelta(t, 0, mean[d], 1e-4, "graph %d axis %d", i, d)
		}
		for n := lo; n < hi; n++ {
			for d := int32(0); d < 3; d++ {
				delta := float64(out.Pos[3*n+d]) - mean[d]
				variance[d] += delta * delta
			}
		}
		assert.Greater(t, variance[0], variance[1], "graph %d", i)
		assert.Greater(t, variance[1], variance[2], "graph %d", i)
	}
}

// rotated returns a copy of the batch with every position and force row
// turned by fixed rotations around z then x.
func rotated(b *atomgraph.Batch, angleZ, angleX float64) *atomgraph.Batch {
	cz, sz := math.Cos(angleZ), math.Sin(angleZ)
	cx, sx := math.Cos(angleX), math.Sin(angleX)
	rot := func(p [3]float64) [3]float64 {
		p = [3]float64{cz*p[0] - sz*p[1], sz*p[0] + cz*p[1], p[2]}
		return [3]float64{p[0], cx*p[1] - sx*p[2], sx*p[1] + cx*p[2]}
	}
	out := b.Clone()
	apply := func(dst, src []float32) {
		for n := 0; n < len(src)/3; n++ {
			p := rot([3]float64{float64(src[3*n]), float64(src[3*n+1]), float64(src[3*n+2])})
			for d := 0; d < 3; d++ {
				dst[3*n+d] = float32(p[d])
			}
		}
	}
	apply(out.Pos, b.Pos)
	apply(out.Force, b.Force)
	return out
}

// assertEqualUpToAxisSigns checks got equals want with each axis possibly
// flipped as a whole: frames are only defined up to the sign of each axis.
// It must be fed one graph at a time, since signs may differ across graphs.
func assertEqualUpToAxisSigns(t *testing.T, want, got []float32, delta float64) {
	require.Equal(t, len(want), len(got))
	for d := 0; d < 3; d++ {
		sign := 1.0
		for k := d; k < len(want); k += 3 {
			w, g := float64(want[k]), float64(got[k])
			if math.Abs(w) > 1e-3 && math.Abs(g) > 1e-3 {
				if w*g < 0 {
					sign = -1
				}
				break
			}
		}
		for k := d; k < len(want); k += 3 {
			assert.InDelta(t, float64(want[k]), sign*float64(got[k]), delta, "axis %d element %d", d, k)
		}
	}
}

func TestApplyIsInvariantToInputRotation(t *testing.T) {
	b := frameBatch(t)
	canonical, err := Apply(b)
	require.NoError(t, err)
	fromRotated, err := Apply(rotated(b, math.Pi/7, math.Pi/5))
	require.NoError(t, err)
	for i := 0; i < b.NumGraphs(); i++ {
		lo, hi := b.NodeRange(i)
		assertEqualUpToAxisSigns(t, canonical.Pos[3*lo:3*hi], fromRotated.Pos[3*lo:3*hi], 1e-3)
	}
}

func TestMode2DLeavesZUntouched(t *testing.T) {
	b := frameBatch(t)
	out, err := Apply(b, WithMode(Mode2D))
	require.NoError(t, err)

	for n := 0; n < b.NumNodes(); n++ {
		assert.Equal(t, b.Pos[3*n+2], out.Pos[3*n+2], "atom %d", n)
	}
	// x and y are centered per graph.
	for i := 0; i < b.NumGraphs(); i++ {
		lo, hi := b.NodeRange(i)
		var mx, my float64
		for n := lo; n < hi; n++ {
			mx += float64(out.Pos[3*n])
			my += float64(out.Pos[3*n+1])
		}
		count := float64(hi - lo)
		assert.InDelta(t, 0, mx/count, 1e-4)
		assert.InDelta(t, 0, my/count, 1e-4)
	}
}

func TestWithForcesRotatesForceVectors(t *testing.T) {
	b := frameBatch(t)
	out, err := Apply(b)
	require.NoError(t, err)
	assert.Equal(t, b.Force, out.Force)

	out, err = Apply(b, WithForces())
	require.NoError(t, err)
	assert.NotEqual(t, b.Force, out.Force)
	for n := int32(0); n < int32(b.NumNodes()); n++ {
		var before, after float64
		for d := int32(0); d < 3; d++ {
			before += float64(b.Force[3*n+d]) * float64(b.Force[3*n+d])
			after += float64(out.Force[3*n+d]) * float64(out.Force[3*n+d])
		}
		assert.InDelta(t, math.Sqrt(before), math.Sqrt(after), 1e-4, "atom %d", n)
	}
}

func TestWithRandSamplesEquivalentFrames(t *testing.T) {
	b := frameBatch(t)
	canonical, err := Apply(b)
	require.NoError(t, err)
	sampled, err := Apply(b, WithRand(rand.New(rand.NewSource(3))))
	require.NoError(t, err)

	// Whatever signs were drawn, it is the same frame up to axis flips.
	for i := 0; i < b.NumGraphs(); i++ {
		lo, hi := b.NodeRange(i)
		assertEqualUpToAxisSigns(t, canonical.Pos[3*lo:3*hi], sampled.Pos[3*lo:3*hi], 1e-4)
	}
}

func TestApplyKeepsEverythingElse(t *testing.T) {
	b := frameBatch(t)
	before := b.Clone()
	out, err := Apply(b)
	require.NoError(t, err)

	assert.Equal(t, before, b)
	assert.Equal(t, b.Ptr, out.Ptr)
	assert.Equal(t, b.Tags, out.Tags)
	assert.Equal(t, b.AtomicNumbers, out.AtomicNumbers)
	assert.Equal(t, b.PosRelaxed, out.PosRelaxed)
	assert.Equal(t, b.EdgeSource, out.EdgeSource)
	assert.Equal(t, b.Distances, out.Distances)
	assert.Equal(t, b.Energy, out.Energy)
	assert.Equal(t, b.SID, out.SID)

	again, err := Apply(b)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}
