// Package featurize expands scalar edge attributes into smooth fixed-size
// feature vectors.
//
// GNN potentials rarely feed raw interatomic distances to their first
// message-passing layer: a scalar carries too little signal for a linear
// layer to shape. The usual remedy is a basis expansion of the distance over
// [0, cutoff]. This package implements it with B-spline bases: each output
// feature is one basis function of a regular B-spline over the normalized
// distance d/cutoff. B-spline bases have compact support, sum to one inside
// the domain and vanish smoothly at the cutoff, which makes them a drop-in
// analog of the Gaussian expansions commonly used for this.
//
// Typical use:
//
//	basis := featurize.New(32, 3, 6.0)
//	edgeFeatures := basis.EdgeTensor(batch) // shaped [batch.NumEdges(), 32]
package featurize

import (
	"github.com/gomlx/bsplines"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// DistanceBasis expands scalar distances into a fixed number of B-spline
// basis values. The k-th output feature of a distance d is the k-th basis
// function of a regular B-spline evaluated at d/cutoff; distances at or
// beyond the cutoff expand to all zeros.
//
// A DistanceBasis is immutable after New and safe for concurrent use.
type DistanceBasis struct {
	cutoff float32
	degree int
	curves []*bsplines.BSpline
}

// New creates a DistanceBasis with numBases output features, built from a
// regular B-spline of the given degree over [0, cutoff]. Each basis curve is
// the spline with a one-hot control-point vector, so the expansion of a
// distance is exactly the vector of basis-function values.
//
// It panics if numBases < degree+1 (a B-spline needs that many control
// points), if degree is negative or if cutoff is not positive.
func New(numBases, degree int, cutoff float32) *DistanceBasis {
	if degree < 0 {
		Panicf("featurize.New: degree must be >= 0, got %d", degree)
	}
	if numBases < degree+1 {
		Panicf("featurize.New: a degree-%d B-spline needs at least %d control points, got numBases=%d",
			degree, degree+1, numBases)
	}
	if cutoff <= 0 {
		Panicf("featurize.New: cutoff must be > 0, got %g", cutoff)
	}
	curves := make([]*bsplines.BSpline, numBases)
	for k := range curves {
		oneHot := make([]float64, numBases)
		oneHot[k] = 1
		curves[k] = bsplines.NewRegular(degree, numBases).
			WithControlPoints(oneHot).
			WithExtrapolation(bsplines.ExtrapolateZero)
	}
	return &DistanceBasis{cutoff: cutoff, degree: degree, curves: curves}
}

// NumBases returns the number of output features per distance.
func (db *DistanceBasis) NumBases() int { return len(db.curves) }

// Degree returns the polynomial degree of the underlying B-spline.
func (db *DistanceBasis) Degree() int { return db.degree }

// Cutoff returns the distance mapped to the end of the basis domain.
func (db *DistanceBasis) Cutoff() float32 { return db.cutoff }

// Expand evaluates every basis function at every distance. The result is
// row-major: entry [i*NumBases()+k] is basis k evaluated at distances[i].
func (db *DistanceBasis) Expand(distances []float32) []float32 {
	numBases := len(db.curves)
	out := make([]float32, len(distances)*numBases)
	for i, d := range distances {
		x := float64(d) / float64(db.cutoff)
		row := out[i*numBases : (i+1)*numBases]
		for k, curve := range db.curves {
			row[k] = float32(curve.Evaluate(x))
		}
	}
	return out
}

// EdgeTensor expands the batch's edge distances into a tensor shaped
// [batch.NumEdges(), NumBases()], dtype Float32. The tensor shares no
// storage with the batch.
func (db *DistanceBasis) EdgeTensor(b *atomgraph.Batch) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(db.Expand(b.Distances), b.NumEdges(), db.NumBases())
}
