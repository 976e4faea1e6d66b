// Package frameavg re-expresses each graph's atom positions in a canonical
// frame derived from the positions themselves: the principal axes of the
// centered position cloud, dominant direction first. Models consuming the
// re-framed positions see inputs invariant to how the structure happened to
// be oriented, without needing equivariant layers.
//
// The frame of a graph is computed from the eigendecomposition of the 3x3
// covariance of its centered positions. Eigenvector signs are canonicalized
// (largest-magnitude component positive) so the result is deterministic; the
// WithRand option flips signs at random instead, sampling one of the eight
// equivalent frames as data augmentation.
//
// Only positions are transformed, and optionally forces (rotated, not
// centered). Relaxed positions, edges, distances and bookkeeping are carried
// over untouched: rotations preserve pairwise distances, so stored edge
// lengths remain valid.
package frameavg

import (
	"math"
	"math/rand"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Mode selects which coordinates participate in the frame.
type Mode int

const (
	// Mode3D derives the frame from all three coordinates.
	Mode3D Mode = iota
	// Mode2D derives it from x and y only, leaving z untouched. Useful for
	// slabs, where z is already canonical (the surface normal).
	Mode2D
)

// Option configures Apply.
type Option func(*options)

type options struct {
	mode         Mode
	rng          *rand.Rand
	rotateForces bool
}

func newOptions(opts ...Option) *options {
	o := &options{mode: Mode3D}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMode selects the frame mode; the default is Mode3D.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithRand flips each frame axis with probability one half, drawn from rng,
// instead of canonicalizing signs. Positions stay valid under any sign
// choice; this samples among the equivalent frames for augmentation.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithForces also rotates the per-atom forces into the frame. Forces are
// direction vectors: they rotate but are not centered.
func WithForces() Option {
	return func(o *options) { o.rotateForces = true }
}

// Apply returns a copy of the batch with every graph's positions re-expressed
// in its own canonical frame. The input is never modified.
func Apply(b *atomgraph.Batch, opts ...Option) (*atomgraph.Batch, error) {
	o := newOptions(opts...)
	if err := b.Validate(); err != nil {
		return nil, errors.WithMessage(err, "frame averaging: input batch")
	}
	dims := 3
	if o.mode == Mode2D {
		dims = 2
	}

	out := b.Clone()
	for i := 0; i < b.NumGraphs(); i++ {
		lo, hi := b.NodeRange(i)
		frame, centroid, err := graphFrame(b.Pos, lo, hi, dims)
		if err != nil {
			return nil, errors.WithMessagef(err, "frame averaging graph %d (sid %d)", i, b.SID[i])
		}
		if o.rng != nil {
			for c := 0; c < dims; c++ {
				if o.rng.Intn(2) == 1 {
					flipColumn(frame, c, dims)
				}
			}
		}
		projectRows(out.Pos, b.Pos, lo, hi, centroid, frame, dims)
		if o.rotateForces {
			projectRows(out.Force, b.Force, lo, hi, [3]float64{}, frame, dims)
		}
	}
	return out, nil
}

// graphFrame computes the principal axes of the node rows [lo,hi): the
// eigenvectors of the centered covariance, columns ordered by descending
// eigenvalue, signs canonicalized.
func graphFrame(pos []float32, lo, hi int32, dims int) (frame *mat.Dense, centroid [3]float64, err error) {
	count := float64(hi - lo)
	for n := lo; n < hi; n++ {
		for d := 0; d < dims; d++ {
			centroid[d] += float64(pos[3*n+int32(d)])
		}
	}
	for d := 0; d < dims; d++ {
		centroid[d] /= count
	}

	cov := mat.NewSymDense(dims, nil)
	for n := lo; n < hi; n++ {
		var x [3]float64
		for d := 0; d < dims; d++ {
			x[d] = float64(pos[3*n+int32(d)]) - centroid[d]
		}
		for r := 0; r < dims; r++ {
			for c := r; c < dims; c++ {
				cov.SetSym(r, c, cov.At(r, c)+x[r]*x[c])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, centroid, errors.Errorf("eigendecomposition of the position covariance failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come out ascending; the frame wants the dominant axis
	// first.
	frame = mat.NewDense(dims, dims, nil)
	for c := 0; c < dims; c++ {
		src := dims - 1 - c
		for r := 0; r < dims; r++ {
			frame.Set(r, c, vecs.At(r, src))
		}
	}
	for c := 0; c < dims; c++ {
		canonicalizeColumn(frame, c, dims)
	}
	return frame, centroid, nil
}

// canonicalizeColumn flips column c so its largest-magnitude component is
// positive, making the eigenvector's sign deterministic.
func canonicalizeColumn(frame *mat.Dense, c, dims int) {
	argMax, maxAbs := 0, 0.0
	for r := 0; r < dims; r++ {
		if abs := math.Abs(frame.At(r, c)); abs > maxAbs {
			argMax, maxAbs = r, abs
		}
	}
	if frame.At(argMax, c) < 0 {
		flipColumn(frame, c, dims)
	}
}

func flipColumn(frame *mat.Dense, c, dims int) {
	for r := 0; r < dims; r++ {
		frame.Set(r, c, -frame.At(r, c))
	}
}

// projectRows writes dst rows [lo,hi) as (src - centroid) rotated into the
// frame. With dims == 2 the third coordinate is left as dst already has it.
func projectRows(dst, src []float32, lo, hi int32, centroid [3]float64, frame *mat.Dense, dims int) {
	for n := lo; n < hi; n++ {
		var x [3]float64
		for d := 0; d < dims; d++ {
			x[d] = float64(src[3*n+int32(d)]) - centroid[d]
		}
		for d := 0; d < dims; d++ {
			var v float64
			for r := 0; r < dims; r++ {
				v += x[r] * frame.At(r, d)
			}
			dst[3*n+int32(d)] = float32(v)
		}
	}
}
