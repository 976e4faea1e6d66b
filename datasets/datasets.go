// Package datasets feeds corpora of atomic systems to training loops.
//
// The package is built around two layers. BatchSource is the batch-level
// contract: implementations produce *atomgraph.Batch values one at a time and
// compose by wrapping (Rewired applies a rewiring strategy to every batch of
// its source, FrameAveraged canonicalizes positions). On top of it, every
// source in this package also implements train.Dataset, materializing each
// batch as input and label tensors, so sources plug directly into gomlx
// training loops:
//
//	src := datasets.NewInMemory("train", systems, 32).Shuffle().Infinite()
//	ds := datasets.NewRewired(src, rewiring.New(rewiring.SuperNodePerGraphName))
//	loop.RunSteps(ds, numSteps)
//
// Sources are safe for concurrent Yield calls, but configuration (the fluent
// setters) must finish before the first batch is drawn.
package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/dtypes"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// BatchSource produces batches, one at a time. NextBatch returns io.EOF when
// the source is exhausted; Reset restarts it from the beginning.
type BatchSource interface {
	// Name identifies the source, for logs and metric names.
	Name() string

	// NextBatch returns the next batch, or io.EOF once exhausted. Other
	// errors indicate real failures and carry the source's name.
	NextBatch() (*atomgraph.Batch, error)

	// Reset restarts the source from the beginning, rewinding any epoch
	// accounting. Valid after io.EOF.
	Reset()
}

// Spec identifies the tensor layout a dataset yields; it is the `spec`
// returned by Yield. Datasets with equal specs produce interchangeable
// input and label slices, so a model graph compiled for one can consume
// batches from the other.
type Spec struct {
	// FloatDType of the floating-point tensors (positions, distances,
	// energies). Bookkeeping tensors are always int32.
	FloatDType dtypes.DType
}

// yieldBatch draws one batch from src and materializes it with the tensor
// layout of atomgraph.InputTensors and LabelTensors. The spec is returned
// even on error, so exhausted datasets still identify themselves.
func yieldBatch(src BatchSource, floatDType dtypes.DType) (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = Spec{FloatDType: floatDType}
	b, err := src.NextBatch()
	if err != nil {
		return
	}
	inputs = b.InputTensors(floatDType)
	labels = b.LabelTensors(floatDType)
	return
}
