package datasets

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/frameavg"
	"github.com/ocmodels/ocgraph/rewiring"
)

// Rewired applies a rewiring strategy to every batch of its source. It
// implements BatchSource and train.Dataset, so it can wrap a source feeding a
// training loop as well as sit in the middle of a longer wrapper chain.
type Rewired struct {
	source     BatchSource
	strategy   rewiring.Strategy
	floatDType dtypes.DType
}

var (
	_ BatchSource   = &Rewired{}
	_ train.Dataset = &Rewired{}
)

// NewRewired wraps source, applying strategy to each of its batches. It
// panics on nil arguments.
func NewRewired(source BatchSource, strategy rewiring.Strategy) *Rewired {
	if source == nil || strategy == nil {
		Panicf("datasets.NewRewired requires a source and a strategy")
	}
	return &Rewired{source: source, strategy: strategy, floatDType: dtypes.Float32}
}

// WithDType sets the floating-point dtype of the yielded tensors. Default is
// Float32. Configure before the first Yield.
func (ds *Rewired) WithDType(floatDType dtypes.DType) *Rewired {
	ds.floatDType = floatDType
	return ds
}

// Name implements BatchSource and train.Dataset. It composes the source's
// name with the strategy's.
func (ds *Rewired) Name() string {
	return ds.source.Name() + "/" + ds.strategy.Name()
}

// Reset implements BatchSource and train.Dataset, restarting the source.
func (ds *Rewired) Reset() { ds.source.Reset() }

// NextBatch implements BatchSource: the next source batch, rewired.
func (ds *Rewired) NextBatch() (*atomgraph.Batch, error) {
	b, err := ds.source.NextBatch()
	if err != nil {
		return nil, err
	}
	out, err := ds.strategy.Apply(b)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", ds.Name())
	}
	return out, nil
}

// Yield implements train.Dataset.
func (ds *Rewired) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	return yieldBatch(ds, ds.floatDType)
}

// FrameAveraged re-expresses the positions of every batch of its source in
// each graph's canonical frame (see frameavg.Apply). Wrap it around the
// outermost source so the frames are derived from the geometry the model
// actually sees:
//
//	ds := datasets.NewFrameAveraged(datasets.NewRewired(src, strategy))
type FrameAveraged struct {
	source     BatchSource
	opts       []frameavg.Option
	floatDType dtypes.DType
}

var (
	_ BatchSource   = &FrameAveraged{}
	_ train.Dataset = &FrameAveraged{}
)

// NewFrameAveraged wraps source, frame-averaging each of its batches. The
// options are handed through to frameavg.Apply on every batch, so a
// frameavg.WithRand option keeps sampling new sign flips batch after batch.
// It panics on a nil source.
func NewFrameAveraged(source BatchSource, opts ...frameavg.Option) *FrameAveraged {
	if source == nil {
		Panicf("datasets.NewFrameAveraged requires a source")
	}
	return &FrameAveraged{source: source, opts: opts, floatDType: dtypes.Float32}
}

// WithDType sets the floating-point dtype of the yielded tensors. Default is
// Float32. Configure before the first Yield.
func (ds *FrameAveraged) WithDType(floatDType dtypes.DType) *FrameAveraged {
	ds.floatDType = floatDType
	return ds
}

// Name implements BatchSource and train.Dataset.
func (ds *FrameAveraged) Name() string { return ds.source.Name() + "/frame-averaged" }

// Reset implements BatchSource and train.Dataset, restarting the source.
func (ds *FrameAveraged) Reset() { ds.source.Reset() }

// NextBatch implements BatchSource: the next source batch, frame-averaged.
func (ds *FrameAveraged) NextBatch() (*atomgraph.Batch, error) {
	b, err := ds.source.NextBatch()
	if err != nil {
		return nil, err
	}
	out, err := frameavg.Apply(b, ds.opts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", ds.Name())
	}
	return out, nil
}

// Yield implements train.Dataset.
func (ds *FrameAveraged) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	return yieldBatch(ds, ds.floatDType)
}
