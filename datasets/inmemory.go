package datasets

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// InMemory serves a corpus of systems held in memory, packing them into
// batches of a fixed size (the last batch of an epoch may be smaller).
//
// Before the first batch is drawn it can be configured to shuffle, to run a
// number of epochs or to loop indefinitely; after that the configuration is
// frozen and the setters panic. Drawing batches is safe for concurrent use.
type InMemory struct {
	name      string
	systems   []*atomgraph.System
	batchSize int

	device     backends.DeviceNum
	floatDType dtypes.DType
	numEpochs  int
	shuffle    bool
	rng        *rand.Rand

	mu           sync.Mutex
	frozen       bool
	currentEpoch int
	exhausted    bool
	position     int
	order        []int32
}

var (
	_ BatchSource   = &InMemory{}
	_ train.Dataset = &InMemory{}
)

// NewInMemory creates a source over the given systems. By default it yields
// one epoch, in corpus order, with Float32 tensors, for device 0.
//
// It panics on an empty corpus or a non-positive batch size.
func NewInMemory(name string, systems []*atomgraph.System, batchSize int) *InMemory {
	if len(systems) == 0 {
		Panicf("datasets.NewInMemory(%q): corpus is empty", name)
	}
	if batchSize <= 0 {
		Panicf("datasets.NewInMemory(%q): batch size must be > 0, got %d", name, batchSize)
	}
	return &InMemory{
		name:       name,
		systems:    systems,
		batchSize:  batchSize,
		floatDType: dtypes.Float32,
		numEpochs:  1,
	}
}

// Shuffle configures the source to draw systems in a random order, reshuffled
// at every epoch. It returns the source to allow cascading configuration.
func (ds *InMemory) Shuffle() *InMemory {
	ds.checkNotFrozen()
	ds.shuffle = true
	return ds
}

// Epochs configures how many passes over the corpus the source yields before
// io.EOF. Default is 1.
func (ds *InMemory) Epochs(n int) *InMemory {
	ds.checkNotFrozen()
	if n <= 0 {
		Panicf("InMemory.Epochs(n) requires n > 0, got %d", n)
	}
	ds.numEpochs = n
	return ds
}

// Infinite configures the source to loop over the corpus indefinitely.
func (ds *InMemory) Infinite() *InMemory {
	ds.checkNotFrozen()
	ds.numEpochs = -1
	return ds
}

// WithRand sets the random number generator used for shuffling, for
// repeatable draws. The default is the shared, time-seeded generator.
func (ds *InMemory) WithRand(rng *rand.Rand) *InMemory {
	ds.checkNotFrozen()
	ds.rng = rng
	return ds
}

// WithDType sets the floating-point dtype of the yielded tensors, one of
// atomgraph.FloatDTypes. Default is Float32. It only affects Yield, never
// NextBatch.
func (ds *InMemory) WithDType(floatDType dtypes.DType) *InMemory {
	ds.checkNotFrozen()
	if !slices.Contains(atomgraph.FloatDTypes, floatDType) {
		Panicf("InMemory.WithDType: %s is not a supported float dtype, use one of %v",
			floatDType, atomgraph.FloatDTypes)
	}
	ds.floatDType = floatDType
	return ds
}

// OnDevice sets the device the yielded batches are destined to. Default is
// device 0.
func (ds *InMemory) OnDevice(device backends.DeviceNum) *InMemory {
	ds.checkNotFrozen()
	ds.device = device
	return ds
}

func (ds *InMemory) checkNotFrozen() {
	if ds.frozen {
		Panicf("cannot configure InMemory dataset %q after it started yielding batches", ds.name)
	}
}

// Name implements BatchSource and train.Dataset.
func (ds *InMemory) Name() string { return ds.name }

// NumSystems in the corpus.
func (ds *InMemory) NumSystems() int { return len(ds.systems) }

// BatchesPerEpoch is how many batches one pass over the corpus yields,
// counting the final smaller batch.
func (ds *InMemory) BatchesPerEpoch() int {
	return (len(ds.systems) + ds.batchSize - 1) / ds.batchSize
}

// String returns a one-line description of the source.
func (ds *InMemory) String() string {
	return fmt.Sprintf("dataset %q: %s systems, batch size %d, %s batches per epoch",
		ds.name, humanize.Comma(int64(len(ds.systems))), ds.batchSize,
		humanize.Comma(int64(ds.BatchesPerEpoch())))
}

// Reset implements BatchSource and train.Dataset: it rewinds the source to
// the start of its first epoch. Valid after io.EOF.
func (ds *InMemory) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.frozen = true
	ds.exhausted = false
	ds.currentEpoch = 0
	ds.position = 0
	if ds.shuffle {
		ds.reshuffleLocked()
	}
}

// NextBatch implements BatchSource.
func (ds *InMemory) NextBatch() (*atomgraph.Batch, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.frozen = true
	if ds.exhausted {
		return nil, io.EOF
	}
	if ds.shuffle && ds.order == nil {
		ds.reshuffleLocked()
	}

	n := min(ds.batchSize, len(ds.systems)-ds.position)
	batchSystems := make([]*atomgraph.System, n)
	for i := range batchSystems {
		idx := ds.position + i
		if ds.shuffle {
			idx = int(ds.order[idx])
		}
		batchSystems[i] = ds.systems[idx]
	}
	ds.position += n
	if ds.position >= len(ds.systems) {
		ds.epochFinishedLocked()
	}

	b, err := atomgraph.NewBatch(batchSystems, ds.device)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q packing a batch", ds.name)
	}
	return b, nil
}

func (ds *InMemory) epochFinishedLocked() {
	ds.position = 0
	ds.currentEpoch++
	if ds.numEpochs > 0 && ds.currentEpoch >= ds.numEpochs {
		ds.exhausted = true
		return
	}
	if ds.shuffle {
		ds.reshuffleLocked()
	}
}

func (ds *InMemory) reshuffleLocked() {
	if ds.order == nil {
		ds.order = xslices.Iota[int32](0, len(ds.systems))
	}
	for i := range ds.order {
		j := ds.intN(i + 1)
		ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
	}
}

func (ds *InMemory) intN(n int) int {
	if ds.rng != nil {
		return ds.rng.IntN(n)
	}
	return rand.IntN(n)
}

// Yield implements train.Dataset: it draws the next batch and materializes it
// as tensors. The spec is a Spec value.
func (ds *InMemory) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	return yieldBatch(ds, ds.floatDType)
}
