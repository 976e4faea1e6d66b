package training

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/datasets"
)

// fakeModel counts TrainStep calls and returns scripted losses; once the
// script runs out it repeats the last entry (0.1 with no script at all).
type fakeModel struct {
	losses     []float64
	steps      int
	predictErr error
}

var _ Model = (*fakeModel)(nil)

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) TrainStep(*atomgraph.Batch) (float64, error) {
	m.steps++
	if len(m.losses) == 0 {
		return 0.1, nil
	}
	i := m.steps - 1
	if i >= len(m.losses) {
		i = len(m.losses) - 1
	}
	return m.losses[i], nil
}

func (m *fakeModel) Predict(b *atomgraph.Batch) ([]float64, error) {
	if m.predictErr != nil {
		return nil, m.predictErr
	}
	return make([]float64, b.NumGraphs()), nil
}

func (m *fakeModel) State() ([]byte, error) { return []byte("fake"), nil }

func (m *fakeModel) SetState([]byte) error { return nil }

// fakeSource yields minimal one-graph batches: perEpoch per epoch, endlessly
// when perEpoch is negative. Reset rewinds it and is counted.
type fakeSource struct {
	name     string
	perEpoch int
	served   int
	resets   int
}

var _ datasets.BatchSource = (*fakeSource)(nil)

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) NextBatch() (*atomgraph.Batch, error) {
	if s.perEpoch >= 0 && s.served >= s.perEpoch {
		return nil, io.EOF
	}
	s.served++
	return &atomgraph.Batch{
		Ptr:           []int32{0, 1},
		Pos:           []float32{0, 0, 0},
		PosRelaxed:    []float32{0, 0, 0},
		Force:         []float32{0, 0, 0},
		AtomicNumbers: []int32{1},
		Tags:          []int32{atomgraph.TagAdsorbate},
		Fixed:         []bool{false},
		Graph:         []int32{0},
		Natoms:        []int32{1},
		Neighbors:     []int32{0},
		Cell:          make([]float32, 9),
		Energy:        []float32{0},
		EnergyRelaxed: []float32{0},
		SID:           []int64{int64(s.served)},
	}, nil
}

func (s *fakeSource) Reset() { s.served = 0; s.resets++ }

func TestRunStepsCountsAndHooks(t *testing.T) {
	model := &fakeModel{losses: []float64{1, 2, 3}}
	loop := NewLoop(model)
	src := &fakeSource{name: "train", perEpoch: -1}

	var trace []string
	loop.OnStart("late", 10, func(*Loop, datasets.BatchSource) error {
		trace = append(trace, "start/late")
		return nil
	})
	loop.OnStart("early", -10, func(*Loop, datasets.BatchSource) error {
		trace = append(trace, "start/early")
		return nil
	})
	var stepLosses []float64
	var stepSteps []int
	loop.OnStep("record", 0, func(loop *Loop, loss float64) error {
		stepLosses = append(stepLosses, loss)
		stepSteps = append(stepSteps, loop.LoopStep)
		return nil
	})
	endLoss := math.NaN()
	loop.OnEnd("record", 0, func(_ *Loop, loss float64) error {
		endLoss = loss
		return nil
	})

	lastLoss, err := loop.RunSteps(src, 6)
	require.NoError(t, err)
	assert.Equal(t, 3.0, lastLoss) // Script exhausted, the last loss repeats.
	assert.Equal(t, []string{"start/early", "start/late"}, trace)
	assert.Equal(t, []float64{1, 2, 3, 3, 3, 3}, stepLosses)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, stepSteps)
	assert.Equal(t, 3.0, endLoss)
	assert.Equal(t, 0, loop.StartStep)
	assert.Equal(t, 6, loop.EndStep)
	assert.Equal(t, 6, loop.LoopStep)
	assert.Equal(t, 6, model.steps)
	assert.Len(t, loop.TrainStepDurations, 6)

	// A second run picks up where the first left off.
	_, err = loop.RunSteps(src, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, loop.StartStep)
	assert.Equal(t, 10, loop.EndStep)
	assert.Equal(t, 10, loop.LoopStep)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, stepSteps)
}

func TestRunStepsSourceExhausted(t *testing.T) {
	loop := NewLoop(&fakeModel{})
	_, err := loop.RunSteps(&fakeSource{name: "train", perEpoch: 3}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `reached the end of source "train" after 3 steps`)
}

func TestRunStepsInterruptsOnBadLoss(t *testing.T) {
	loop := NewLoop(&fakeModel{losses: []float64{1, math.NaN()}})
	_, err := loop.RunSteps(&fakeSource{name: "train", perEpoch: -1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch loss is NaN")

	loop = NewLoop(&fakeModel{losses: []float64{math.Inf(1)}})
	_, err = loop.RunSteps(&fakeSource{name: "train", perEpoch: -1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch loss is infinity")
}

func TestHookErrorsAreNamed(t *testing.T) {
	boom := errors.New("boom")
	loop := NewLoop(&fakeModel{})
	loop.OnStep("exploding", 0, func(*Loop, float64) error { return boom })
	_, err := loop.RunSteps(&fakeSource{name: "train", perEpoch: -1}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `OnStep(hook "exploding")`)
	assert.True(t, errors.Is(err, boom))
}

func TestRunEpochs(t *testing.T) {
	model := &fakeModel{losses: []float64{0.5}}
	loop := NewLoop(model)
	src := &fakeSource{name: "train", perEpoch: 3}

	var endSteps []int
	loop.OnStep("record", 0, func(loop *Loop, _ float64) error {
		endSteps = append(endSteps, loop.EndStep)
		return nil
	})

	lastLoss, err := loop.RunEpochs(src, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.5, lastLoss)
	assert.Equal(t, 6, loop.LoopStep)
	assert.Equal(t, 6, loop.EndStep)
	assert.Equal(t, 2, loop.Epoch)
	assert.Equal(t, 6, model.steps)
	// The source is rewound after every epoch, including the last.
	assert.Equal(t, 2, src.resets)
	// EndStep is unknown (-1) throughout the first epoch and extrapolated
	// from its length afterwards.
	assert.Equal(t, []int{-1, -1, -1, 6, 6, 6}, endSteps)
}

func TestMedianTrainStepDuration(t *testing.T) {
	loop := NewLoop(&fakeModel{})
	assert.Equal(t, time.Millisecond, loop.MedianTrainStepDuration())

	loop.TrainStepDurations = []time.Duration{5, 1, 9}
	assert.Equal(t, time.Duration(5), loop.MedianTrainStepDuration())
	// The recorded durations are not reordered.
	assert.Equal(t, []time.Duration{5, 1, 9}, loop.TrainStepDurations)
}

func TestNewLoopPanicsOnNilModel(t *testing.T) {
	require.Panics(t, func() { NewLoop(nil) })
}
