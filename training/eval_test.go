package training

import (
	"io"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/datasets"
)

func TestEvaluate(t *testing.T) {
	// A mean model trained to predict 2, scored against energies 1, 3 and 6:
	// absolute errors 1, 1 and 4.
	m := NewMean()
	_, err := m.TrainStep(batchWithEnergies(t, 2, 2))
	require.NoError(t, err)

	var systems []*atomgraph.System
	for i, e := range []float32{1, 3, 6} {
		systems = append(systems, systemWithAtoms(int64(i), []int32{1}, e))
	}
	src := datasets.NewInMemory("valid", systems, 2)

	// Exhaust the source first: Evaluate must rewind it itself.
	for {
		_, err := src.NextBatch()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	metrics, err := Evaluate(m, src)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, metrics.MAE, 1e-6)
	assert.InDelta(t, math.Sqrt(6.0), metrics.RMSE, 1e-6)
	assert.Equal(t, 3, metrics.NumGraphs)
	assert.Contains(t, metrics.String(), "MAE=2.00000")
	assert.Contains(t, metrics.String(), "3 graphs")
}

func TestEvaluateEmptySource(t *testing.T) {
	_, err := Evaluate(NewMean(), &fakeSource{name: "valid", perEpoch: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yielded no graphs")
}

// improvingModel predicts the targets plus 1/(1+steps), so every evaluation
// after more training improves on the previous one by a known margin.
type improvingModel struct {
	fakeModel
}

func (m *improvingModel) Predict(b *atomgraph.Batch) ([]float64, error) {
	preds := make([]float64, b.NumGraphs())
	for i := range preds {
		preds[i] = float64(b.EnergyRelaxed[i]) + 1/float64(1+m.steps)
	}
	return preds, nil
}

func TestAttachEvaluation(t *testing.T) {
	var systems []*atomgraph.System
	for i, e := range []float32{1, 2} {
		systems = append(systems, systemWithAtoms(int64(i), []int32{1}, e))
	}

	runFor := func(t *testing.T, steps int) (bestSteps []int, bestMAEs []float64, loop *Loop) {
		loop = NewLoop(&improvingModel{})
		valid := datasets.NewInMemory("valid", systems, 2)
		AttachEvaluation(loop, valid, 2, func(step int, mae float64) error {
			bestSteps = append(bestSteps, step)
			bestMAEs = append(bestMAEs, mae)
			return nil
		})
		_, err := loop.RunSteps(&fakeSource{name: "train", perEpoch: -1}, steps)
		require.NoError(t, err)
		return
	}

	// Five steps: evaluations after steps 2 and 4, plus the end-of-run one at
	// step 5. The model improves monotonically, so each is a new best.
	bestSteps, bestMAEs, loop := runFor(t, 5)
	assert.Equal(t, []int{2, 4, 5}, bestSteps)
	require.Len(t, bestMAEs, 3)
	assert.InDelta(t, 1.0/3, bestMAEs[0], 1e-9)
	assert.InDelta(t, 1.0/5, bestMAEs[1], 1e-9)
	assert.InDelta(t, 1.0/6, bestMAEs[2], 1e-9)
	assert.InDelta(t, 1.0/6, loop.SharedData["eval/valid/mae"].(float64), 1e-9)
	assert.InDelta(t, 1.0/6, loop.SharedData["eval/valid/rmse"].(float64), 1e-9)
	assert.InDelta(t, 1.0/6, loop.SharedData["eval/valid/best_mae"].(float64), 1e-9)

	// Four steps: the end of the run lands on step 4, which already
	// evaluated, and must not be scored twice.
	bestSteps, _, _ = runFor(t, 4)
	assert.Equal(t, []int{2, 4}, bestSteps)
}

func TestAttachEvaluationReportsOnBestErrors(t *testing.T) {
	var systems []*atomgraph.System
	for i, e := range []float32{1, 2} {
		systems = append(systems, systemWithAtoms(int64(i), []int32{1}, e))
	}
	loop := NewLoop(&improvingModel{})
	boom := errors.New("disk full")
	AttachEvaluation(loop, datasets.NewInMemory("valid", systems, 2), 1,
		func(int, float64) error { return boom })

	_, err := loop.RunSteps(&fakeSource{name: "train", perEpoch: -1}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reporting new best MAE")
	assert.True(t, errors.Is(err, boom))
}

func TestAttachEvaluationPanics(t *testing.T) {
	var systems []*atomgraph.System
	for i, e := range []float32{1, 2} {
		systems = append(systems, systemWithAtoms(int64(i), []int32{1}, e))
	}
	loop := NewLoop(&fakeModel{})
	require.Panics(t, func() { AttachEvaluation(loop, nil, 2, nil) })
	require.Panics(t, func() {
		AttachEvaluation(loop, datasets.NewInMemory("valid", systems, 2), 0, nil)
	})
}
