package training

import (
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/ocmodels/ocgraph/datasets"
)

// EvalMetrics aggregates the evaluation of a model over one source.
type EvalMetrics struct {
	// MAE and RMSE of the predicted relaxed energies, in the energy unit of
	// the corpus (eV for OC20-style data).
	MAE, RMSE float64

	// NumGraphs scored.
	NumGraphs int
}

// String implements fmt.Stringer.
func (m EvalMetrics) String() string {
	return fmt.Sprintf("MAE=%.5f, RMSE=%.5f over %s graphs",
		m.MAE, m.RMSE, humanize.Comma(int64(m.NumGraphs)))
}

// Evaluate resets src, drains it and scores the model's predictions against
// the relaxed energies. The model is not updated.
func Evaluate(model Model, src datasets.BatchSource) (EvalMetrics, error) {
	src.Reset()
	var absSum, sqSum float64
	numGraphs := 0
	for {
		b, err := src.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return EvalMetrics{}, errors.WithMessagef(err, "evaluating %q: reading batch", src.Name())
		}
		preds, err := model.Predict(b)
		if err != nil {
			return EvalMetrics{}, errors.WithMessagef(err, "evaluating %q: predicting", src.Name())
		}
		for i, pred := range preds {
			diff := pred - float64(b.EnergyRelaxed[i])
			absSum += math.Abs(diff)
			sqSum += diff * diff
		}
		numGraphs += b.NumGraphs()
	}
	if numGraphs == 0 {
		return EvalMetrics{}, errors.Errorf("evaluating %q: source yielded no graphs", src.Name())
	}
	n := float64(numGraphs)
	return EvalMetrics{MAE: absSum / n, RMSE: math.Sqrt(sqSum / n), NumGraphs: numGraphs}, nil
}

// evaluation carries the state of an AttachEvaluation hook.
type evaluation struct {
	valid    datasets.BatchSource
	onBest   func(step int, mae float64) error
	bestMAE  float64
	lastStep int
}

// run evaluates and reports; step is the number of completed train steps.
func (e *evaluation) run(loop *Loop, step int) error {
	if step == e.lastStep {
		// The end of the run landed on a step that already evaluated.
		return nil
	}
	e.lastStep = step
	m, err := Evaluate(loop.Model, e.valid)
	if err != nil {
		return err
	}
	klog.V(1).Infof("eval (step %d) on %q: %s", step, e.valid.Name(), m)
	loop.SharedData["eval/"+e.valid.Name()+"/mae"] = m.MAE
	loop.SharedData["eval/"+e.valid.Name()+"/rmse"] = m.RMSE
	if m.MAE < e.bestMAE {
		e.bestMAE = m.MAE
		loop.SharedData["eval/"+e.valid.Name()+"/best_mae"] = m.MAE
		if e.onBest != nil {
			if err := e.onBest(step, m.MAE); err != nil {
				return errors.WithMessagef(err, "reporting new best MAE %g at step %d", m.MAE, step)
			}
		}
	}
	return nil
}

// AttachEvaluation evaluates the loop's model on valid every `every` train
// steps and once more at the end of each run. Whenever the MAE improves on
// the best seen so far, onBest is invoked (nil to ignore) -- typically to
// save a best-model checkpoint:
//
//	training.AttachEvaluation(loop, valid, 500, checkpoint.SaveBest)
//
// Metrics land in Loop.SharedData under "eval/<source>/mae", .../rmse and
// .../best_mae for other attached tools.
func AttachEvaluation(loop *Loop, valid datasets.BatchSource, every int, onBest func(step int, mae float64) error) {
	if valid == nil {
		Panicf("training.AttachEvaluation requires a validation source, got nil")
	}
	if every <= 0 {
		Panicf("training.AttachEvaluation requires a positive eval period, got %d", every)
	}
	e := &evaluation{valid: valid, onBest: onBest, bestMAE: math.Inf(1), lastStep: -1}
	EveryNSteps(loop, every, "evaluation", 100, func(loop *Loop, _ float64) error {
		return e.run(loop, loop.LoopStep+1)
	})
	loop.OnEnd("evaluation", 100, func(loop *Loop, _ float64) error {
		return e.run(loop, loop.LoopStep)
	})
}
