// Package training fits energy models to batches of atomic systems.
//
// A Model consumes batches and predicts one relaxed energy per graph. Loop
// drives a Model over a datasets.BatchSource, firing named, prioritized hooks
// at the start of a run, after every train step and at the end -- progress
// bars, evaluation, plotting and checkpointing all attach through the hooks,
// which keeps them composable and optional:
//
//	model := training.NewLinear(basis, 1e-4)
//	loop := training.NewLoop(model)
//	training.AttachEvaluation(loop, valid, 500, checkpoint.SaveBest)
//	training.EveryNSteps(loop, 500, "checkpointing", 100, checkpoint.OnStepFn)
//	lastLoss, err := loop.RunSteps(train, 10_000)
//
// The models shipped here are deliberately small: a running-mean predictor
// and a linear readout over per-element counts plus an optional distance
// basis. They set the reference numbers a graph network has to beat, and they
// exercise the whole pipeline -- generation, batching, rewiring, evaluation,
// checkpointing -- end to end.
package training

import (
	"github.com/ocmodels/ocgraph/atomgraph"
)

// Model is a trainable relaxed-energy predictor. Implementations own their
// parameters and their update rule; the Loop owns scheduling, bookkeeping and
// everything attached to it.
type Model interface {
	// Name identifies the model in checkpoints, logs and reports.
	Name() string

	// TrainStep fits one batch and returns the batch loss: the mean squared
	// error over relaxed energies, measured before the parameter update.
	TrainStep(b *atomgraph.Batch) (loss float64, err error)

	// Predict returns one relaxed-energy prediction per graph of the batch,
	// in graph order, without touching any parameter.
	Predict(b *atomgraph.Batch) ([]float64, error)

	// State snapshots the parameters in a form SetState can restore.
	// Checkpoint handlers persist the snapshot verbatim.
	State() ([]byte, error)

	// SetState restores parameters from a State snapshot. Restoring a
	// snapshot into a model configured differently from the one that
	// produced it is an error.
	SetState(state []byte) error
}
