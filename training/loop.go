package training

import (
	"io"
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/datasets"
)

// Priority of a hook; lower values run first. It defaults to 0, negative
// values are fine.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, src datasets.BatchSource) error

// OnStepFn is the type of OnStep hooks. loss is the batch loss of the train
// step that just finished.
type OnStepFn func(loop *Loop, loss float64) error

// OnEndFn is the type of OnEnd hooks. loss is the batch loss of the last
// train step of the run.
type OnEndFn func(loop *Loop, loss float64) error

// Loop runs a training loop: it draws batches from a source, feeds them to
// Model.TrainStep and fires the registered hooks.
//
// By itself it doesn't do much. Progress bars, evaluation, checkpointing and
// plotting all attach through the hooks, which keeps arbitrary tools
// composable with the loop without it knowing about any of them.
//
// The public attributes are meant for reading; changing them mid-run leaves
// the behavior undefined.
type Loop struct {
	// Model being trained.
	Model Model

	// LoopStep currently being executed, 0-based and global: it is not reset
	// between runs. When resuming from a checkpoint, assign the restored
	// global step here before the first run.
	LoopStep int

	// StartStep is the value of LoopStep at the start of the current run.
	StartStep int

	// EndStep is one past the last step of the current run, or -1 while the
	// end is not known (RunEpochs before the first epoch finishes).
	EndStep int

	// Epoch currently running, set only by RunEpochs.
	Epoch int

	// SharedData lets attached tools publish and consume cross-tool
	// information. Keys and the semantics of their values are not specified
	// by the loop.
	SharedData map[string]any

	// TrainStepDurations collected during the current run.
	TrainStepDurations []time.Duration

	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a training loop for the model, starting at step 0.
func NewLoop(model Model) *Loop {
	if model == nil {
		Panicf("training.NewLoop requires a model, got nil")
	}
	return &Loop{
		Model:      model,
		SharedData: make(map[string]any),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// start of a run; fires the OnStart hooks.
func (loop *Loop) start(src datasets.BatchSource) error {
	for hook := range loop.onStart.All() {
		if err := hook.fn(loop, src); err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

// step runs one train step plus the OnStep hooks, recording the duration of
// both in TrainStepDurations.
func (loop *Loop) step(b *atomgraph.Batch) (loss float64, err error) {
	startTime := time.Now()
	defer func() {
		loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	}()

	loss, err = loop.Model.TrainStep(b)
	if err != nil {
		return 0, err
	}
	if err = loop.postStep(loss); err != nil {
		return 0, err
	}
	return loss, nil
}

// postStep fires the OnStep hooks and interrupts training on a NaN or
// infinite loss.
func (loop *Loop) postStep(loss float64) error {
	for hook := range loop.onStep.All() {
		if err := hook.fn(loop, loss); err != nil {
			return errors.WithMessagef(err, "OnStep(hook %q)", hook.name)
		}
	}
	if math.IsNaN(loss) {
		return errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(loss, 0) {
		return errors.Errorf("batch loss is infinity (%f), training interrupted", loss)
	}
	return nil
}

// end of a run; fires the OnEnd hooks.
func (loop *Loop) end(loss float64) error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, loss); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// RunSteps runs that many train steps. StartStep and EndStep are adjusted to
// the current LoopStep, so it can be called multiple times and picks up where
// it left off. It returns the batch loss of the last step.
func (loop *Loop) RunSteps(src datasets.BatchSource, steps int) (lastLoss float64, err error) {
	if steps <= 0 {
		return 0, nil
	}
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.StartStep + steps
	if err = loop.start(src); err != nil {
		return 0, err
	}
	loop.TrainStepDurations = make([]time.Duration, 0, steps)
	for loop.LoopStep = loop.StartStep; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		b, err := src.NextBatch()
		if err != nil {
			if err == io.EOF {
				return 0, errors.Errorf(
					"reached the end of source %q after %d steps (requested %d) -- did you mean to configure "+
						"the source with Epochs() or Infinite(), or to use Loop.RunEpochs()?",
					src.Name(), loop.LoopStep-loop.StartStep, steps)
			}
			return 0, errors.WithMessagef(err, "Loop.RunSteps(%d): failed reading from source %q", steps, src.Name())
		}
		lastLoss, err = loop.step(b)
		if err != nil {
			return 0, errors.WithMessagef(err, "Loop.RunSteps(%d): failed train step (LoopStep=%d)", steps, loop.LoopStep)
		}
	}
	if err = loop.end(lastLoss); err != nil {
		return 0, errors.WithMessagef(err, "Loop.RunSteps(%d): failed end (LoopStep=%d)", steps, loop.LoopStep)
	}
	return lastLoss, nil
}

// RunEpochs runs that many passes over the source, resetting it after each
// one (including the last). EndStep starts at -1 and is extrapolated once the
// first epoch reveals how many steps an epoch takes. It returns the batch
// loss of the last step.
func (loop *Loop) RunEpochs(src datasets.BatchSource, epochs int) (lastLoss float64, err error) {
	if epochs <= 0 {
		return 0, nil
	}
	loop.StartStep = loop.LoopStep
	loop.EndStep = -1
	loop.Epoch = 0
	if err = loop.start(src); err != nil {
		return 0, err
	}
	loop.TrainStepDurations = nil
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		stepsThisEpoch := 0
		for {
			b, err := src.NextBatch()
			if err == io.EOF {
				// End of epoch: extrapolate the last step from this epoch's length.
				loop.EndStep = loop.LoopStep + stepsThisEpoch*(epochs-loop.Epoch-1)
				break
			}
			if err != nil {
				return 0, errors.WithMessagef(err, "Loop.RunEpochs(epoch %d of %d): failed reading from source %q",
					loop.Epoch, epochs, src.Name())
			}
			stepsThisEpoch++
			lastLoss, err = loop.step(b)
			if err != nil {
				return 0, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed train step (LoopStep=%d)", epochs, loop.LoopStep)
			}
			loop.LoopStep++
		}
		src.Reset()
	}
	if err = loop.end(lastLoss); err != nil {
		return 0, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return lastLoss, nil
}

// MedianTrainStepDuration of the current run. It returns 1 millisecond if no
// step was recorded yet, to avoid divisions by zero in tools that derive
// rates from it.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with the given priority and name (for error reporting)
// to the start of a run.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with the given priority and name (for error reporting)
// to each step of a run. fn is called after each Model.TrainStep.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEnd adds a hook with the given priority and name (for error reporting) to
// the end of a run, after the last Model.TrainStep.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks of type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over the registered hooks in priority order.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
