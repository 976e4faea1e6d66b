package training

import (
	"fmt"
	"time"
)

// nTimes is used to implement NTimesDuringLoop.
type nTimes struct {
	n, nUsed int
	fn       OnStepFn
}

func (nT *nTimes) onStep(loop *Loop, loss float64) error {
	stepsDone := (loop.LoopStep - loop.StartStep) + 1 // Current LoopStep just finished.
	if loop.EndStep < 0 {
		// End not known, run steps in powers of 2, starting at 128.
		if stepsDone < (128 << nT.nUsed) {
			return nil
		}
	} else if loop.LoopStep < loop.EndStep-1 { // Last step (LoopStep == EndStep-1) is always included.
		totalSteps := loop.EndStep - loop.StartStep
		stepsPerCall := float64(totalSteps) / float64(nT.n)
		if stepsPerCall > 1 && float64(nT.nUsed) > float64(stepsDone)/stepsPerCall {
			return nil
		}
	}

	nT.nUsed++
	return nT.fn(loop, loss)
}

// NTimesDuringLoop registers an OnStep hook that is called at most n times,
// spread evenly across the steps of the run. It always fires on the very last
// step.
//
// Under Loop.RunEpochs the spread is only approximate until the first epoch
// reveals the total step count, and fn may fire more than n times.
func NTimesDuringLoop(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	nT := &nTimes{n: n, fn: fn}
	fullName := fmt.Sprintf("NTimesDuringLoop(%d): %s", n, name)
	loop.OnStep(fullName, priority, nT.onStep)
}

type everyNSteps struct {
	n, count int
	fn       OnStepFn
}

func (eN *everyNSteps) onStep(loop *Loop, loss float64) error {
	eN.count++
	if eN.count%eN.n != 0 {
		return nil
	}
	return eN.fn(loop, loss)
}

// EveryNSteps registers an OnStep hook that is called every n steps.
//
// Notice that it does not fire on the last step of a run (except by
// coincidence); pair it with an OnEnd hook when the end matters.
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	eN := &everyNSteps{n: n, fn: fn}
	fullName := fmt.Sprintf("EveryNSteps(%d): %s", n, name)
	loop.OnStep(fullName, priority, eN.onStep)
}

type periodicCallback struct {
	last               time.Time
	period             time.Duration
	started, callOnEnd bool
	fn                 OnStepFn
}

func (p *periodicCallback) onStep(loop *Loop, loss float64) error {
	if !p.started {
		// Start the clock.
		p.started = true
		p.last = time.Now()
		return nil
	}
	if time.Since(p.last) < p.period {
		return nil
	}

	err := p.fn(loop, loss)
	p.last = time.Now()
	return err
}

// PeriodicCallback registers an OnStep hook that fires once every period of
// wall time. The clock restarts after fn returns, so the time fn itself takes
// (and any pauses) is not counted against the next period.
//
// If callOnEnd is set it also fires at the end of the run.
func PeriodicCallback(loop *Loop, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	p := &periodicCallback{period: period, callOnEnd: callOnEnd, fn: fn}
	fullName := fmt.Sprintf("PeriodicCallback(%s): %s", period, name)
	loop.OnStep(fullName, priority, p.onStep)
	if callOnEnd {
		loop.OnEnd(fullName, priority, func(loop *Loop, loss float64) error { return p.fn(loop, loss) })
	}
}
