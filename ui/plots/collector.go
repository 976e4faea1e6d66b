package plots

import (
	"fmt"
	"math"

	. "github.com/gomlx/exceptions"

	"github.com/ocmodels/ocgraph/datasets"
	"github.com/ocmodels/ocgraph/training"
)

// CollectorName is the hook name the collector registers under.
const CollectorName = "ocgraph.ui.plots.collector"

// Collector streams plot points from a running training loop into a points
// file. At every collection step it records the batch loss and, for each
// evaluation source it was given, the MAE and RMSE of the loop's model on
// that source.
//
// Points are written asynchronously; the collector's end-of-loop hook closes
// the writer and surfaces any write error as the loop's result.
type Collector struct {
	points      chan<- Point
	errReport   <-chan error
	evalSources []datasets.BatchSource
}

// AttachCollector attaches a Collector to the loop, appending points to
// filePath (use TrainingPlotFileName under the checkpoint directory to keep
// run history across restarts). Points are collected numPoints times, spread
// evenly across the run.
//
// Each evaluation source given is fully evaluated at every collection step:
// keep numPoints modest when the sources are large.
//
// A collector serves one run: attach a fresh one right before Loop.RunSteps
// or Loop.RunEpochs.
func AttachCollector(loop *training.Loop, filePath string, numPoints int, evalSources ...datasets.BatchSource) *Collector {
	if filePath == "" {
		Panicf("plots.AttachCollector requires a file path for the collected points")
	}
	if numPoints <= 0 {
		Panicf("plots.AttachCollector requires numPoints > 0, got %d", numPoints)
	}
	c := &Collector{evalSources: evalSources}
	c.points, c.errReport = CreatePointsWriter(filePath)
	// Priority after evaluation hooks (100), so a shared step reflects this
	// step's evaluation, not the previous one.
	training.NTimesDuringLoop(loop, numPoints, CollectorName, 110, c.collect)
	loop.OnEnd(CollectorName, 120, c.finish)
	return c
}

func (c *Collector) collect(loop *training.Loop, loss float64) error {
	step := float64(loop.LoopStep)
	if !math.IsNaN(loss) && !math.IsInf(loss, 0) {
		c.points <- Point{
			MetricName: "Train: batch loss",
			Short:      "loss",
			MetricType: "loss",
			Step:       step,
			Value:      loss,
		}
	}
	for _, src := range c.evalSources {
		metrics, err := training.Evaluate(loop.Model, src)
		if err != nil {
			return err
		}
		short := src.Name()
		if len(short) > 3 {
			short = short[:3]
		}
		c.points <- Point{
			MetricName: fmt.Sprintf("MAE on %s", src.Name()),
			Short:      fmt.Sprintf("MAE(%s)", short),
			MetricType: "error",
			Step:       step,
			Value:      metrics.MAE,
		}
		c.points <- Point{
			MetricName: fmt.Sprintf("RMSE on %s", src.Name()),
			Short:      fmt.Sprintf("RMSE(%s)", short),
			MetricType: "error",
			Step:       step,
			Value:      metrics.RMSE,
		}
	}
	return nil
}

func (c *Collector) finish(*training.Loop, float64) error {
	close(c.points)
	return <-c.errReport
}
