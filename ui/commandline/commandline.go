// Package commandline contains terminal UI tools for ocgraph's long-running
// commands: a progress bar that attaches to a training loop, a spinner for
// indeterminate waits, and small report helpers.
package commandline

import (
	"fmt"
	"io"

	"github.com/ocmodels/ocgraph/datasets"
	"github.com/ocmodels/ocgraph/training"
)

// ReportEval evaluates the model on each source and writes a one-line report
// per source to w.
func ReportEval(w io.Writer, model training.Model, sources ...datasets.BatchSource) error {
	for _, src := range sources {
		metrics, err := training.Evaluate(model, src)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Results of %q on %q: %s\n", model.Name(), src.Name(), metrics); err != nil {
			return err
		}
	}
	return nil
}
