package training

import (
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/datasets"
)

// WritePredictions resets src, runs the model over every batch and writes the
// predictions to w as CSV, one row per graph:
//
//	sid,energy,energy_relaxed
//
// where energy is the predicted relaxed energy and energy_relaxed the
// reference target carried by the corpus. Rows come out in source order. It
// returns the number of rows written.
func WritePredictions(w io.Writer, model Model, src datasets.BatchSource) (int, error) {
	src.Reset()
	var sids []int
	var preds, refs []float64
	for {
		b, err := src.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithMessagef(err, "predicting on %q: reading batch", src.Name())
		}
		batchPreds, err := model.Predict(b)
		if err != nil {
			return 0, errors.WithMessagef(err, "predicting on %q", src.Name())
		}
		for i, pred := range batchPreds {
			sids = append(sids, int(b.SID[i]))
			preds = append(preds, pred)
			refs = append(refs, float64(b.EnergyRelaxed[i]))
		}
	}
	if len(sids) == 0 {
		return 0, errors.Errorf("predicting on %q: source yielded no graphs", src.Name())
	}
	df := dataframe.New(
		series.New(sids, series.Int, "sid"),
		series.New(preds, series.Float, "energy"),
		series.New(refs, series.Float, "energy_relaxed"),
	)
	if df.Error() != nil {
		return 0, errors.Wrapf(df.Error(), "assembling the predictions dataframe")
	}
	if err := df.WriteCSV(w); err != nil {
		return 0, errors.Wrapf(err, "writing the predictions CSV")
	}
	return len(sids), nil
}
