package training

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// MeanModel predicts the running mean of every relaxed energy it has been
// trained on, whatever the batch contents. It is the floor any real model has
// to beat.
type MeanModel struct {
	sum   float64
	count int64
}

var _ Model = (*MeanModel)(nil)

// NewMean returns a MeanModel with no observations; until the first TrainStep
// it predicts zero.
func NewMean() *MeanModel { return &MeanModel{} }

// Name implements Model.
func (m *MeanModel) Name() string { return "mean" }

func (m *MeanModel) mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// TrainStep measures the loss of the current estimate on the batch, then
// folds the batch's energies into the running mean.
func (m *MeanModel) TrainStep(b *atomgraph.Batch) (float64, error) {
	pred := m.mean()
	var loss float64
	for _, want := range b.EnergyRelaxed {
		diff := pred - float64(want)
		loss += diff * diff
		m.sum += float64(want)
	}
	m.count += int64(b.NumGraphs())
	return loss / float64(b.NumGraphs()), nil
}

// Predict implements Model.
func (m *MeanModel) Predict(b *atomgraph.Batch) ([]float64, error) {
	preds := make([]float64, b.NumGraphs())
	mean := m.mean()
	for i := range preds {
		preds[i] = mean
	}
	return preds, nil
}

// meanState is the State serialization of a MeanModel.
type meanState struct {
	Sum   float64
	Count int64
}

// State implements Model.
func (m *MeanModel) State() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meanState{Sum: m.sum, Count: m.count}); err != nil {
		return nil, errors.Wrapf(err, "encoding %q model state", m.Name())
	}
	return buf.Bytes(), nil
}

// SetState implements Model.
func (m *MeanModel) SetState(state []byte) error {
	var s meanState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&s); err != nil {
		return errors.Wrapf(err, "decoding %q model state", m.Name())
	}
	m.sum, m.count = s.Sum, s.Count
	return nil
}
