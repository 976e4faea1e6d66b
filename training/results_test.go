package training

import (
	"bytes"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/datasets"
)

func TestWritePredictions(t *testing.T) {
	m := NewMean()
	_, err := m.TrainStep(batchWithEnergies(t, 2, 4)) // Estimate: 3.
	require.NoError(t, err)

	var systems []*atomgraph.System
	for i, e := range []float32{1, 5} {
		systems = append(systems, systemWithAtoms(int64(200+i), []int32{1}, e))
	}
	src := datasets.NewInMemory("test", systems, 1)

	var buf bytes.Buffer
	n, err := WritePredictions(&buf, m, src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	df := dataframe.ReadCSV(&buf)
	require.NoError(t, df.Error())
	assert.Equal(t, []string{"sid", "energy", "energy_relaxed"}, df.Names())
	assert.Equal(t, 2, df.Nrow())
	assert.Equal(t, []string{"200", "201"}, df.Col("sid").Records())

	energies := df.Col("energy").Float()
	assert.InDelta(t, 3.0, energies[0], 1e-6)
	assert.InDelta(t, 3.0, energies[1], 1e-6)
	refs := df.Col("energy_relaxed").Float()
	assert.InDelta(t, 1.0, refs[0], 1e-6)
	assert.InDelta(t, 5.0, refs[1], 1e-6)
}

func TestWritePredictionsEmptySource(t *testing.T) {
	var buf bytes.Buffer
	_, err := WritePredictions(&buf, NewMean(), &fakeSource{name: "test", perEpoch: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yielded no graphs")
	assert.Zero(t, buf.Len())
}

func TestWritePredictionsPredictError(t *testing.T) {
	boom := assert.AnError
	var buf bytes.Buffer
	_, err := WritePredictions(&buf, &fakeModel{predictErr: boom}, &fakeSource{name: "test", perEpoch: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `predicting on "test"`)
}
