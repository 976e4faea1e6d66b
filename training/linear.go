package training

import (
	"bytes"
	"encoding/gob"

	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/featurize"
)

// maxAtomicNumber bounds the per-element parameter table. Rewiring sentinels
// (polonium, 84) fall inside the range like any real element.
const maxAtomicNumber = 118

// LinearModel fits the relaxed energy as a sum of per-element terms plus,
// when a distance basis is given, a linear readout over the per-graph sums of
// the basis expansion of the edge distances. Parameters are fitted with plain
// gradient descent on the batch mean squared error.
//
// This is linear least squares dressed as a Model: convex, deterministic and
// cheap. The element-only variant reproduces the per-element reference-energy
// fit commonly used to normalize catalyst energies; the basis readout adds a
// pair-distance term on top.
type LinearModel struct {
	basis *featurize.DistanceBasis
	lr    float64

	bias     float64
	elements []float64 // indexed by atomic number; entry 0 unused
	weights  []float64 // one per basis function, nil without a basis
}

var _ Model = (*LinearModel)(nil)

// NewLinear returns a LinearModel with all parameters at zero. basis may be
// nil, which drops the distance readout and leaves the per-element fit. It
// panics on a non-positive learning rate.
func NewLinear(basis *featurize.DistanceBasis, learningRate float64) *LinearModel {
	if learningRate <= 0 {
		Panicf("training.NewLinear requires a positive learning rate, got %g", learningRate)
	}
	m := &LinearModel{
		basis:    basis,
		lr:       learningRate,
		elements: make([]float64, maxAtomicNumber+1),
	}
	if basis != nil {
		m.weights = make([]float64, basis.NumBases())
	}
	return m
}

// Name implements Model.
func (m *LinearModel) Name() string { return "linear" }

// graphFeatures are the sufficient statistics of one graph under the model:
// how often each element occurs, and the column sums of the basis expansion
// over the graph's edges.
type graphFeatures struct {
	counts   map[int32]float64
	basisSum []float64
}

func (m *LinearModel) features(b *atomgraph.Batch) ([]graphFeatures, error) {
	feats := make([]graphFeatures, b.NumGraphs())
	for i := range feats {
		feats[i].counts = make(map[int32]float64)
		if m.basis != nil {
			feats[i].basisSum = make([]float64, m.basis.NumBases())
		}
	}
	for n, z := range b.AtomicNumbers {
		if z < 1 || z > maxAtomicNumber {
			return nil, errors.Errorf("atomic number %d of node %d is outside the supported range [1, %d]",
				z, n, maxAtomicNumber)
		}
		feats[b.Graph[n]].counts[z]++
	}
	if m.basis != nil {
		expanded := m.basis.Expand(b.Distances)
		numBases := m.basis.NumBases()
		edgePtr := b.EdgePtr()
		for i := range feats {
			for e := int(edgePtr[i]); e < int(edgePtr[i+1]); e++ {
				row := expanded[e*numBases : (e+1)*numBases]
				for k, v := range row {
					feats[i].basisSum[k] += float64(v)
				}
			}
		}
	}
	return feats, nil
}

func (m *LinearModel) predictOne(f graphFeatures) float64 {
	pred := m.bias
	for z, c := range f.counts {
		pred += m.elements[z] * c
	}
	for k, s := range f.basisSum {
		pred += m.weights[k] * s
	}
	return pred
}

// TrainStep implements Model: one gradient-descent update on the batch's mean
// squared error, which is computed with the parameters before the update.
func (m *LinearModel) TrainStep(b *atomgraph.Batch) (float64, error) {
	feats, err := m.features(b)
	if err != nil {
		return 0, err
	}
	numGraphs := float64(b.NumGraphs())
	var loss float64
	grads := make([]float64, len(feats))
	for i, f := range feats {
		diff := m.predictOne(f) - float64(b.EnergyRelaxed[i])
		loss += diff * diff
		grads[i] = 2 * diff / numGraphs
	}
	loss /= numGraphs
	for i, f := range feats {
		g := grads[i]
		m.bias -= m.lr * g
		for z, c := range f.counts {
			m.elements[z] -= m.lr * g * c
		}
		for k, s := range f.basisSum {
			m.weights[k] -= m.lr * g * s
		}
	}
	return loss, nil
}

// Predict implements Model.
func (m *LinearModel) Predict(b *atomgraph.Batch) ([]float64, error) {
	feats, err := m.features(b)
	if err != nil {
		return nil, err
	}
	preds := make([]float64, len(feats))
	for i, f := range feats {
		preds[i] = m.predictOne(f)
	}
	return preds, nil
}

// linearState is the State serialization of a LinearModel.
type linearState struct {
	Bias     float64
	Elements []float64
	Weights  []float64
}

// State implements Model.
func (m *LinearModel) State() ([]byte, error) {
	var buf bytes.Buffer
	s := linearState{Bias: m.bias, Elements: m.elements, Weights: m.weights}
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrapf(err, "encoding %q model state", m.Name())
	}
	return buf.Bytes(), nil
}

// SetState implements Model. The snapshot must come from a model with the
// same basis configuration.
func (m *LinearModel) SetState(state []byte) error {
	var s linearState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&s); err != nil {
		return errors.Wrapf(err, "decoding %q model state", m.Name())
	}
	if len(s.Elements) != len(m.elements) || len(s.Weights) != len(m.weights) {
		return errors.Errorf("restoring %q model: snapshot has %d element and %d basis parameters, this model wants %d and %d",
			m.Name(), len(s.Elements), len(s.Weights), len(m.elements), len(m.weights))
	}
	m.bias = s.Bias
	copy(m.elements, s.Elements)
	copy(m.weights, s.Weights)
	return nil
}
