package atomgraph

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/x448/float16"
)

// FloatDTypes are the dtypes the tensor adapters accept for floating-point
// arrays. Integer arrays always stay int32 and ids int64, whatever the
// choice.
var FloatDTypes = []dtypes.DType{dtypes.Float16, dtypes.Float32, dtypes.Float64}

// InputTensors materializes the model inputs of the batch as tensors, in this
// order:
//
//	positions       [NumNodes, 3]  floatDType
//	atomic numbers  [NumNodes]     int32
//	tags            [NumNodes]     int32
//	graph           [NumNodes]     int32
//	edge sources    [NumEdges]     int32
//	edge targets    [NumEdges]     int32
//	cell offsets    [NumEdges, 3]  int32
//	distances       [NumEdges]     floatDType
//	atom counts     [NumGraphs]    int32
//
// floatDType selects the precision floating arrays are materialized at and
// must be one of FloatDTypes, or InputTensors panics. The returned tensors
// never alias the batch's arrays.
func (b *Batch) InputTensors(floatDType dtypes.DType) []*tensors.Tensor {
	numNodes, numEdges, numGraphs := b.NumNodes(), b.NumEdges(), b.NumGraphs()
	return []*tensors.Tensor{
		floatTensor(floatDType, b.Pos, numNodes, 3),
		tensors.FromFlatDataAndDimensions(xslices.Copy(b.AtomicNumbers), numNodes),
		tensors.FromFlatDataAndDimensions(xslices.Copy(b.Tags), numNodes),
		tensors.FromFlatDataAndDimensions(xslices.Copy(b.Graph), numNodes),
		tensors.FromFlatDataAndDimensions(xslices.Copy(b.EdgeSource), numEdges),
		tensors.FromFlatDataAndDimensions(xslices.Copy(b.EdgeTarget), numEdges),
		tensors.FromFlatDataAndDimensions(xslices.Copy(b.CellOffsets), numEdges, 3),
		floatTensor(floatDType, b.Distances, numEdges),
		tensors.FromFlatDataAndDimensions(xslices.Copy(b.Natoms), numGraphs),
	}
}

// LabelTensors materializes the training targets of the batch: the relaxed
// energies, shaped [NumGraphs]. floatDType follows the same rules as in
// InputTensors.
func (b *Batch) LabelTensors(floatDType dtypes.DType) []*tensors.Tensor {
	return []*tensors.Tensor{
		floatTensor(floatDType, b.EnergyRelaxed, b.NumGraphs()),
	}
}

// SIDTensor materializes the per-graph structure ids, shaped [NumGraphs],
// int64. Handy to keep predictions attached to the system they belong to.
func (b *Batch) SIDTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(xslices.Copy(b.SID), b.NumGraphs())
}

// floatTensor materializes data at the requested dtype. The data is always
// copied (or converted), never aliased.
func floatTensor(dtype dtypes.DType, data []float32, dims ...int) *tensors.Tensor {
	switch dtype {
	case dtypes.Float16:
		converted := make([]float16.Float16, len(data))
		for i, v := range data {
			converted[i] = float16.Fromfloat32(v)
		}
		return tensors.FromFlatDataAndDimensions(converted, dims...)
	case dtypes.Float32:
		return tensors.FromFlatDataAndDimensions(xslices.Copy(data), dims...)
	case dtypes.Float64:
		converted := make([]float64, len(data))
		for i, v := range data {
			converted[i] = float64(v)
		}
		return tensors.FromFlatDataAndDimensions(converted, dims...)
	}
	Panicf("tensor adapters materialize floats as one of %v, got dtype %s", FloatDTypes, dtype)
	return nil
}
