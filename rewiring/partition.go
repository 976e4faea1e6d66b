package rewiring

import (
	"math"

	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/ocmodels/ocgraph/atomgraph"
)

// partition splits every graph's node rows into sub-surface members and
// survivors, preserving node order. Indices are batch node rows.
func partition(b *atomgraph.Batch) (sub, keep [][]int32) {
	numGraphs := b.NumGraphs()
	sub = make([][]int32, numGraphs)
	keep = make([][]int32, numGraphs)
	for i := 0; i < numGraphs; i++ {
		lo, hi := b.NodeRange(i)
		for n := lo; n < hi; n++ {
			if b.Tags[n] == atomgraph.TagSubSurface {
				sub[i] = append(sub[i], n)
			} else {
				keep[i] = append(keep[i], n)
			}
		}
	}
	return
}

// groupByType splits members per atomic number. Types come out ascending and
// each group preserves node order.
func groupByType(b *atomgraph.Batch, members []int32) (types []int32, groups [][]int32) {
	byType := make(map[int32][]int32)
	for _, n := range members {
		z := b.AtomicNumbers[n]
		byType[z] = append(byType[z], n)
	}
	types = xslices.SortedKeys(byType)
	groups = make([][]int32, 0, len(types))
	for _, z := range types {
		groups = append(groups, byType[z])
	}
	return
}

// meanRows averages stride-3 rows over the given node rows. Accumulation runs
// in float64 so the result does not depend on how many atoms collapse.
func meanRows(data []float32, members []int32) [3]float64 {
	var acc [3]float64
	for _, n := range members {
		for d := int32(0); d < 3; d++ {
			acc[d] += float64(data[3*n+d])
		}
	}
	count := float64(len(members))
	for d := 0; d < 3; d++ {
		acc[d] /= count
	}
	return acc
}

// distance returns the Euclidean length between node rows a and b of pos.
// No periodic-image correction: collapsed endpoints have no meaningful image.
func distance(pos []float32, a, b int32) float32 {
	var sum float64
	for d := int32(0); d < 3; d++ {
		delta := float64(pos[3*a+d]) - float64(pos[3*b+d])
		sum += delta * delta
	}
	return float32(math.Sqrt(sum))
}

// graphAggregate is the payload of one super-node.
type graphAggregate struct {
	pos, posRelaxed, force [3]float32
}

// aggregateFn derives a super-node payload from one graph's sub-surface
// members. The two per-graph strategies differ only here.
type aggregateFn func(b *atomgraph.Batch, members []int32) graphAggregate

// meanAggregate averages positions, relaxed positions and forces over all
// members in one pass.
func meanAggregate(b *atomgraph.Batch, members []int32) graphAggregate {
	return graphAggregate{
		pos:        roundRows(meanRows(b.Pos, members)),
		posRelaxed: roundRows(meanRows(b.PosRelaxed, members)),
		force:      roundRows(meanRows(b.Force, members)),
	}
}

// typeMergedAggregate computes per-type means first and merges them weighted
// by member count. With a single type it degenerates to meanAggregate's exact
// float path, which is what makes the by-type strategy a bit-level cross
// check of the per-graph one.
func typeMergedAggregate(b *atomgraph.Batch, members []int32) graphAggregate {
	_, groups := groupByType(b, members)
	if len(groups) == 1 {
		return meanAggregate(b, groups[0])
	}
	merge := func(data []float32) [3]float32 {
		var acc [3]float64
		for _, group := range groups {
			mean := meanRows(data, group)
			weight := float64(len(group))
			for d := 0; d < 3; d++ {
				acc[d] += weight * mean[d]
			}
		}
		total := float64(len(members))
		for d := 0; d < 3; d++ {
			acc[d] /= total
		}
		return roundRows(acc)
	}
	return graphAggregate{
		pos:        merge(b.Pos),
		posRelaxed: merge(b.PosRelaxed),
		force:      merge(b.Force),
	}
}

func roundRows(row [3]float64) [3]float32 {
	return [3]float32{float32(row[0]), float32(row[1]), float32(row[2])}
}
