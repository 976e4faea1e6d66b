// Package rewiring derives new batched graphs from existing ones, rewriting
// nodes and edges while preserving batch bookkeeping (pointer array, graph
// assignment, per-graph counts, energies and ids).
//
// The strategies come from a common preprocessing need of large adsorption
// catalysis datasets: most atoms sit below the surface, are frozen during
// relaxation and contribute little information per atom, yet dominate node
// and edge counts. Collapsing them shrinks batches dramatically while keeping
// the surface and adsorbate structure intact.
//
// Four strategies are available, resolved by name through New:
//
//   - SuperNodePerGraphName: all sub-surface atoms of each graph collapse
//     into one super-node carrying their mean position, relaxed position and
//     force, with a sentinel atomic number.
//   - SuperNodePerGraphByTypeName: the same output contract, computed by
//     aggregating per atomic type first and merging. On graphs whose
//     sub-surface atoms are all one type it reproduces SuperNodePerGraphName
//     bit for bit, which makes it a cross-check of the aggregation path.
//   - SuperNodePerAtomTypeName: one super-node per distinct sub-surface
//     atomic type per graph, positioned at its first member, with substituted
//     edges de-duplicated and self-loops removed.
//   - RemoveSubSurfaceName: drops sub-surface atoms and every edge touching
//     them, with no super-node.
//
// Every strategy returns a freshly allocated batch: inputs are never written
// to. Edge endpoints are remapped to the surviving node rows, edge distances
// of re-derived edges are recomputed from the new positions, and duplicated
// node and edge rows never leak bookkeeping: Ptr, Graph, Natoms and Neighbors
// are rebuilt so the output passes the same validation as the input.
package rewiring

import (
	. "github.com/gomlx/exceptions"
	"github.com/ocmodels/ocgraph/atomgraph"
)

// Strategy rewires batches. Implementations are stateless regarding inputs:
// Apply never mutates the batch it is given and a Strategy value can be
// applied concurrently to independent batches.
type Strategy interface {
	// Name identifies the strategy; it is the key New resolves.
	Name() string

	// Apply derives a rewired batch. The returned batch is freshly
	// allocated, shares no memory with b, sits on the same device and
	// upholds every batch invariant b does.
	//
	// Data problems are returned as typed errors: ShapeMismatchError for
	// inconsistent inputs (or outputs), EmptyAggregateError when a graph has
	// nothing to collapse and AllowEmpty was not set, IndexResolutionError
	// when a surviving edge endpoint fails to remap.
	Apply(b *atomgraph.Batch) (*atomgraph.Batch, error)
}

// Strategy names accepted by New.
const (
	SuperNodePerGraphName       = "supernode-per-graph"
	SuperNodePerGraphByTypeName = "supernode-per-graph-bytype"
	SuperNodePerAtomTypeName    = "supernode-per-atom-type"
	RemoveSubSurfaceName        = "remove-subsurface"
)

// DefaultSentinelAtomicNumber marks collapsed super-nodes. Polonium: absent
// from every adsorption corpus this toolkit targets, so it cannot collide
// with a real atom type.
const DefaultSentinelAtomicNumber int32 = 84

// New builds the strategy registered under name, one of Names. The mapping is
// fixed at compile time: there is no mutable registry to populate and nothing
// registers itself on import.
//
// It panics on an unknown name; callers resolving user input should check
// against Names first.
func New(name string, opts ...Option) Strategy {
	switch name {
	case SuperNodePerGraphName:
		return NewSuperNodePerGraph(opts...)
	case SuperNodePerGraphByTypeName:
		return NewSuperNodePerGraphByType(opts...)
	case SuperNodePerAtomTypeName:
		return NewSuperNodePerAtomType(opts...)
	case RemoveSubSurfaceName:
		return NewRemoveSubSurface(opts...)
	}
	Panicf("rewiring.New: unknown strategy %q, known strategies are %v", name, Names())
	return nil
}

// Names lists the strategy names New accepts, in stable order.
func Names() []string {
	return []string{
		SuperNodePerGraphName,
		SuperNodePerGraphByTypeName,
		SuperNodePerAtomTypeName,
		RemoveSubSurfaceName,
	}
}

// Option configures a strategy at construction time.
type Option func(*options)

type options struct {
	allowEmpty bool
	sentinel   int32
	statsFn    func(Stats)
}

func newOptions(opts ...Option) *options {
	o := &options{sentinel: DefaultSentinelAtomicNumber}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AllowEmpty lets graphs without any sub-surface atom pass through a
// super-node strategy unreduced (no super-node, no synthetic self-loop, edges
// kept). Without it such graphs make Apply fail with an EmptyAggregateError:
// silently averaging over nothing would poison positions with NaNs.
func AllowEmpty() Option {
	return func(o *options) { o.allowEmpty = true }
}

// WithSentinelAtomicNumber overrides the atomic number given to super-nodes
// collapsed from several types (the per-atom-type strategy keeps the real
// type instead). It panics if z is not a positive number.
func WithSentinelAtomicNumber(z int32) Option {
	if z <= 0 {
		Panicf("sentinel atomic number must be positive, got %d", z)
	}
	return func(o *options) { o.sentinel = z }
}

// WithStatsFunc registers fn to receive the Stats of every successful Apply
// call. Purely observational: it never changes what the strategy produces.
func WithStatsFunc(fn func(Stats)) Option {
	return func(o *options) { o.statsFn = fn }
}
