package training

import (
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Builder constructs a fresh model. Builders close over whatever
// configuration their model needs -- learning rate, distance basis, corpus
// statistics.
type Builder func() Model

// Registry resolves model names to builders. It is a plain map filled at
// construction time: commands compose one at startup and nothing registers
// itself on import.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under the given name. An empty name, a nil builder
// or a name registered twice are programming errors and panic.
func (r *Registry) Register(name string, builder Builder) {
	if name == "" || builder == nil {
		Panicf("training.Registry.Register requires a name and a builder, got name=%q, builder=%v", name, builder)
	}
	if _, found := r.builders[name]; found {
		Panicf("model %q registered twice", name)
	}
	r.builders[name] = builder
}

// New builds the model registered under name. Unknown names are a
// configuration mistake, not a programming one, so they return an error
// listing the models the registry knows.
func (r *Registry) New(name string) (Model, error) {
	builder, found := r.builders[name]
	if !found {
		return nil, errors.Errorf("unknown model %q, available models: %s",
			name, strings.Join(r.Names(), ", "))
	}
	return builder(), nil
}

// Names lists the registered model names, sorted.
func (r *Registry) Names() []string {
	return xslices.SortedKeys(r.builders)
}
