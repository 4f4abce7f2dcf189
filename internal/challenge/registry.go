package challenge

import "fmt"

// Factory builds a Controller for a given Descriptor. Production code
// registers NewController; tests may register one that wraps a fake
// container engine.
type Factory func(Descriptor, Dependencies) *Controller

// Registry is the static, declarative factory table spec section 9
// prescribes in place of dynamic duck-typed handler loading:
// configuration names a key, never a code path.
type Registry struct {
	descriptors map[string]Descriptor
	factory     Factory
}

// NewRegistry builds a Registry from a set of descriptors, all built by
// the same factory. A per-challenge factory override is unnecessary in
// this design: every challenge shares one controller implementation, and
// descriptors alone vary behavior.
func NewRegistry(descriptors []Descriptor, factory Factory) *Registry {
	m := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.Name] = d
	}
	return &Registry{descriptors: m, factory: factory}
}

// Build returns a fresh Controller for the named challenge, or an error
// if the name is not configured.
func (r *Registry) Build(name string, deps Dependencies) (*Controller, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("challenge: no descriptor registered for %q", name)
	}
	return r.factory(d, deps), nil
}

// Names returns every configured challenge name, in no particular order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	return out
}

// Descriptor returns the named challenge's descriptor and whether it
// exists.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}
