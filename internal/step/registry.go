package step

import (
	"fmt"
	"sort"

	"github.com/san-kum/simbridge/internal/integrators"
	"github.com/san-kum/simbridge/internal/models"
)

// Params selects and parameterizes a step by name.
type Params struct {
	Kind       string
	Delta      float64
	Model      string
	Integrator string
	Dt         float64
	Substeps   int
	Rate       float64
	Capacity   float64
	TimeKey    string
	// SignalInStep appends Base so the step signals completion itself.
	SignalInStep bool
}

type Registry struct {
	steps       map[string]func(Params, *Registry) (Step, error)
	integrators map[string]func() integrators.Integrator
	models      map[string]func(Params) integrators.System
}

func NewRegistry() *Registry {
	r := &Registry{
		steps:       make(map[string]func(Params, *Registry) (Step, error)),
		integrators: make(map[string]func() integrators.Integrator),
		models:      make(map[string]func(Params) integrators.System),
	}

	r.steps["increment"] = func(p Params, _ *Registry) (Step, error) { return Increment{Delta: p.Delta}, nil }
	r.steps["noop"] = func(Params, *Registry) (Step, error) { return Noop{}, nil }
	r.steps["dynamics"] = func(p Params, r *Registry) (Step, error) {
		sys, err := r.GetModel(p.Model, p)
		if err != nil {
			return nil, err
		}
		integ, err := r.GetIntegrator(p.Integrator)
		if err != nil {
			return nil, err
		}
		return &Dynamics{System: sys, Integrator: integ, Dt: p.Dt, Substeps: p.Substeps, TimeKey: p.TimeKey}, nil
	}

	r.integrators["euler"] = func() integrators.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() integrators.Integrator { return integrators.NewRK4() }

	r.models["growth"] = func(p Params) integrators.System { return models.NewGrowth(p.Rate) }
	r.models["decay"] = func(p Params) integrators.System { return models.NewDecay(p.Rate) }
	r.models["logistic"] = func(p Params) integrators.System { return models.NewLogistic(p.Rate, p.Capacity) }

	return r
}

// Build constructs the step named by p.Kind.
func (r *Registry) Build(p Params) (Step, error) {
	fn, ok := r.steps[p.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown step: %s", p.Kind)
	}
	s, err := fn(p, r)
	if err != nil {
		return nil, err
	}
	if p.SignalInStep {
		return Chain(s, Base{}), nil
	}
	return s, nil
}

func (r *Registry) GetIntegrator(name string) (integrators.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn(), nil
}

func (r *Registry) GetModel(name string, p Params) (integrators.System, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return fn(p), nil
}

func (r *Registry) ListSteps() []string       { return sortedKeys(r.steps) }
func (r *Registry) ListIntegrators() []string { return sortedKeys(r.integrators) }
func (r *Registry) ListModels() []string      { return sortedKeys(r.models) }

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
