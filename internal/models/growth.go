// Package models provides element-wise systems for the dynamics step. Each
// state component evolves independently under the same law.
package models

import "github.com/san-kum/simbridge/internal/integrators"

// Growth is dx/dt = Rate. One Euler step with dt=1 adds Rate to every state.
type Growth struct {
	Rate float64
}

func NewGrowth(rate float64) *Growth {
	return &Growth{Rate: rate}
}

func (g *Growth) Derive(x integrators.Vector, t float64) integrators.Vector {
	dx := make(integrators.Vector, len(x))
	for i := range dx {
		dx[i] = g.Rate
	}
	return dx
}
