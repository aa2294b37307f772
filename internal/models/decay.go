package models

import "github.com/san-kum/simbridge/internal/integrators"

// Decay is dx/dt = -Rate*x.
type Decay struct {
	Rate float64
}

func NewDecay(rate float64) *Decay {
	return &Decay{Rate: rate}
}

func (d *Decay) Derive(x integrators.Vector, t float64) integrators.Vector {
	dx := make(integrators.Vector, len(x))
	for i := range x {
		dx[i] = -d.Rate * x[i]
	}
	return dx
}
