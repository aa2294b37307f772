package models

import "github.com/san-kum/simbridge/internal/integrators"

// Logistic is dx/dt = Rate*x*(1 - x/Capacity). A non-positive capacity
// degenerates to unbounded exponential growth.
type Logistic struct {
	Rate     float64
	Capacity float64
}

func NewLogistic(rate, capacity float64) *Logistic {
	return &Logistic{Rate: rate, Capacity: capacity}
}

func (l *Logistic) Derive(x integrators.Vector, t float64) integrators.Vector {
	dx := make(integrators.Vector, len(x))
	for i := range x {
		if l.Capacity <= 0 {
			dx[i] = l.Rate * x[i]
			continue
		}
		dx[i] = l.Rate * x[i] * (1 - x[i]/l.Capacity)
	}
	return dx
}
