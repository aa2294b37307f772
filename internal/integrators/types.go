// Package integrators advances a state vector through an ordinary
// differential equation dx/dt = f(x, t).
package integrators

import "math"

type Vector []float64

func (v Vector) Clone() Vector {
	c := make(Vector, len(v))
	copy(c, v)
	return c
}

func (v Vector) IsValid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

type System interface {
	Derive(x Vector, t float64) Vector
}

type Integrator interface {
	Step(sys System, x Vector, t, dt float64) Vector
}
