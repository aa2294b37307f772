package integrators

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(sys System, x Vector, t, dt float64) Vector {
	dx := sys.Derive(x, t)
	result := make(Vector, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}
