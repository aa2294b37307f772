package step

import (
	"context"

	"github.com/san-kum/simbridge/internal/statestore"
)

// Increment adds Delta to every numeric state. Non-numeric payloads are
// left as they are.
type Increment struct {
	Delta float64
}

func (i Increment) Integrate(_ context.Context, states *statestore.Store, _ Completion) error {
	states.Update(func(_ string, v any) (any, bool) {
		f, ok := statestore.ToFloat(v)
		if !ok {
			return nil, false
		}
		return f + i.Delta, true
	})
	return nil
}
