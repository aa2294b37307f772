// Package statestore holds the named, mutable state an integrator shares with
// its host.
package statestore

import (
	"sort"
	"sync"

	"github.com/san-kum/simbridge/internal/errs"
)

// Store maps state names to values. Keys are unique and the last write wins.
// Values are usually float64 but any JSON-serializable payload is accepted.
//
// A Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

func New() *Store {
	return &Store{values: make(map[string]any)}
}

// Add inserts or overwrites name. It accepts any identifier, including "".
func (s *Store) Add(name string, value any) {
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
}

func (s *Store) Get(name string) (any, error) {
	s.mu.RLock()
	v, ok := s.values[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound(name)
	}
	return v, nil
}

// Float returns name as a float64. Non-numeric payloads yield ErrInvalid.
func (s *Store) Float(name string) (float64, error) {
	v, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, errs.New(errs.CodeInvalid, errs.WithOp("getState"), errs.WithName(name),
			errs.WithMessage("value is not numeric"))
	}
	return f, nil
}

// All returns a copy of every entry. Mutating the result does not affect the store.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Names returns the state names in lexical order.
func (s *Store) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Update applies fn to every entry under a single write lock and stores the
// returned value. Entries for which fn reports false are left untouched.
func (s *Store) Update(fn func(name string, value any) (any, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.values {
		if nv, ok := fn(k, v); ok {
			s.values[k] = nv
		}
	}
}

// Tx is exclusive access to a Store for the duration of [Store.Do].
type Tx struct {
	values map[string]any
}

func (tx *Tx) Get(name string) (any, bool) {
	v, ok := tx.values[name]
	return v, ok
}

func (tx *Tx) Set(name string, value any) {
	tx.values[name] = value
}

// Names returns the state names in lexical order.
func (tx *Tx) Names() []string {
	names := make([]string, 0, len(tx.values))
	for k := range tx.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Do runs fn under the write lock, so a read-modify-write in fn cannot lose a
// concurrent Add. Writes made before fn fails are kept. tx must not be used
// after fn returns, and fn must not call back into the Store.
func (s *Store) Do(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{values: s.values})
}
