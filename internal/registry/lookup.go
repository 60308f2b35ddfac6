package registry

import (
	"context"
	"sync"
)

// Lookup is the registry surface consumers depend on. Both *Shared and
// *Persisted implement it.
type Lookup[R any, E any] interface {
	Subscribers(ctx context.Context, event E) ([]R, error)
	Events(ctx context.Context) ([]E, error)
	Subscribe(ctx context.Context, registrant R, events ...E) error
}

// Shared guards a Registry with a mutex so bot commands and watcher ticks
// can use it concurrently. Lookups take the write lock because a miss
// populates the cache.
type Shared[R comparable, E comparable] struct {
	mu  sync.Mutex
	reg *Registry[R, E]
}

func NewShared[R comparable, E comparable](reg *Registry[R, E]) *Shared[R, E] {
	return &Shared[R, E]{reg: reg}
}

func (s *Shared[R, E]) Subscribers(_ context.Context, event E) ([]R, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.FindRegistrantsByEvent(event), nil
}

func (s *Shared[R, E]) Events(context.Context) ([]E, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Pool(), nil
}

func (s *Shared[R, E]) Subscribe(_ context.Context, registrant R, events ...E) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg.Register(registrant, events...)
	return nil
}

var (
	_ Lookup[string, int] = (*Shared[string, int])(nil)
	_ Lookup[string, int] = (*Persisted[string, int])(nil)
)
