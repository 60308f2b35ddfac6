package watcher

import (
	"errors"
	"sync"
)

// ErrNoReceivers is returned by Send when nobody is subscribed.
var ErrNoReceivers = errors.New("signal has no receivers")

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Signal is a single-slot broadcast: every receiver observes the latest
// value sent after it subscribed. Intermediate values may be skipped.
type Signal[T any] struct {
	mu        sync.Mutex
	val       T
	version   uint64
	notify    chan struct{}
	receivers int
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{notify: make(chan struct{})}
}

// Send replaces the value and wakes every receiver. Without live receivers
// the value is discarded and ErrNoReceivers is returned.
func (s *Signal[T]) Send(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receivers == 0 {
		return ErrNoReceivers
	}
	s.val = v
	s.version++
	close(s.notify)
	s.notify = make(chan struct{})
	return nil
}

// Subscribe returns a receiver that only sees values sent from now on.
func (s *Signal[T]) Subscribe() *Receiver[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers++
	return &Receiver[T]{s: s, seen: s.version}
}

func (s *Signal[T]) Receivers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receivers
}

type Receiver[T any] struct {
	s      *Signal[T]
	seen   uint64
	closed bool
}

// Changed returns a channel that is closed once a value newer than the
// last one read is available. A closed receiver never fires.
func (r *Receiver[T]) Changed() <-chan struct{} {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.closed {
		return nil
	}
	if r.seen < r.s.version {
		return closedCh
	}
	return r.s.notify
}

// Value returns the latest value and marks it seen.
func (r *Receiver[T]) Value() T {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.seen = r.s.version
	return r.s.val
}

// Clone returns an independent receiver at the same position.
func (r *Receiver[T]) Clone() *Receiver[T] {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.closed {
		return &Receiver[T]{s: r.s, seen: r.seen, closed: true}
	}
	r.s.receivers++
	return &Receiver[T]{s: r.s, seen: r.seen}
}

func (r *Receiver[T]) Close() {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.s.receivers--
}
