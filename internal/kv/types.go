package kv

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed    = errors.New("kv: store closed")
	ErrEmptyKey  = errors.New("kv: empty key")
	ErrUnknownDB = errors.New("kv: unknown storage driver")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is a shared, process-external key-value store.
// Missing keys read as empty lists/sets, never as errors.
type Store interface {
	// Update runs fn inside one atomic write transaction. If fn returns an
	// error nothing it wrote is kept.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// ListRange returns list items between start and stop inclusive.
	// Negative indices count from the end; 0, -1 is the whole list.
	ListRange(ctx context.Context, key []byte, start, stop int64) ([][]byte, error)
	SetMembers(ctx context.Context, key []byte) ([][]byte, error)
	SetIsMember(ctx context.Context, key, member []byte) (bool, error)

	Close() error
}

// Tx is the view of the store inside Update.
type Tx interface {
	ListPush(key, value []byte) error
	ListRange(key []byte, start, stop int64) ([][]byte, error)
	SetAdd(key, member []byte) error
	SetIsMember(key, member []byte) (bool, error)
}

// Observer is told about every store operation and its outcome.
type Observer func(op string, err error)

type Option func(*options)

type options struct {
	observe Observer
}

func WithObserver(fn Observer) Option {
	return func(o *options) { o.observe = fn }
}

func (o options) report(op string, err error) {
	if o.observe != nil {
		o.observe(op, err)
	}
}

// rangeBounds converts Redis-style inclusive indices into a half-open
// [lo, hi) window over a list of length n. ok is false for empty windows.
func rangeBounds(n int, start, stop int64) (lo, hi int, ok bool) {
	size := int64(n)
	if start < 0 {
		start += size
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += size
	}
	if stop >= size {
		stop = size - 1
	}
	if size == 0 || start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop + 1), true
}
