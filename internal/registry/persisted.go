package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"watchbot/internal/kv"
	logx "watchbot/pkg/logx"
)

const (
	subscribePrefix = "SUBSCRIBE_REGISTRY"
	poolPrefix      = "REGISTRY_EVENT_POOL"
)

// ErrSetup marks a failed startup seeding of a persisted registry.
var ErrSetup = errors.New("registry setup failed")

// StoreError reports a failed store round-trip.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Persisted keeps the relation in a kv.Store. Every call is a store
// round-trip; nothing is cached locally because other processes may write
// the same keys.
//
// Keys:
//
//	SUBSCRIBE_REGISTRY:{name}:{event}  list of registrants
//	REGISTRY_EVENT_POOL:{name}         set of events
type Persisted[R any, E any] struct {
	name        string
	store       kv.Store
	registrants Codec[R]
	events      Codec[E]
	log         logx.Logger
}

func NewPersisted[R any, E any](name string, store kv.Store, registrants Codec[R], events Codec[E], log logx.Logger) (*Persisted[R, E], error) {
	if name == "" {
		return nil, errors.New("registry name is required")
	}
	// ':' separates name and event in keys; allowing it lets two
	// registries share a list key
	if strings.Contains(name, ":") {
		return nil, fmt.Errorf("registry name %q must not contain ':'", name)
	}
	if store == nil {
		return nil, errors.New("persisted registry requires a store")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Persisted[R, E]{
		name:        name,
		store:       store,
		registrants: registrants,
		events:      events,
		log:         log.With(logx.String("registry", name)),
	}, nil
}

func (p *Persisted[R, E]) Name() string { return p.name }

func (p *Persisted[R, E]) poolKey() []byte {
	return []byte(poolPrefix + ":" + p.name)
}

func (p *Persisted[R, E]) listKey(event []byte) []byte {
	k := make([]byte, 0, len(subscribePrefix)+len(p.name)+len(event)+2)
	k = append(k, subscribePrefix...)
	k = append(k, ':')
	k = append(k, p.name...)
	k = append(k, ':')
	return append(k, event...)
}

// SubscribeEvent adds registrant to each event's list and each event to the
// pool. Every event is applied in its own transaction; an error leaves the
// events before it applied. A registrant already in an event's list is not
// appended again.
func (p *Persisted[R, E]) SubscribeEvent(ctx context.Context, registrant R, events ...E) error {
	member, err := p.registrants.Encode(registrant)
	if err != nil {
		return fmt.Errorf("encode registrant: %w", err)
	}
	for _, ev := range events {
		evb, err := p.events.Encode(ev)
		if err != nil {
			return fmt.Errorf("encode event %v: %w", ev, err)
		}
		key := p.listKey(evb)
		err = p.store.Update(ctx, func(tx kv.Tx) error {
			cur, err := tx.ListRange(key, 0, -1)
			if err != nil {
				return err
			}
			if !containsBytes(cur, member) {
				if err := tx.ListPush(key, member); err != nil {
					return err
				}
			}
			return tx.SetAdd(p.poolKey(), evb)
		})
		if err != nil {
			return &StoreError{Op: "subscribe", Key: string(key), Err: err}
		}
		p.log.Debug("event subscribed", logx.Any("event", ev))
	}
	return nil
}

// SetupSubscribeRegistry seeds the store from relation. The first failure
// stops the setup and is returned wrapped in ErrSetup.
func (p *Persisted[R, E]) SetupSubscribeRegistry(ctx context.Context, relation iter.Seq2[R, []E]) error {
	n := 0
	for registrant, events := range relation {
		if err := p.SubscribeEvent(ctx, registrant, events...); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSetup, p.name, err)
		}
		n++
	}
	p.log.Info("registry seeded", logx.Int("registrants", n))
	return nil
}

// EventPool returns every event ever subscribed, in store order.
func (p *Persisted[R, E]) EventPool(ctx context.Context) ([]E, error) {
	key := p.poolKey()
	raw, err := p.store.SetMembers(ctx, key)
	if err != nil {
		return nil, &StoreError{Op: "event_pool", Key: string(key), Err: err}
	}
	out := make([]E, 0, len(raw))
	for _, b := range raw {
		ev, err := p.events.Decode(b)
		if err != nil {
			return nil, &StoreError{Op: "event_pool", Key: string(key), Err: err}
		}
		out = append(out, ev)
	}
	return out, nil
}

// GetSubscribers returns the registrants of event in subscription order.
func (p *Persisted[R, E]) GetSubscribers(ctx context.Context, event E) ([]R, error) {
	evb, err := p.events.Encode(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %v: %w", event, err)
	}
	key := p.listKey(evb)
	raw, err := p.store.ListRange(ctx, key, 0, -1)
	if err != nil {
		return nil, &StoreError{Op: "get_subscribers", Key: string(key), Err: err}
	}
	out := make([]R, 0, len(raw))
	for _, b := range raw {
		r, err := p.registrants.Decode(b)
		if err != nil {
			return nil, &StoreError{Op: "get_subscribers", Key: string(key), Err: err}
		}
		out = append(out, r)
	}
	return out, nil
}

// IsEvent reports whether event is in the pool.
func (p *Persisted[R, E]) IsEvent(ctx context.Context, event E) (bool, error) {
	evb, err := p.events.Encode(event)
	if err != nil {
		return false, fmt.Errorf("encode event %v: %w", event, err)
	}
	ok, err := p.store.SetIsMember(ctx, p.poolKey(), evb)
	if err != nil {
		return false, &StoreError{Op: "is_event", Key: string(p.poolKey()), Err: err}
	}
	return ok, nil
}

func (p *Persisted[R, E]) Subscribers(ctx context.Context, event E) ([]R, error) {
	return p.GetSubscribers(ctx, event)
}

func (p *Persisted[R, E]) Events(ctx context.Context) ([]E, error) {
	return p.EventPool(ctx)
}

func (p *Persisted[R, E]) Subscribe(ctx context.Context, registrant R, events ...E) error {
	return p.SubscribeEvent(ctx, registrant, events...)
}

func containsBytes(list [][]byte, v []byte) bool {
	for _, b := range list {
		if bytes.Equal(b, v) {
			return true
		}
	}
	return false
}
