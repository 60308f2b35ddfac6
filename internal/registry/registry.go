package registry

import (
	"cmp"
	"slices"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds the lookup cache when WithCacheSize is not given.
const DefaultCacheSize = 4096

// Registry is an in-memory event -> registrants relation with a sorted,
// deduplicated event pool and a memoized lookup cache.
//
// A cache entry for an event is either absent or equal to what a full scan
// of the relation would return right now. Register evicts every event of
// its batch before returning.
//
// Registry is not safe for concurrent use; see Shared.
type Registry[R comparable, E comparable] struct {
	relation map[R][]E
	order    []R
	pool     []E
	cmp      func(a, b E) int

	cache  *lru.Cache
	onLook func(hit bool)
}

type Option func(*options)

type options struct {
	cacheSize int
	onLookup  func(hit bool)
}

// WithCacheSize bounds the lookup cache. Entries dropped for capacity are
// recomputed on the next lookup.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithLookupHook is called on every FindRegistrantsByEvent with whether the
// cache answered.
func WithLookupHook(fn func(hit bool)) Option {
	return func(o *options) { o.onLookup = fn }
}

// New builds a registry for naturally ordered events.
func New[R comparable, E cmp.Ordered](initial map[R][]E, opts ...Option) *Registry[R, E] {
	return NewFunc(initial, cmp.Compare[E], opts...)
}

// NewFunc builds a registry ordering the event pool with compare.
func NewFunc[R comparable, E comparable](initial map[R][]E, compare func(a, b E) int, opts ...Option) *Registry[R, E] {
	o := options{cacheSize: DefaultCacheSize}
	for _, fn := range opts {
		fn(&o)
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(o.cacheSize)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}

	r := &Registry[R, E]{
		relation: make(map[R][]E, len(initial)),
		cmp:      compare,
		cache:    cache,
		onLook:   o.onLookup,
	}
	for registrant, events := range initial {
		if len(events) == 0 {
			continue
		}
		r.relation[registrant] = slices.Clone(events)
		r.order = append(r.order, registrant)
		r.pool = append(r.pool, events...)
	}
	r.pool = r.normalizePool(r.pool)
	return r
}

// Register appends events to registrant's subscriptions, merges them into
// the pool and evicts their cache entries.
func (r *Registry[R, E]) Register(registrant R, events ...E) {
	if len(events) == 0 {
		return
	}
	cur, ok := r.relation[registrant]
	if !ok {
		r.order = append(r.order, registrant)
	}
	r.relation[registrant] = append(cur, events...)
	r.pool = r.normalizePool(append(r.pool, events...))
	for _, ev := range events {
		r.cache.Remove(ev)
	}
}

// FindRegistrantsByEvent returns every registrant subscribed to event, in
// registration order. Unknown events return nil and are not memoized.
func (r *Registry[R, E]) FindRegistrantsByEvent(event E) []R {
	if v, ok := r.cache.Get(event); ok {
		r.lookedUp(true)
		return slices.Clone(v.([]R))
	}
	r.lookedUp(false)

	var found []R
	for _, registrant := range r.order {
		if slices.Contains(r.relation[registrant], event) {
			found = append(found, registrant)
		}
	}
	if len(found) == 0 {
		return nil
	}
	r.cache.Add(event, found)
	return slices.Clone(found)
}

// Pool returns a copy of the sorted, deduplicated event pool.
func (r *Registry[R, E]) Pool() []E {
	return slices.Clone(r.pool)
}

// CacheLen reports how many events are memoized.
func (r *Registry[R, E]) CacheLen() int {
	return r.cache.Len()
}

func (r *Registry[R, E]) lookedUp(hit bool) {
	if r.onLook != nil {
		r.onLook(hit)
	}
}

func (r *Registry[R, E]) normalizePool(pool []E) []E {
	slices.SortFunc(pool, r.cmp)
	return slices.CompactFunc(pool, func(a, b E) bool { return r.cmp(a, b) == 0 })
}
