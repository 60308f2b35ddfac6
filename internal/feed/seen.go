package feed

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"watchbot/internal/kv"
)

// SeenSet remembers which feed items were already handled.
type SeenSet interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, ids ...string) error
}

// KVSeen keeps seen ids in the kv set FEED_SEEN:{name}, so restarts and
// other processes sharing the store skip them too. The set is never pruned
// since kv has no delete; it grows by one member per distinct item id.
type KVSeen struct {
	store kv.Store
	key   []byte
}

func NewKVSeen(store kv.Store, name string) *KVSeen {
	return &KVSeen{store: store, key: []byte("FEED_SEEN:" + name)}
}

func (s *KVSeen) Seen(ctx context.Context, id string) (bool, error) {
	return s.store.SetIsMember(ctx, s.key, []byte(id))
}

func (s *KVSeen) Mark(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.store.Update(ctx, func(tx kv.Tx) error {
		for _, id := range ids {
			if err := tx.SetAdd(s.key, []byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// MemorySeen is a bounded in-process seen set. Ids evicted for capacity
// are delivered again if the source still lists them.
type MemorySeen struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func NewMemorySeen(size int) *MemorySeen {
	if size <= 0 {
		size = 10000
	}
	c, _ := lru.New(size)
	return &MemorySeen{cache: c}
}

func (s *MemorySeen) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(id), nil
}

func (s *MemorySeen) Mark(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.cache.Add(id, struct{}{})
	}
	return nil
}
