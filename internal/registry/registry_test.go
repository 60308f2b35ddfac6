package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestRegistryReferenceScenario(t *testing.T) {
	r := New(map[string][]int{
		"foo": {1, 2, 3},
		"bar": {9, 2, 8, 1},
	})

	if got, want := r.Pool(), []int{1, 2, 3, 8, 9}; !slices.Equal(got, want) {
		t.Fatalf("Pool() = %v, want %v", got, want)
	}
	if got := r.FindRegistrantsByEvent(7); len(got) != 0 {
		t.Fatalf("lookup 7 = %v, want empty", got)
	}
	if r.CacheLen() != 0 {
		t.Fatalf("unknown event was memoized")
	}
	if got := r.FindRegistrantsByEvent(8); !slices.Equal(got, []string{"bar"}) {
		t.Fatalf("lookup 8 = %v, want [bar]", got)
	}
	got := r.FindRegistrantsByEvent(2)
	if !slices.Contains(got, "foo") || !slices.Contains(got, "bar") || len(got) != 2 {
		t.Fatalf("lookup 2 = %v, want foo and bar", got)
	}
	if r.CacheLen() != 2 {
		t.Fatalf("CacheLen = %d, want 2", r.CacheLen())
	}

	r.Register("baz", 2, 6, 7)
	if got, want := r.Pool(), []int{1, 2, 3, 6, 7, 8, 9}; !slices.Equal(got, want) {
		t.Fatalf("Pool() after register = %v, want %v", got, want)
	}
	if r.CacheLen() != 1 {
		t.Fatalf("CacheLen after register = %d, want 1 (event 2 evicted)", r.CacheLen())
	}
	got = r.FindRegistrantsByEvent(2)
	if !slices.Contains(got, "foo") || !slices.Contains(got, "bar") || !slices.Contains(got, "baz") {
		t.Fatalf("lookup 2 after register = %v", got)
	}
	if r.CacheLen() != 2 {
		t.Fatalf("CacheLen = %d, want 2", r.CacheLen())
	}
}

func TestRegistryKeepsPerRegistrantDuplicates(t *testing.T) {
	r := New(map[string][]string{"a": {"x", "x"}, "empty": nil})
	if got := r.Pool(); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("Pool() = %v", got)
	}
	if got := r.FindRegistrantsByEvent("x"); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("lookup x = %v, want [a]", got)
	}
	r.Register("empty")
	if got := r.FindRegistrantsByEvent("x"); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("empty registration changed lookup: %v", got)
	}
}

func TestRegistryRegistrationOrder(t *testing.T) {
	r := New[string, string](nil)
	r.Register("c", "e")
	r.Register("a", "e")
	r.Register("b", "e")
	if got, want := r.FindRegistrantsByEvent("e"), []string{"c", "a", "b"}; !slices.Equal(got, want) {
		t.Fatalf("lookup = %v, want %v", got, want)
	}
}

func TestRegistryLookupReturnsCopy(t *testing.T) {
	r := New(map[string][]int{"a": {1}})
	got := r.FindRegistrantsByEvent(1)
	got[0] = "mutated"
	if again := r.FindRegistrantsByEvent(1); !slices.Equal(again, []string{"a"}) {
		t.Fatalf("memo corrupted: %v", again)
	}
	pool := r.Pool()
	pool[0] = 99
	if r.Pool()[0] != 1 {
		t.Fatalf("pool corrupted")
	}
}

func TestRegistryCacheSizeAndHook(t *testing.T) {
	var hits, misses int
	r := New(map[string][]int{"a": {1, 2, 3}}, WithCacheSize(2), WithLookupHook(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))
	for _, ev := range []int{1, 2, 3, 1} {
		if got := r.FindRegistrantsByEvent(ev); !slices.Equal(got, []string{"a"}) {
			t.Fatalf("lookup %d = %v", ev, got)
		}
	}
	if r.CacheLen() != 2 {
		t.Fatalf("CacheLen = %d, want 2", r.CacheLen())
	}
	// 1 was pushed out by 3, so all four lookups missed.
	if hits != 0 || misses != 4 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
	r.FindRegistrantsByEvent(1)
	if hits != 1 {
		t.Fatalf("hits=%d, want 1", hits)
	}
}

type feedKey struct {
	Source string
	ID     int
}

func TestNewFuncOrdersWithComparator(t *testing.T) {
	r := NewFunc(map[int64][]feedKey{
		1: {{"b", 1}, {"a", 2}},
		2: {{"a", 1}, {"a", 2}},
	}, func(x, y feedKey) int {
		if x.Source != y.Source {
			if x.Source < y.Source {
				return -1
			}
			return 1
		}
		return x.ID - y.ID
	})
	want := []feedKey{{"a", 1}, {"a", 2}, {"b", 1}}
	if got := r.Pool(); !slices.Equal(got, want) {
		t.Fatalf("Pool() = %v, want %v", got, want)
	}
	got := r.FindRegistrantsByEvent(feedKey{"a", 2})
	slices.Sort(got)
	if !slices.Equal(got, []int64{1, 2}) {
		t.Fatalf("lookup = %v", got)
	}
}

func TestSharedConcurrentSubscribeAndLookup(t *testing.T) {
	const writers = 8
	ctx := context.Background()
	s := NewShared(New(map[int][]string{0: {"seed", "shared"}}))

	var wg sync.WaitGroup
	errs := make(chan error, writers*4)
	for i := 1; i <= writers; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			if err := s.Subscribe(ctx, id, "shared", fmt.Sprintf("ev-%d", id)); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				subs, err := s.Subscribers(ctx, "shared")
				if err != nil {
					errs <- err
					return
				}
				if len(subs) == 0 || len(subs) > writers+1 {
					errs <- fmt.Errorf("subscribers(shared) = %v", subs)
					return
				}
				if _, err := s.Events(ctx); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	subs, _ := s.Subscribers(ctx, "shared")
	slices.Sort(subs)
	if want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8}; !slices.Equal(subs, want) {
		t.Fatalf("subscribers(shared) = %v, want %v", subs, want)
	}
	for i := 1; i <= writers; i++ {
		got, _ := s.Subscribers(ctx, fmt.Sprintf("ev-%d", i))
		if !slices.Equal(got, []int{i}) {
			t.Fatalf("subscribers(ev-%d) = %v", i, got)
		}
	}
	pool, _ := s.Events(ctx)
	want := []string{"ev-1", "ev-2", "ev-3", "ev-4", "ev-5", "ev-6", "ev-7", "ev-8", "seed", "shared"}
	if !slices.Equal(pool, want) {
		t.Fatalf("Events() = %v, want %v", pool, want)
	}
}
