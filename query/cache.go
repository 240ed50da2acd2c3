// Package query is a keyed cache of backend reads. Views read through it
// and writers invalidate key prefixes so the next read goes back to the
// backend.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const DefaultSize = 512

// Key is an ordered list of segments, e.g. ["orders", "42"].
type Key []string

// K builds a key from arbitrary segments using their default formatting.
func K(parts ...any) Key {
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = fmt.Sprint(p)
	}
	return k
}

func (k Key) String() string {
	return strings.Join(k, "/")
}

// HasPrefix reports whether every segment of prefix matches k in order.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Listener is told about every invalidated prefix.
type Listener func(prefix Key)

type entry struct {
	key   Key
	value any
}

// inflight counts the callers waiting on one singleflight id.
type inflight struct {
	key     Key
	waiters int
}

type Cache struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, entry]
	group     singleflight.Group
	gen       uint64
	inflight  map[string]inflight
	listeners map[int]Listener
	nextID    int
}

// New returns a cache holding at most size entries. size <= 0 uses
// DefaultSize.
func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, entry](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Cache{
		entries:   entries,
		inflight:  make(map[string]inflight),
		listeners: make(map[int]Listener),
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(key Key) (any, bool) {
	e, ok := c.entries.Get(key.String())
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *Cache) Set(key Key, value any) {
	c.entries.Add(key.String(), entry{key: key, value: value})
}

// Fetch returns the cached value for key or calls fn once for all
// concurrent callers and caches its result. Errors are not cached. A
// result that races with an invalidation is returned to the callers that
// joined before it but not stored; callers arriving after the
// invalidation start a new call.
func (c *Cache) Fetch(ctx context.Context, key Key, fn func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	id := key.String()
	c.mu.Lock()
	gen := c.gen
	f := c.inflight[id]
	c.inflight[id] = inflight{key: key, waiters: f.waiters + 1}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if f := c.inflight[id]; f.waiters <= 1 {
			delete(c.inflight, id)
		} else {
			f.waiters--
			c.inflight[id] = f
		}
		c.mu.Unlock()
	}()

	v, err, _ := c.group.Do(id, func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entries.Add(id, entry{key: key, value: v})
		}
		c.mu.Unlock()
		return v, nil
	})
	return v, err
}

// Invalidate drops every entry whose key starts with prefix and notifies
// listeners. It returns the number of dropped entries.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	c.gen++
	dropped := 0
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if ok && e.key.HasPrefix(prefix) {
			c.entries.Remove(id)
			c.group.Forget(id)
			dropped++
		}
	}
	for id, f := range c.inflight {
		if f.key.HasPrefix(prefix) {
			c.group.Forget(id)
		}
	}
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(prefix)
	}
	return dropped
}

// OnInvalidate registers l and returns a func that removes it.
func (c *Cache) OnInvalidate(l Listener) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Fetch is the typed form of Cache.Fetch.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("query %s: cached %T, want %T", key, v, zero)
	}
	return t, nil
}

// Standard keys shared by readers and the notifier.
var (
	ProductsKey = Key{"products"}
	OrdersKey   = Key{"orders"}
)

func ProductKey(id int64) Key { return K("products", id) }

func OrderKey(id int64) Key { return K("orders", id) }

// UserOrdersKey is the order list of one user. It sits under OrdersKey so
// that invalidating ["orders"] refreshes it.
func UserOrdersKey(userID string) Key { return K("orders", "user", userID) }

// AdminOrdersKey is the admin order list for the active or archived tab.
func AdminOrdersKey(archived bool) Key { return K("orders", "admin", archived) }
