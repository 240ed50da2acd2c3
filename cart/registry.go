package cart

import "sync"

// Registry hands out one Cart per user.
type Registry struct {
	mu    sync.Mutex
	carts map[string]*Cart
	deps  Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		carts: make(map[string]*Cart),
		deps:  deps,
	}
}

// Cart returns the user's cart, creating an empty one on first use.
func (r *Registry) Cart(userID string) *Cart {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[userID]
	if !ok {
		c = New(userID, r.deps)
		r.carts[userID] = c
	}
	return c
}

// Drop forgets the user's cart.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}
