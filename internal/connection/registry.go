package connection

import (
	"sync"

	"github.com/rickgao/agora/internal/model"
)

// Registry records the (symbol, channel) pairs already sent on a connection.
// It holds no network logic.
type Registry struct {
	mu    sync.Mutex
	set   map[model.Subscription]struct{}
	order []model.Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{set: make(map[model.Subscription]struct{})}
}

// Add records the pair and reports whether it was newly added.
func (r *Registry) Add(symbol string, ch model.Channel) bool {
	sub := model.Subscription{Symbol: symbol, Channel: ch}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.set[sub]; exists {
		return false
	}
	r.set[sub] = struct{}{}
	r.order = append(r.order, sub)
	return true
}

// Contains reports whether the pair is recorded.
func (r *Registry) Contains(symbol string, ch model.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[model.Subscription{Symbol: symbol, Channel: ch}]
	return ok
}

// Clear forgets every pair.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.set)
	r.order = nil
}

// Len returns the number of recorded pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// List returns the recorded pairs in insertion order.
func (r *Registry) List() []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Subscription(nil), r.order...)
}
