package subscription

import (
	"maps"
	"slices"
	"sync"
)

// Subscription is one desired topic subscription.
type Subscription struct {
	Topic       string
	Filters     map[string]any
	Permissions []string
}

// clone returns a copy that shares no maps or slices with s.
func (s Subscription) clone() Subscription {
	out := Subscription{Topic: s.Topic}
	if s.Filters != nil {
		out.Filters = maps.Clone(s.Filters)
	}
	if s.Permissions != nil {
		out.Permissions = slices.Clone(s.Permissions)
	}
	return out
}

// Registry maps topic to Subscription. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Subscription
	order  []string // Insertion order of topics in byName
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Subscription),
	}
}

// Add upserts a subscription. Re-adding a topic replaces its filters and
// permissions but keeps its original position.
func (r *Registry) Add(topic string, filters map[string]any, permissions []string) {
	sub := Subscription{Topic: topic, Filters: filters, Permissions: permissions}.clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[topic]; !exists {
		r.order = append(r.order, topic)
	}
	r.byName[topic] = sub
}

// Remove deletes a topic. Returns true if it was present.
func (r *Registry) Remove(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[topic]; !exists {
		return false
	}
	delete(r.byName, topic)
	if i := slices.Index(r.order, topic); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// Get returns a copy of the subscription for topic.
func (r *Registry) Get(topic string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byName[topic]
	if !ok {
		return Subscription{}, false
	}
	return sub.clone(), true
}

// All returns a snapshot for replay, in insertion order. Consumers must not
// depend on the order for correctness.
func (r *Registry) All() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.order))
	for _, topic := range r.order {
		out = append(out, r.byName[topic].clone())
	}
	return out
}

// Topics returns the subscribed topic names in insertion order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
