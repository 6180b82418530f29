// Package server keeps the set of live clients in a Registry that hands out
// display names on registration and point-in-time snapshots for fan-out.
package server

import (
	"fmt"
	"sync"

	"github.com/Tyrowin/ratechat/internal/metrics"
	"github.com/google/uuid"
)

type member struct {
	client *Client
	name   string
}

// Registry is the set of currently registered clients.
type Registry struct {
	mu      sync.RWMutex
	members map[uuid.UUID]member
	names   NameGenerator
	metrics *metrics.RelayMetrics
}

// NewRegistry creates an empty registry. A nil names uses RandomFullName and
// nil m leaves the metrics unregistered.
func NewRegistry(names NameGenerator, m *metrics.RelayMetrics) *Registry {
	if names == nil {
		names = RandomFullName
	}
	if m == nil {
		m = metrics.NewRelayMetrics(nil)
	}
	return &Registry{
		members: make(map[uuid.UUID]member),
		names:   names,
		metrics: m,
	}
}

// Register adds c and returns its freshly generated display name.
func (r *Registry) Register(c *Client) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[c.ID()]; exists {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.ID())
	}

	// The generator is called under the lock; it need not be safe for concurrent use.
	name := r.names()
	r.members[c.ID()] = member{client: c, name: name}
	r.metrics.ActiveConnections.Set(float64(len(r.members)))
	return name, nil
}

// Unregister removes c. It reports whether c was registered; removing an
// absent client is a no-op.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[c.ID()]; !exists {
		return false
	}
	delete(r.members, c.ID())
	r.metrics.ActiveConnections.Set(float64(len(r.members)))
	return true
}

// Snapshot returns the current members. The slice is a copy and may be
// iterated without holding any lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		clients = append(clients, m.client)
	}
	return clients
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Name returns the display name registered for id.
func (r *Registry) Name(id uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m.name, ok
}
