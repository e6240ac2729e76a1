package channel

import (
	"fmt"
	"sync"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// Registry holds the registered channel adapters. It must be created via
// NewRegistry and passed explicitly to the components that dispatch sends.
type Registry struct {
	mu       sync.RWMutex
	adapters map[core.Channel]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[core.Channel]Adapter{}}
}

// Register adds an adapter. Registering the same channel twice is an error.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter is nil")
	}
	ch := a.Channel()
	if _, ok := core.ParseChannel(string(ch)); !ok {
		return fmt.Errorf("unknown channel %q", ch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ch]; exists {
		return fmt.Errorf("channel already registered: %s", ch)
	}
	r.adapters[ch] = a
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(a Adapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Get returns the adapter for a channel.
func (r *Registry) Get(ch core.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}
