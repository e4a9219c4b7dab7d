package evidence

import (
	"fmt"
	"sort"
	"sync"

	"approver/pkg/proto"
)

// Registry maps capabilities to providers. It is populated during startup
// registration, sealed before the first reconcile, and read-only afterwards,
// so it is safely shared across all concurrent reconciles.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	byCap  map[proto.Capability]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		byCap: make(map[proto.Capability]Provider),
	}
}

// Register adds a provider under every capability it advertises. Registering
// after Seal or registering a capability twice is a configuration error.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry sealed - cannot register provider %q", p.Name())
	}

	caps := p.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("provider %q advertises no capabilities", p.Name())
	}
	for _, c := range caps {
		if existing, ok := r.byCap[c]; ok {
			return fmt.Errorf("capability %q already registered by provider %q", c, existing.Name())
		}
	}
	for _, c := range caps {
		r.byCap[c] = p
	}
	return nil
}

// Seal prevents further registrations. Called once startup wiring is done.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup finds the provider advertising the given capability.
func (r *Registry) Lookup(cap proto.Capability) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byCap[cap]
	if !ok {
		return nil, fmt.Errorf("no provider registered for capability %q", cap)
	}
	return p, nil
}

// Has reports whether any provider advertises the capability.
func (r *Registry) Has(cap proto.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCap[cap]
	return ok
}

// Capabilities returns the sorted list of registered capabilities.
func (r *Registry) Capabilities() []proto.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]proto.Capability, 0, len(r.byCap))
	for c := range r.byCap {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}
