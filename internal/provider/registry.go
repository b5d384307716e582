package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
)

// Status tracks a registered adapter's last known health, mirroring the
// teacher's ProviderStatus shape but scoped to the narrower Adapter
// contract.
type Status struct {
	AdapterID string
	Healthy   bool
	LastCheck time.Time
	LastError string
}

// Registry is a concurrency-safe map of named Adapters plus per-adapter
// health status, generalized from the teacher's Registry (which indexes by
// MediaType as well; this registry does not, since every adapter here
// handles whichever kinds it is configured for and the reconciliation
// service picks an adapter by Title.Provider, not by kind).
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	statuses map[string]*Status
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		statuses: make(map[string]*Status),
	}
}

// Register adds an adapter. Registering the same AdapterID twice is an
// error, matching the teacher's registry semantics.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return catalogerr.New(catalogerr.ConfigError, "cannot register nil adapter")
	}
	id := a.AdapterID()
	if id == "" {
		return catalogerr.New(catalogerr.ConfigError, "adapter must have a non-empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; exists {
		return catalogerr.New(catalogerr.Duplicate, fmt.Sprintf("adapter %q already registered", id))
	}
	r.adapters[id] = a
	r.statuses[id] = &Status{AdapterID: id}
	return nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.adapters[id]
	if !exists {
		return nil, catalogerr.New(catalogerr.ProviderUnavailable, fmt.Sprintf("adapter %q not registered", id))
	}
	return a, nil
}

// List returns the registered adapter ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// MarkHealthy/MarkUnhealthy record the outcome of the last call made
// through an adapter; the reconciliation service records each Resolve
// outcome here. A recorded failure does not make the reconciliation
// service skip that adapter: the next tick calls it again.
func (r *Registry) MarkHealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.statuses[id]; ok {
		s.Healthy = true
		s.LastCheck = time.Now()
		s.LastError = ""
	}
}

func (r *Registry) MarkUnhealthy(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.statuses[id]; ok {
		s.Healthy = false
		s.LastCheck = time.Now()
		if err != nil {
			s.LastError = err.Error()
		}
	}
}

func (r *Registry) StatusOf(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// CheckAll runs a lightweight health probe (adapter.Search with an empty
// query) against every registered adapter concurrently, updating statuses.
// Grounded on the teacher's Registry.CheckAllProviders concurrent fan-out
// shape, narrowed to the Adapter interface (no dedicated HealthCheck method
// here; Search doubles as the liveness probe since every adapter must
// implement it anyway).
func (r *Registry) CheckAll(ctx context.Context) {
	r.mu.RLock()
	adapters := make(map[string]Adapter, len(r.adapters))
	for id, a := range r.adapters {
		adapters[id] = a
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for id, a := range adapters {
		wg.Add(1)
		go func(id string, a Adapter) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			_, err := a.Search(checkCtx, "")
			if err != nil {
				r.MarkUnhealthy(id, err)
				return
			}
			r.MarkHealthy(id)
		}(id, a)
	}
	wg.Wait()
}
