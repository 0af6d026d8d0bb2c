package provider

import (
	"fmt"
	"sort"
	"sync"
)

var (
	mu       sync.RWMutex
	registry = make(map[string]Adapter)
)

// Register adds an adapter to the global registry.
// Typically called from adapter package init() functions.
func Register(a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	registry[a.Name()] = a
}

// Get returns an adapter by provider name. Returns an error if not found.
func Get(name string) (Adapter, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return a, nil
}

// List returns all registered provider names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
