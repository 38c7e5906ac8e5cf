package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// Options carries per-adapter knobs. Broker-specific settings live here
// instead of widening the Adapter interface.
type Options struct {
	BaseURL         string
	DefaultExchange string
	Timeout         string // override of the transport timeout, parsed by the adapter
}

// Factory builds an adapter instance from options.
type Factory func(opts Options) Adapter

// Registry maps broker kinds (and their aliases) to factories. It is built at
// startup and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	kinds     map[domain.BrokerKind]bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		kinds:     make(map[domain.BrokerKind]bool),
	}
}

// DefaultRegistry returns a registry with every built-in adapter registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.BrokerPaper, NewPaperAdapterFactory(), "paper", "paper-trading", "simulator")
	r.Register(domain.BrokerAngelOne, NewAngelOneFactory(), "angel", "angel-one", "angelone", "smartapi")
	r.Register(domain.BrokerZerodha, NewZerodhaFactory(), "kite", "zerodha_kite")
	r.Register(domain.BrokerFyers, NewFyersFactory())
	r.Register(domain.BrokerDhan, NewDhanFactory())
	return r
}

// NormalizeKind canonicalises a user-supplied broker name.
func NormalizeKind(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Register binds a factory to a kind plus any aliases.
func (r *Registry) Register(kind domain.BrokerKind, f Factory, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[NormalizeKind(string(kind))] = f
	for _, alias := range aliases {
		r.factories[NormalizeKind(alias)] = f
	}
	r.kinds[kind] = true
}

// Get builds an adapter for the named broker kind.
func (r *Registry) Get(name string, opts Options) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[NormalizeKind(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broker: adapter %q is not registered: %w", name, domain.ErrNotFound)
	}
	return f(opts), nil
}

// Supported returns the canonical kinds in sorted order.
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for kind := range r.kinds {
		out = append(out, string(kind))
	}
	sort.Strings(out)
	return out
}
