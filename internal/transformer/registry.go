package transformer

import (
	"sort"
	"sync"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

// Registry is the process-wide mapping from transformer name to factory.
// Registration happens at startup plus reload; lookups happen per
// request while chains are built.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a factory under the given name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		logging.Debug("Transformer", "Replacing transformer factory %q", name)
	}
	r.factories[name] = factory
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names lists every registered transformer, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the chain described by the config references, in
// order. Unknown names and factory failures surface as transformer
// errors before any upstream is contacted.
func (r *Registry) Build(refs []config.TransformerRef) (*Chain, error) {
	hooks := make([]*Hooks, 0, len(refs))
	for _, ref := range refs {
		factory, ok := r.Get(ref.Name)
		if !ok {
			return nil, api.NewError(api.ErrTransformer, "unknown transformer %q", ref.Name)
		}
		h, err := factory(ref.Options)
		if err != nil {
			return nil, api.WrapError(api.ErrTransformer, err, "constructing transformer %q: %v", ref.Name, err)
		}
		if h.Name == "" {
			h.Name = ref.Name
		}
		hooks = append(hooks, h)
	}
	return &Chain{hooks: hooks}, nil
}

// BuildForProvider builds the effective chain for one provider/model
// pair: the provider's global chain with the model chain appended.
func (r *Registry) BuildForProvider(p *config.Provider, model string) (*Chain, error) {
	if p.Transformer == nil {
		return &Chain{}, nil
	}
	return r.Build(p.Transformer.ChainFor(model))
}
