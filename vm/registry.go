package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/lastout/core"
)

// Handler is the function signature every transaction module must implement.
type Handler func(ctx *Context, payload json.RawMessage) error

type entry struct {
	handler Handler
	payable bool
}

// Registry maps TxTypes to Handlers. Thread-safe for concurrent registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]entry)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.register(typ, entry{handler: h})
}

// RegisterPayable is Register for handlers that accept attached value.
func (r *Registry) RegisterPayable(typ core.TxType, h Handler) {
	r.register(typ, entry{handler: h, payable: true})
}

func (r *Registry) register(typ core.TxType, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for TxType %q", typ))
	}
	r.handlers[typ] = e
}

func (r *Registry) lookup(typ core.TxType) (entry, error) {
	r.mu.RLock()
	e, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return entry{}, fmt.Errorf("vm: no handler registered for TxType %q", typ)
	}
	return e, nil
}

// Payable reports whether typ accepts attached value.
func (r *Registry) Payable(typ core.TxType) bool {
	e, err := r.lookup(typ)
	return err == nil && e.payable
}

// Execute dispatches payload to the handler registered for typ.
func (r *Registry) Execute(typ core.TxType, ctx *Context, payload json.RawMessage) error {
	e, err := r.lookup(typ)
	if err != nil {
		return err
	}
	return e.handler(ctx, payload)
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry.
// Module init() functions call this to self-register.
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}

// RegisterPayable adds a value-accepting handler to the global registry.
func RegisterPayable(typ core.TxType, h Handler) {
	globalRegistry.RegisterPayable(typ, h)
}
