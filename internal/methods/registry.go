package methods

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/relational"
)

// Method describes one translatable or client-evaluable method.
//
// Instance methods are keyed by receiver kind ("string.Contains"); static
// methods by their declaring type ("Math.Abs"). Translate is nil for
// methods that only evaluate on the client.
type Method struct {
	// Type is the receiver kind for instance methods or the declaring type
	// name for static methods.
	Type   string
	Name   string
	Static bool
	// Arity counts arguments, excluding the receiver.
	Arity int
	// Result is the result kind; KindUnknown means "same as the receiver,
	// or the first argument for static methods".
	Result ir.Kind
	// Nullable is true when the method can return null for non-null input.
	Nullable bool

	// Translate builds the SQL form. recv is nil for static methods.
	Translate func(recv relational.Scalar, args []relational.Scalar) relational.Scalar
	// Eval computes the method on the client over runtime values.
	Eval func(recv any, args []any) (any, error)
}

// Key returns the registry key of m.
func (m *Method) Key() string {
	return key(m.Type, m.Name, m.Arity)
}

// Translatable reports whether m has a SQL form.
func (m *Method) Translatable() bool {
	return m.Translate != nil
}

// ResultKind resolves the result kind for a call.
func (m *Method) ResultKind(recv ir.Kind, args []ir.Kind) ir.Kind {
	if m.Result != ir.KindUnknown {
		return m.Result
	}
	if !m.Static {
		return recv
	}
	if len(args) > 0 {
		return args[0]
	}
	return ir.KindUnknown
}

func key(typ, name string, arity int) string {
	return fmt.Sprintf("%s.%s/%d", typ, name, arity)
}

// Registry resolves method calls found in query trees. It is safe for
// concurrent use; registration normally happens once at startup.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Method
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Register adds m. Registering the same key twice is an error.
func (r *Registry) Register(m *Method) error {
	if m.Name == "" || m.Type == "" {
		return fmt.Errorf("method needs a type and a name")
	}
	if m.Eval == nil {
		return fmt.Errorf("method %s has no client implementation", m.Key())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := m.Key()
	if _, exists := r.methods[k]; exists {
		return fmt.Errorf("method %s already registered", k)
	}
	r.methods[k] = m
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(m *Method) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Instance looks up an instance method on a receiver of the given kind.
func (r *Registry) Instance(recv ir.Kind, name string, arity int) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[key(string(recv), name, arity)]
	if !ok || m.Static {
		return nil, false
	}
	return m, true
}

// Static looks up a static method such as Math.Abs.
func (r *Registry) Static(typ, name string, arity int) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[key(typ, name, arity)]
	if !ok || !m.Static {
		return nil, false
	}
	return m, true
}

// Keys returns all registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.methods))
	for k := range r.methods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
