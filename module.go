package elif

import (
	"slices"
	"sync"

	"github.com/elifgo/elif/internal/container"
	"github.com/elifgo/elif/internal/errs"
)

// Module groups providers, controllers and middleware behind an id.
// Bindings are private to the module unless exported; an exported binding
// is visible to every module that imports its owner, directly or through
// other modules.
type Module struct {
	id          string
	app         bool
	bindings    []*container.Binding
	controllers []*controllerEntry
	imports     []*Module
	importIDs   []string
	exports     []Key
	middleware  []Middleware
	errors      []error
}

func NewModule(id string) *Module {
	return &Module{id: id}
}

func (m *Module) ID() string {
	return m.id
}

// Import makes the exported bindings of mods visible to m.
func (m *Module) Import(mods ...*Module) *Module {
	m.imports = append(m.imports, mods...)
	return m
}

// ImportID imports modules by id. They are looked up in the module
// registry during composition.
func (m *Module) ImportID(ids ...string) *Module {
	m.importIDs = append(m.importIDs, ids...)
	return m
}

// Export exports keys bound by m. Listing a key m only sees through its
// imports is allowed and changes nothing, since exported bindings already
// reach every transitive importer.
func (m *Module) Export(keys ...Key) *Module {
	m.exports = append(m.exports, keys...)
	return m
}

// AsApp marks m as the application root.
func (m *Module) AsApp() *Module {
	m.app = true
	return m
}

func (m *Module) IsApp() bool {
	return m.app
}

// Use contributes middleware that runs inside the application's own
// middleware, in module dependency order.
func (m *Module) Use(mw ...Middleware) *Module {
	m.middleware = append(m.middleware, mw...)
	return m
}

func (m *Module) addBinding(b *container.Binding) {
	b.Module = m.id
	m.bindings = append(m.bindings, b)
}

func (m *Module) fail(err error) {
	m.errors = append(m.errors, err)
}

func (m *Module) exportsKey(key Key) bool {
	return slices.Contains(m.exports, key)
}

// ModuleRegistry is a catalog of modules addressable by id, used for
// ImportID and for discovering the application module.
type ModuleRegistry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	order   []string
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[string]*Module)}
}

func (r *ModuleRegistry) Register(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.id == "" {
		return errs.Newf(ErrCodeInvalidModule, "module id is empty")
	}
	if existing, ok := r.modules[m.id]; ok && existing != m {
		return errs.Newf(ErrCodeInvalidModule, "module %q is registered twice", m.id)
	}
	if _, ok := r.modules[m.id]; !ok {
		r.order = append(r.order, m.id)
	}
	r.modules[m.id] = m
	return nil
}

func (r *ModuleRegistry) Lookup(id string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[id]
	return m, ok
}

func (r *ModuleRegistry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Module, len(r.order))
	for i, id := range r.order {
		out[i] = r.modules[id]
	}
	return out
}

// App returns the single registered module marked with AsApp.
func (r *ModuleRegistry) App() (*Module, error) {
	var apps []*Module
	for _, m := range r.Modules() {
		if m.app {
			apps = append(apps, m)
		}
	}

	switch len(apps) {
	case 1:
		return apps[0], nil
	case 0:
		return nil, errs.Newf(ErrCodeInvalidModule, "no module is marked as the application")
	default:
		ids := make([]string, len(apps))
		for i, m := range apps {
			ids[i] = m.id
		}
		return nil, errs.Newf(ErrCodeInvalidModule, "several modules are marked as the application: %v", ids)
	}
}

var defaultRegistry = NewModuleRegistry()

// RegisterModule adds m to the process-wide registry, typically from an
// init function, and returns it.
func RegisterModule(m *Module) *Module {
	if err := defaultRegistry.Register(m); err != nil {
		panic(err)
	}
	return m
}

// Discover returns the application module of the process-wide registry.
func Discover() (*Module, error) {
	return defaultRegistry.App()
}

func DefaultModuleRegistry() *ModuleRegistry {
	return defaultRegistry
}

func errInvalidBind(alias, target Key) *Error {
	return errs.Newf(ErrCodeInvalidModule, "%s cannot be bound to %s", alias, target).WithService(alias.String())
}
