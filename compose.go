package elif

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/multierr"

	"github.com/elifgo/elif/internal/container"
	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/graph"
	"github.com/elifgo/elif/internal/router"
)

// Plan is the result of composition: the frozen bindings with their
// visibility, the route table and the module middleware. It is immutable
// and may be shared by any number of containers.
type Plan struct {
	app        *Module
	modules    []*Module
	imports    map[string][]string
	table      *container.Table
	routes     *router.Table
	middleware []Middleware
}

type ComposeOption func(*composeConfig)

type composeConfig struct {
	registry *ModuleRegistry
}

// WithRegistry resolves ImportID references against reg instead of the
// process-wide registry.
func WithRegistry(reg *ModuleRegistry) ComposeOption {
	return func(cfg *composeConfig) {
		cfg.registry = reg
	}
}

// ComposeRegistry composes the application module registered in reg.
func ComposeRegistry(reg *ModuleRegistry) (*Plan, error) {
	app, err := reg.App()
	if err != nil {
		return nil, compositionFailed("<registry>", err)
	}
	return Compose(app, WithRegistry(reg))
}

// Compose merges app and everything it imports into a Plan. Every problem
// found is reported at once in a single COMPOSITION_FAILED error.
func Compose(app *Module, opts ...ComposeOption) (*Plan, error) {
	cfg := composeConfig{registry: defaultRegistry}
	for _, opt := range opts {
		opt(&cfg)
	}

	if app == nil {
		return nil, compositionFailed("", errs.Newf(ErrCodeInvalidModule, "application module is nil"))
	}

	c := &composer{
		registry: cfg.registry,
		byID:     make(map[string]*Module),
		imports:  make(map[string][]string),
	}

	c.collect(app)
	order := c.order()
	if order == nil {
		return nil, compositionFailed(app.id, c.problems)
	}

	plan := &Plan{
		app:     app,
		modules: order,
		imports: c.imports,
		routes:  router.New(),
	}

	reg := container.NewRegistry()
	c.addBindings(reg, order)
	c.applyVisibility(reg, order)
	c.addRoutes(plan.routes, order)

	plan.table = reg.Freeze()
	c.checkExports(plan.table, order)
	c.fail(container.Validate(plan.table))

	for _, m := range order {
		plan.middleware = append(plan.middleware, m.middleware...)
	}

	if c.problems != nil {
		return nil, compositionFailed(app.id, c.problems)
	}
	return plan, nil
}

func compositionFailed(app string, problems error) *Error {
	n := len(multierr.Errors(problems))
	return errs.New(ErrCodeCompositionFailed,
		fmt.Sprintf("composition of module %q failed with %d problem(s)", app, n), problems)
}

type composer struct {
	registry *ModuleRegistry
	problems error

	discovered []*Module
	byID       map[string]*Module
	imports    map[string][]string
}

func (c *composer) fail(err error) {
	c.problems = multierr.Append(c.problems, err)
}

// collect walks the import graph breadth first from app.
func (c *composer) collect(app *Module) {
	queue := []*Module{app}
	seen := map[*Module]bool{app: true}

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		if m.id == "" {
			c.fail(errs.Newf(ErrCodeInvalidModule, "module with empty id"))
			continue
		}
		if other, ok := c.byID[m.id]; ok && other != m {
			c.fail(errs.Newf(ErrCodeInvalidModule, "two different modules use id %q", m.id))
			continue
		}
		c.byID[m.id] = m
		c.discovered = append(c.discovered, m)

		for _, err := range m.errors {
			c.fail(err)
		}

		deps := make([]*Module, 0, len(m.imports)+len(m.importIDs))
		for _, imp := range m.imports {
			if imp == nil {
				c.fail(errs.Newf(ErrCodeInvalidModule, "module %q imports a nil module", m.id))
				continue
			}
			deps = append(deps, imp)
		}
		for _, id := range m.importIDs {
			imp, ok := c.registry.Lookup(id)
			if !ok {
				c.fail(errs.Newf(ErrCodeUnknownModule, "module %q imports unknown module %q", m.id, id))
				continue
			}
			deps = append(deps, imp)
		}

		for _, imp := range deps {
			if !containsString(c.imports[m.id], imp.id) {
				c.imports[m.id] = append(c.imports[m.id], imp.id)
			}
			if !seen[imp] {
				seen[imp] = true
				queue = append(queue, imp)
			}
		}
	}
}

// order sorts modules so that imports come first. It returns nil after
// reporting import cycles.
func (c *composer) order() []*Module {
	g := graph.New()
	for _, m := range c.discovered {
		g.AddNode(m.id, c.imports[m.id])
	}

	if cycles := g.Cycles(); len(cycles) > 0 {
		for _, cycle := range cycles {
			c.fail(errs.Newf(ErrCodeImportCycle, "import cycle: %s", strings.Join(cycle, " -> ")).
				WithStack(cycle))
		}
		return nil
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		c.fail(errs.New(ErrCodeImportCycle, "cannot order modules", err))
		return nil
	}

	out := make([]*Module, 0, len(sorted))
	for _, id := range sorted {
		if m, ok := c.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// addBindings registers every binding in module order. Overrides are
// applied after all regular bindings so that an override never depends
// on declaration order.
func (c *composer) addBindings(reg *container.Registry, order []*Module) {
	for _, overrides := range []bool{false, true} {
		for _, m := range order {
			for _, b := range m.bindings {
				if b.Override != overrides {
					continue
				}
				nb := *b
				nb.Module = m.id
				nb.Exported = nb.Exported || m.exportsKey(nb.Key)
				c.fail(reg.Add(&nb))
			}
		}
	}
}

// applyVisibility computes which modules may resolve each binding. A
// binding is visible to its own module and, when exported, to every module
// that imports it directly or transitively. An override is also visible
// wherever the binding it replaced was.
func (c *composer) applyVisibility(reg *container.Registry, order []*Module) {
	for _, b := range reg.Bindings() {
		seeds := append([]string{b.Module}, b.Replaced...)
		b.SetVisibility(c.visibility(seeds, b.Exported, order))
	}
}

func (c *composer) visibility(owners []string, exported bool, order []*Module) []string {
	visible := make(map[string]bool)
	for _, id := range owners {
		visible[id] = true
	}

	for changed := exported; changed; {
		changed = false
		for _, m := range order {
			if visible[m.id] {
				continue
			}
			if slices.ContainsFunc(c.imports[m.id], func(imp string) bool { return visible[imp] }) {
				visible[m.id] = true
				changed = true
			}
		}
	}

	out := make([]string, 0, len(visible))
	for _, m := range order {
		if visible[m.id] {
			out = append(out, m.id)
		}
	}
	return out
}

func (c *composer) checkExports(table *container.Table, order []*Module) {
	for _, m := range order {
		for _, key := range m.exports {
			b, err := table.Lookup(key)
			if err != nil {
				c.fail(errs.Newf(ErrCodeInvalidModule, "module %q exports %s which is not bound", m.id, key).
					WithService(key.String()))
				continue
			}
			if !b.VisibleTo(m.id) {
				c.fail(errs.Newf(ErrCodeNotVisible, "module %q exports %s but cannot see it", m.id, key).
					WithService(key.String()))
			}
		}
	}
}

func (c *composer) addRoutes(table *router.Table, order []*Module) {
	for _, m := range order {
		for _, ctrl := range m.controllers {
			for _, e := range ctrl.routes {
				pattern := router.Join(ctrl.base, e.path)

				normalized, segments, err := router.ParsePattern(pattern)
				if err != nil {
					c.fail(err)
					continue
				}
				if err := e.checkParams(normalized, segments); err != nil {
					c.fail(err)
					continue
				}
				if _, err := table.Add(e.method, pattern, &boundRoute{controller: ctrl, entry: e}, e.cfg.name); err != nil {
					c.fail(err)
				}
			}
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (p *Plan) App() string {
	return p.app.id
}

// Modules returns module ids, imports first.
func (p *Plan) Modules() []string {
	out := make([]string, len(p.modules))
	for i, m := range p.modules {
		out[i] = m.id
	}
	return out
}

// Imports returns the ids module imports directly.
func (p *Plan) Imports(module string) []string {
	return append([]string(nil), p.imports[module]...)
}

// Warnings lists non-fatal composition findings, such as typed route
// placeholders that shadow each other.
func (p *Plan) Warnings() []string {
	return p.routes.Warnings()
}

func (p *Plan) Middleware() []Middleware {
	return append([]Middleware(nil), p.middleware...)
}

// BindingInfo describes one composed binding.
type BindingInfo struct {
	Key          string
	Module       string
	Lifetime     Lifetime
	Exported     bool
	Overridable  bool
	Dependencies []string
	VisibleTo    []string
	Replaced     []string
}

func (p *Plan) Bindings() []BindingInfo {
	bindings := p.table.Bindings()
	out := make([]BindingInfo, len(bindings))
	for i, b := range bindings {
		deps := make([]string, len(b.Deps))
		for j, d := range b.Deps {
			deps[j] = d.Key.String()
		}
		out[i] = BindingInfo{
			Key:          b.Key.String(),
			Module:       b.Module,
			Lifetime:     b.Lifetime,
			Exported:     b.Exported,
			Overridable:  b.Overridable,
			Dependencies: deps,
			VisibleTo:    b.Visibility(),
			Replaced:     append([]string(nil), b.Replaced...),
		}
	}
	return out
}

// RouteInfo describes one route of the composed table.
type RouteInfo struct {
	Method     string
	Pattern    string
	Name       string
	Controller string
	Module     string
}

func (p *Plan) Routes() []RouteInfo {
	routes := p.routes.Routes()
	out := make([]RouteInfo, len(routes))
	for i, r := range routes {
		bound := r.Handler.(*boundRoute)
		out[i] = RouteInfo{
			Method:     r.Method,
			Pattern:    r.Pattern,
			Name:       r.Name,
			Controller: bound.controller.key.String(),
			Module:     bound.controller.module,
		}
	}
	return out
}

// Route resolves method and path against the route table without
// running anything.
func (p *Plan) Route(method, path string) (RouteInfo, error) {
	m, err := p.routes.Match(method, path)
	if err != nil {
		return RouteInfo{}, err
	}
	bound := m.Route.Handler.(*boundRoute)
	return RouteInfo{
		Method:     m.Route.Method,
		Pattern:    m.Route.Pattern,
		Name:       m.Route.Name,
		Controller: bound.controller.key.String(),
		Module:     bound.controller.module,
	}, nil
}
