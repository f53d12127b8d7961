package container

import (
	"strings"

	"go.uber.org/multierr"

	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/graph"
)

// Validate checks the frozen table before any instance is built: every
// required dependency must exist and be visible to the depending binding,
// lifetimes must be compatible and the dependency graph must be acyclic.
// All problems are reported together.
func Validate(t *Table) error {
	var result error

	g := graph.New()
	for _, b := range t.order {
		g.AddNode(b.Key.String(), nil)
	}

	for _, b := range t.order {
		for _, dep := range b.Deps {
			target, err := t.LookupFrom(dep.Key, b.Module)
			if err != nil {
				if dep.Optional && errs.Has(err, errs.CodeServiceNotFound) {
					continue
				}
				if errs.Has(err, errs.CodeServiceNotFound) {
					err = errs.Newf(
						errs.CodeMissingDependency,
						"%s (module %q) depends on %s which is not bound", b.Key, b.Module, dep.Key,
					).WithService(b.Key.String())
				}
				result = multierr.Append(result, err)
				continue
			}

			if !target.VisibleTo(b.Module) {
				if dep.Optional {
					continue
				}
				result = multierr.Append(result, errs.Newf(
					errs.CodeNotVisible,
					"%s (module %q) depends on %s which module %q does not export to it",
					b.Key, b.Module, target.Key, target.Module,
				).WithService(b.Key.String()))
				continue
			}

			if !b.Lifetime.CanDependOn(target.Lifetime) {
				result = multierr.Append(result, errs.Newf(
					errs.CodeScopeViolation,
					"%s %s cannot depend on %s %s", b.Lifetime, b.Key, target.Lifetime, target.Key,
				).WithService(b.Key.String()))
			}

			g.AddEdge(b.Key.String(), target.Key.String())
		}
	}

	for _, cycle := range g.Cycles() {
		result = multierr.Append(result, errs.Newf(
			errs.CodeCircularDependency,
			"circular dependency: %s", strings.Join(cycle, " -> "),
		).WithService(cycle[0]).WithStack(cycle))
	}

	return result
}

// DependencyGraph returns the binding graph keyed by Key.String(), with
// edges only to bindings present in t.
func DependencyGraph(t *Table) *graph.Graph {
	g := graph.New()
	for _, b := range t.order {
		g.AddNode(b.Key.String(), nil)
	}
	for _, b := range t.order {
		for _, dep := range b.Deps {
			if target, err := t.LookupFrom(dep.Key, b.Module); err == nil {
				g.AddEdge(b.Key.String(), target.Key.String())
			}
		}
	}
	return g
}
