package container

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/lifetime"
)

// frame is the Resolver handed to one factory invocation. It carries the
// binding being built, the module it belongs to, the active scope and the
// chain of keys currently under construction.
type frame struct {
	c      *Container
	scope  *Scope
	caller *Binding
	module string
	path   []Key
}

func (f *frame) enter(b *Binding, scope *Scope) *frame {
	path := make([]Key, len(f.path), len(f.path)+1)
	copy(path, f.path)

	return &frame{
		c:      f.c,
		scope:  scope,
		caller: b,
		module: b.Module,
		path:   append(path, b.Key),
	}
}

func (f *frame) pathStrings() []string {
	out := make([]string, len(f.path))
	for i, k := range f.path {
		out[i] = k.String()
	}
	return out
}

func (f *frame) Resolve(ctx context.Context, key Key) (any, error) {
	start := time.Now()
	instance, err := f.resolve(ctx, key)
	f.c.callResolveHooks(key, time.Since(start), err)
	return instance, err
}

func (f *frame) ResolveOptional(ctx context.Context, key Key) (any, bool, error) {
	instance, err := f.Resolve(ctx, key)
	if err != nil {
		if errs.Has(err, errs.CodeServiceNotFound) && isOwnLookupFailure(err, key) {
			return nil, false, nil
		}
		if errs.Has(err, errs.CodeNotVisible) && isOwnLookupFailure(err, key) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return instance, true, nil
}

// isOwnLookupFailure distinguishes a missing key from a missing transitive
// dependency of key, which must still fail.
func isOwnLookupFailure(err error, key Key) bool {
	var coded *errs.Error
	return asCoded(err, &coded) && coded.Service == key.String()
}

func (f *frame) resolve(ctx context.Context, key Key) (any, error) {
	if f.c.shutdown.Load() {
		return nil, errs.Newf(errs.CodeScopeClosed, "container is shut down").WithService(key.String())
	}

	b, err := f.c.table.LookupFrom(key, f.module)
	if err != nil {
		return nil, err
	}

	if !b.VisibleTo(f.module) {
		return nil, errs.Newf(
			errs.CodeNotVisible,
			"%s belongs to module %q and is not visible from module %q", b.Key, b.Module, f.module,
		).WithService(key.String())
	}

	if f.caller != nil && !f.caller.Lifetime.CanDependOn(b.Lifetime) {
		return nil, errs.Newf(
			errs.CodeScopeViolation,
			"%s %s cannot depend on %s %s", f.caller.Lifetime, f.caller.Key, b.Lifetime, b.Key,
		).WithService(key.String())
	}

	for _, k := range f.path {
		if k == b.Key {
			cycle := append(f.pathStrings(), b.Key.String())
			return nil, errs.Newf(
				errs.CodeCircularDependency,
				"circular dependency: %s", strings.Join(cycle, " -> "),
			).WithService(b.Key.String()).WithStack(cycle)
		}
	}

	if err := ctx.Err(); err != nil {
		code := errs.CodeCancelled
		if errors.Is(err, context.DeadlineExceeded) {
			code = errs.CodeTimeout
		}
		return nil, errs.New(code, "resolution of "+b.Key.String()+" interrupted", err)
	}

	switch b.Lifetime {
	case lifetime.Singleton:
		return f.c.singleton(ctx, b, f)
	case lifetime.Scoped:
		if f.scope == nil {
			return nil, errs.Newf(
				errs.CodeScopeViolation,
				"%s is scoped and needs an active request scope", b.Key,
			).WithService(key.String())
		}
		return f.scope.scoped(ctx, b, f)
	default:
		return f.c.construct(ctx, b, f.enter(b, f.scope))
	}
}

func asCoded(err error, target **errs.Error) bool {
	return errors.As(err, target)
}
