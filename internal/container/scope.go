package container

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/elifgo/elif/internal/errs"
)

// Scope is a child of the root container holding Scoped instances for one
// unit of work, normally a request. It is reference counted: the creator
// holds one reference and anything that outlives the creator, such as a
// handler still running after a timeout, takes another with Retain. The
// last Release disposes the scoped instances.
type Scope struct {
	c *Container

	cells sync.Map

	mu    sync.Mutex
	built []built

	refs   atomic.Int32
	closed atomic.Bool
}

func (c *Container) BeginScope() *Scope {
	s := &Scope{c: c}
	s.refs.Store(1)
	c.openScopes.Add(1)
	c.scopesOpened.Add(1)
	return s
}

func (s *Scope) Resolve(ctx context.Context, key Key) (any, error) {
	return s.ResolveFrom(ctx, key, s.c.perspective)
}

func (s *Scope) ResolveFrom(ctx context.Context, key Key, module string) (any, error) {
	if s.closed.Load() {
		return nil, errs.Newf(errs.CodeScopeClosed, "request scope is closed").WithService(key.String())
	}
	f := &frame{c: s.c, scope: s, module: module}
	return f.Resolve(ctx, key)
}

func (s *Scope) ResolveOptional(ctx context.Context, key Key) (any, bool, error) {
	if s.closed.Load() {
		return nil, false, errs.Newf(errs.CodeScopeClosed, "request scope is closed").WithService(key.String())
	}
	f := &frame{c: s.c, scope: s, module: s.c.perspective}
	return f.ResolveOptional(ctx, key)
}

// Retain adds a reference. It reports false if the scope is already
// closed.
func (s *Scope) Retain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference and closes the scope when none remain. Extra
// calls after close are no-ops.
func (s *Scope) Release(ctx context.Context) error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return nil
		}
		if s.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				return s.close(ctx)
			}
			return nil
		}
	}
}

func (s *Scope) Closed() bool {
	return s.closed.Load()
}

func (s *Scope) close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer s.c.openScopes.Add(-1)

	s.mu.Lock()
	instances := s.built
	s.built = nil
	s.mu.Unlock()

	var result error
	for i := len(instances) - 1; i >= 0; i-- {
		result = multierr.Append(result, s.c.dispose(ctx, instances[i]))
	}
	return result
}

func (s *Scope) scoped(ctx context.Context, b *Binding, f *frame) (any, error) {
	v, _ := s.cells.LoadOrStore(b.Key, &cell{})
	cl := v.(*cell)

	if cl.done.Load() {
		return cl.value, nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.done.Load() {
		return cl.value, nil
	}

	instance, err := s.c.construct(ctx, b, f.enter(b, s))
	if err != nil {
		return nil, err
	}

	cl.value = instance
	cl.done.Store(true)

	s.mu.Lock()
	s.built = append(s.built, built{binding: b, instance: instance})
	s.mu.Unlock()

	return instance, nil
}

func (c *Container) dispose(ctx context.Context, item built) error {
	var result error
	for i := len(item.binding.OnShutdown) - 1; i >= 0; i-- {
		if err := item.binding.OnShutdown[i](ctx, item.instance); err != nil {
			c.logger.Warn("shutdown hook failed",
				zap.String("service", item.binding.Key.String()),
				zap.Error(err),
			)
			result = multierr.Append(result, errs.New(
				errs.CodeShutdownFailed, "shutdown hook for "+item.binding.Key.String()+" failed", err,
			).WithService(item.binding.Key.String()))
		}
	}
	return result
}
