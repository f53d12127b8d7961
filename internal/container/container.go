package container

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/elifgo/elif/internal/errs"
)

type ResolveHook func(key Key, duration time.Duration, err error)

type LifecycleHook func(key Key, duration time.Duration, err error)

type Hooks struct {
	OnResolve  []ResolveHook
	OnInit     []LifecycleHook
	OnShutdown []LifecycleHook
}

type Config struct {
	Logger *zap.Logger
	Hooks  Hooks
	// Perspective is the module whose visibility rules apply to
	// Resolve calls made directly on the container or its scopes.
	Perspective string
}

// Stats is a point-in-time view of container activity.
type Stats struct {
	Singletons   int
	OpenScopes   int64
	ScopesOpened int64
}

type Container struct {
	table       *Table
	logger      *zap.Logger
	hooks       Hooks
	perspective string

	singletons sync.Map

	builtMu sync.Mutex
	built   []built

	openScopes   atomic.Int64
	scopesOpened atomic.Int64
	shutdown     atomic.Bool
}

type built struct {
	binding  *Binding
	instance any
}

// cell holds one lazily built instance. value is published by the store
// to done and read only after loading done.
type cell struct {
	mu    sync.Mutex
	done  atomic.Bool
	value any
}

func New(table *Table, cfg *Config) *Container {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Container{
		table:       table,
		logger:      logger,
		hooks:       cfg.Hooks,
		perspective: cfg.Perspective,
	}
}

func (c *Container) Table() *Table {
	return c.table
}

func (c *Container) Resolve(ctx context.Context, key Key) (any, error) {
	return c.ResolveFrom(ctx, key, c.perspective)
}

// ResolveFrom resolves key as seen from module. The empty module bypasses
// visibility checks.
func (c *Container) ResolveFrom(ctx context.Context, key Key, module string) (any, error) {
	f := &frame{c: c, module: module}
	return f.Resolve(ctx, key)
}

func (c *Container) ResolveOptional(ctx context.Context, key Key) (any, bool, error) {
	f := &frame{c: c, module: c.perspective}
	return f.ResolveOptional(ctx, key)
}

func (c *Container) Stats() Stats {
	c.builtMu.Lock()
	n := len(c.built)
	c.builtMu.Unlock()

	return Stats{
		Singletons:   n,
		OpenScopes:   c.openScopes.Load(),
		ScopesOpened: c.scopesOpened.Load(),
	}
}

func (c *Container) singleton(ctx context.Context, b *Binding, f *frame) (any, error) {
	v, _ := c.singletons.LoadOrStore(b.Key, &cell{})
	cl := v.(*cell)

	if cl.done.Load() {
		return cl.value, nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.done.Load() {
		return cl.value, nil
	}

	instance, err := c.construct(ctx, b, f.enter(b, nil))
	if err != nil {
		return nil, err
	}

	cl.value = instance
	cl.done.Store(true)

	c.builtMu.Lock()
	c.built = append(c.built, built{binding: b, instance: instance})
	c.builtMu.Unlock()

	return instance, nil
}

// construct runs the factory and the binding's init hooks. Panics become
// FACTORY_FAILED errors.
func (c *Container) construct(ctx context.Context, b *Binding, f *frame) (instance any, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("factory panicked",
				zap.String("service", b.Key.String()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			instance = nil
			err = errs.Newf(errs.CodeFactoryFailed, "factory for %s panicked: %v", b.Key, r).
				WithService(b.Key.String()).
				WithStack(f.pathStrings())
		}
	}()

	instance, err = b.Factory(ctx, f)
	if err != nil {
		var coded *errs.Error
		if asCoded(err, &coded) {
			return nil, err
		}
		return nil, errs.New(errs.CodeFactoryFailed, "factory for "+b.Key.String()+" failed", err).
			WithService(b.Key.String()).
			WithStack(f.pathStrings())
	}

	for _, hook := range b.OnInit {
		if err := hook(ctx, instance); err != nil {
			return nil, errs.New(errs.CodeInitFailed, "init hook for "+b.Key.String()+" failed", err).
				WithService(b.Key.String())
		}
	}

	c.logger.Debug("constructed service",
		zap.String("service", b.Key.String()),
		zap.Stringer("lifetime", b.Lifetime),
		zap.String("module", b.Module),
		zap.Duration("duration", time.Since(start)),
	)

	return instance, nil
}

func (c *Container) callResolveHooks(key Key, duration time.Duration, err error) {
	for _, hook := range c.hooks.OnResolve {
		hook(key, duration, err)
	}
}

// Instance is a singleton that has been built.
type Instance struct {
	Key   Key
	Value any
}

// Instances returns built singletons in construction order.
func (c *Container) Instances() []Instance {
	c.builtMu.Lock()
	defer c.builtMu.Unlock()

	out := make([]Instance, len(c.built))
	for i, b := range c.built {
		out[i] = Instance{Key: b.binding.Key, Value: b.instance}
	}
	return out
}

// Built reports whether the singleton bound to key has been constructed.
func (c *Container) Built(key Key) bool {
	v, ok := c.singletons.Load(key)
	return ok && v.(*cell).done.Load()
}
