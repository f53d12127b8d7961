package elif

import (
	"context"

	"go.uber.org/zap"

	"github.com/elifgo/elif/internal/container"
)

// Container resolves services from a composed Plan. Singletons live as
// long as the container; Scoped services live in a Scope.
type Container struct {
	plan     *Plan
	internal *container.Container
	logger   *zap.Logger
}

// NewContainer builds the root container for plan. No instance is built
// until it is resolved or Initialize runs.
func NewContainer(plan *Plan, opts ...Option) *Container {
	cfg := newConfig(opts)
	return newContainer(plan, cfg)
}

func newContainer(plan *Plan, cfg *appConfig) *Container {
	hooks := container.Hooks{}
	for _, h := range cfg.onResolve {
		hooks.OnResolve = append(hooks.OnResolve, container.ResolveHook(h))
	}
	for _, h := range cfg.onInit {
		hooks.OnInit = append(hooks.OnInit, container.LifecycleHook(h))
	}
	for _, h := range cfg.onShutdown {
		hooks.OnShutdown = append(hooks.OnShutdown, container.LifecycleHook(h))
	}

	return &Container{
		plan: plan,
		internal: container.New(plan.table, &container.Config{
			Logger: cfg.logger.Named("container"),
			Hooks:  hooks,
		}),
		logger: cfg.logger,
	}
}

func (c *Container) Plan() *Plan {
	return c.plan
}

// Resolve builds or returns the instance bound to key. Resolving from the
// root container ignores module visibility; Scoped keys need a Scope.
func (c *Container) Resolve(ctx context.Context, key Key) (any, error) {
	return c.internal.Resolve(ctx, key)
}

func (c *Container) ResolveOptional(ctx context.Context, key Key) (any, bool, error) {
	return c.internal.ResolveOptional(ctx, key)
}

// ResolveFrom resolves key with the visibility rules of module.
func (c *Container) ResolveFrom(ctx context.Context, key Key, module string) (any, error) {
	return c.internal.ResolveFrom(ctx, key, module)
}

// Has reports whether key is bound.
func (c *Container) Has(key Key) bool {
	return c.plan.table.Has(key)
}

func (c *Container) Size() int {
	return c.plan.table.Len()
}

// BeginScope opens a scope. Close it when the unit of work ends.
func (c *Container) BeginScope() *Scope {
	return &Scope{inner: c.internal.BeginScope()}
}

// Initialize builds every singleton that has init hooks, dependencies
// first. Independent singletons are built concurrently.
func (c *Container) Initialize(ctx context.Context) error {
	return c.internal.Init(ctx)
}

// Shutdown runs shutdown hooks of built singletons in reverse
// construction order. Later resolves fail with SCOPE_CLOSED.
func (c *Container) Shutdown(ctx context.Context) error {
	return c.internal.Shutdown(ctx)
}

type Stats = container.Stats

func (c *Container) Stats() Stats {
	return c.internal.Stats()
}

// Scope holds the Scoped instances of one unit of work, normally one
// request.
type Scope struct {
	inner *container.Scope
}

func (s *Scope) Resolve(ctx context.Context, key Key) (any, error) {
	return s.inner.Resolve(ctx, key)
}

func (s *Scope) ResolveOptional(ctx context.Context, key Key) (any, bool, error) {
	return s.inner.ResolveOptional(ctx, key)
}

func (s *Scope) ResolveFrom(ctx context.Context, key Key, module string) (any, error) {
	return s.inner.ResolveFrom(ctx, key, module)
}

// Retain keeps the scope open past Close until a matching Release.
func (s *Scope) Retain() bool {
	return s.inner.Retain()
}

func (s *Scope) Release(ctx context.Context) error {
	return s.inner.Release(ctx)
}

// Close drops the creator's reference. Scoped instances are disposed once
// no reference remains.
func (s *Scope) Close(ctx context.Context) error {
	return s.inner.Release(ctx)
}

func (s *Scope) Closed() bool {
	return s.inner.Closed()
}
