package elif

import (
	"context"

	"github.com/elifgo/elif/internal/container"
)

// Provider builds one instance of T. Lookups made through r are checked
// against the module that owns the binding.
type Provider[T any] func(ctx context.Context, r Resolver) (T, error)

type ProviderOption func(*providerConfig)

type providerConfig struct {
	name        string
	lifetime    Lifetime
	lifetimeSet bool
	deps        []container.Dependency
	exported    bool
	overridable bool
	override    bool
	onInit      []container.Hook
	onShutdown  []container.Hook
}

func newProviderConfig(opts []ProviderOption) *providerConfig {
	cfg := &providerConfig{lifetime: Singleton}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (cfg *providerConfig) binding(key Key, factory container.Factory) *container.Binding {
	return &container.Binding{
		Key:         key,
		Deps:        cfg.deps,
		Lifetime:    cfg.lifetime,
		Factory:     factory,
		Overridable: cfg.overridable,
		Override:    cfg.override,
		Exported:    cfg.exported,
		OnInit:      cfg.onInit,
		OnShutdown:  cfg.onShutdown,
	}
}

// Provide registers a factory for T in module m.
func Provide[T any](m *Module, provider Provider[T], opts ...ProviderOption) *Module {
	cfg := newProviderConfig(opts)
	key := container.KeyOf[T](cfg.name)

	m.addBinding(cfg.binding(key, func(ctx context.Context, r container.Resolver) (any, error) {
		return provider(ctx, r)
	}))
	return m
}

// ProvideValue registers an existing instance as a singleton.
func ProvideValue[T any](m *Module, value T, opts ...ProviderOption) *Module {
	cfg := newProviderConfig(opts)
	cfg.lifetime = Singleton
	key := container.KeyOf[T](cfg.name)

	m.addBinding(cfg.binding(key, func(context.Context, container.Resolver) (any, error) {
		return value, nil
	}))
	return m
}

// Bind makes I resolvable by forwarding to the binding of T. The alias
// takes the lifetime of T's binding.
func Bind[I, T any](m *Module, opts ...ProviderOption) *Module {
	cfg := newProviderConfig(opts)
	key := container.KeyOf[I](cfg.name)
	target := container.KeyOf[T]("")

	if !target.Type.AssignableTo(key.Type) {
		m.fail(errInvalidBind(key, target))
		return m
	}

	b := cfg.binding(key, func(ctx context.Context, r container.Resolver) (any, error) {
		instance, err := r.Resolve(ctx, target)
		if err != nil {
			return nil, err
		}
		typed, ok := instance.(I)
		if !ok {
			return nil, errTypeMismatch(key, instance)
		}
		return typed, nil
	})
	b.Deps = append([]container.Dependency{{Key: target}}, b.Deps...)
	b.AliasOf = &target

	m.addBinding(b)
	return m
}

func WithName(name string) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.name = name
	}
}

func WithLifetime(l Lifetime) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.lifetime = l
		cfg.lifetimeSet = true
	}
}

// WithDependencies declares keys the factory resolves, so composition can
// check them before the first request.
func WithDependencies(keys ...Key) ProviderOption {
	return func(cfg *providerConfig) {
		for _, k := range keys {
			cfg.deps = append(cfg.deps, container.Dependency{Key: k})
		}
	}
}

// WithOptionalDependencies declares keys the factory resolves with
// ResolveOptional. Missing or invisible ones are not composition errors.
func WithOptionalDependencies(keys ...Key) ProviderOption {
	return func(cfg *providerConfig) {
		for _, k := range keys {
			cfg.deps = append(cfg.deps, container.Dependency{Key: k, Optional: true})
		}
	}
}

// Exported makes the binding resolvable from modules that import its
// owner.
func Exported() ProviderOption {
	return func(cfg *providerConfig) {
		cfg.exported = true
	}
}

// Overridable lets a downstream module replace the binding with Override.
func Overridable() ProviderOption {
	return func(cfg *providerConfig) {
		cfg.overridable = true
	}
}

// Override replaces an existing overridable binding with the same key.
func Override() ProviderOption {
	return func(cfg *providerConfig) {
		cfg.override = true
	}
}

// WithOnInit runs fn right after the instance is built. Singletons with
// init hooks are built eagerly during application start.
func WithOnInit[T any](fn func(ctx context.Context, instance T) error) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.onInit = append(cfg.onInit, typedHook(fn))
	}
}

// WithOnShutdown runs fn when the owning container or scope is disposed.
// Hooks run in reverse construction order.
func WithOnShutdown[T any](fn func(ctx context.Context, instance T) error) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.onShutdown = append(cfg.onShutdown, typedHook(fn))
	}
}

func typedHook[T any](fn func(ctx context.Context, instance T) error) container.Hook {
	return func(ctx context.Context, instance any) error {
		typed, ok := instance.(T)
		if !ok {
			return errTypeMismatch(KeyOf[T](), instance)
		}
		return fn(ctx, typed)
	}
}
