package elif

import (
	"time"

	"go.uber.org/zap"
)

type Option func(*appConfig)

type appConfig struct {
	logger     *zap.Logger
	config     *Config
	middleware []Middleware
	registry   *ModuleRegistry

	onResolve  []ResolveHook
	onInit     []LifecycleHook
	onShutdown []LifecycleHook
	onState    []StateHook
}

func newConfig(opts []Option) *appConfig {
	cfg := &appConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.config == nil {
		def := DefaultConfig()
		cfg.config = &def
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger(cfg.config)
	}
	if cfg.registry == nil {
		cfg.registry = defaultRegistry
	}
	return cfg
}

func defaultLogger(cfg *Config) *zap.Logger {
	if !cfg.EnableTracing {
		return zap.NewNop()
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *appConfig) {
		cfg.logger = logger
	}
}

func WithConfig(c Config) Option {
	return func(cfg *appConfig) {
		cfg.config = &c
	}
}

// WithMiddleware adds application middleware. It runs after the built-in
// layers and before module middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(cfg *appConfig) {
		cfg.middleware = append(cfg.middleware, mw...)
	}
}

// WithModuleRegistry resolves ImportID references against reg.
func WithModuleRegistry(reg *ModuleRegistry) Option {
	return func(cfg *appConfig) {
		cfg.registry = reg
	}
}

// ResolveHook observes every resolution made through the container.
type ResolveHook func(key Key, duration time.Duration, err error)

// LifecycleHook observes init and shutdown of one singleton.
type LifecycleHook func(key Key, duration time.Duration, err error)

func WithResolveObserver(hook ResolveHook) Option {
	return func(cfg *appConfig) {
		cfg.onResolve = append(cfg.onResolve, hook)
	}
}

func WithInitObserver(hook LifecycleHook) Option {
	return func(cfg *appConfig) {
		cfg.onInit = append(cfg.onInit, hook)
	}
}

func WithShutdownObserver(hook LifecycleHook) Option {
	return func(cfg *appConfig) {
		cfg.onShutdown = append(cfg.onShutdown, hook)
	}
}

// WithStateObserver is called on every application state transition.
func WithStateObserver(hook StateHook) Option {
	return func(cfg *appConfig) {
		cfg.onState = append(cfg.onState, hook)
	}
}
