package elif_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/elifgo/elif"
)

func benchModule() *elif.Module {
	m := provideConfig(elif.NewModule("app"))
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*Database, error) {
		cfg, err := elif.Resolve[*Config](ctx, r)
		return &Database{Config: cfg}, err
	}, elif.WithDependencies(elif.KeyOf[*Config]()), elif.WithLifetime(elif.Scoped))
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*Server, error) {
		return &Server{}, nil
	}, elif.WithLifetime(elif.Transient))
	return m
}

func benchContainer(b *testing.B) *elif.Container {
	plan, err := elif.Compose(benchModule())
	if err != nil {
		b.Fatal(err)
	}
	return elif.NewContainer(plan, elif.WithLogger(zap.NewNop()))
}

func BenchmarkResolve_Singleton(b *testing.B) {
	c := benchContainer(b)
	ctx := context.Background()
	_, _ = elif.Resolve[*Config](ctx, c)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = elif.Resolve[*Config](ctx, c)
	}
}

func BenchmarkResolve_Singleton_Parallel(b *testing.B) {
	c := benchContainer(b)
	ctx := context.Background()
	_, _ = elif.Resolve[*Config](ctx, c)

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = elif.Resolve[*Config](ctx, c)
		}
	})
}

func BenchmarkResolve_Scoped(b *testing.B) {
	c := benchContainer(b)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		scope := c.BeginScope()
		_, _ = elif.Resolve[*Database](ctx, scope)
		_ = scope.Close(ctx)
	}
}

func BenchmarkResolve_Transient(b *testing.B) {
	c := benchContainer(b)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = elif.Resolve[*Server](ctx, c)
	}
}

func BenchmarkCompose(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := elif.Compose(demoModules()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkServeHTTP(b *testing.B) {
	cfg := elif.DefaultConfig()
	cfg.EnableTracing = false
	app := elif.New(demoModules(),
		elif.WithConfig(cfg),
		elif.WithLogger(zap.NewNop()),
		elif.WithModuleRegistry(elif.NewModuleRegistry()),
	)
	if err := app.Init(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer func() { _ = app.Shutdown(context.Background()) }()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hi", nil))
		if rec.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}
