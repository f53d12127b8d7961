package elif_test

import (
	"context"
	"strings"
	"testing"

	"github.com/elifgo/elif"
)

type RequestState struct{ ID int }

func scopedModule(disposed *[]string) *elif.Module {
	m := elif.NewModule("app")
	counter := 0
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*RequestState, error) {
		counter++
		return &RequestState{ID: counter}, nil
	}, elif.WithLifetime(elif.Scoped), elif.WithOnShutdown(func(ctx context.Context, s *RequestState) error {
		*disposed = append(*disposed, "state")
		return nil
	}))
	return m
}

func TestScopeIsolation(t *testing.T) {
	t.Parallel()

	var disposed []string
	c := newContainer(t, scopedModule(&disposed))
	ctx := context.Background()

	first := c.BeginScope()
	a1 := elif.MustResolve[*RequestState](ctx, first)
	a2 := elif.MustResolve[*RequestState](ctx, first)
	if a1 != a2 {
		t.Error("a scoped service must be shared within one scope")
	}

	second := c.BeginScope()
	b := elif.MustResolve[*RequestState](ctx, second)
	if a1 == b {
		t.Error("a scoped service must not be shared between scopes")
	}

	_ = first.Close(ctx)
	_ = second.Close(ctx)

	if strings.Join(disposed, ",") != "state,state" {
		t.Errorf("expected both scoped instances disposed, got %v", disposed)
	}
	if got := c.Stats(); got.OpenScopes != 0 || got.ScopesOpened != 2 {
		t.Errorf("unexpected stats %+v", got)
	}
}

func TestScopedFromRootFails(t *testing.T) {
	t.Parallel()

	var disposed []string
	c := newContainer(t, scopedModule(&disposed))

	_, err := elif.Resolve[*RequestState](context.Background(), c)
	if !elif.IsScopeViolation(err) {
		t.Errorf("expected SCOPE_VIOLATION, got %v", err)
	}
}

func TestSingletonCannotDependOnScoped(t *testing.T) {
	t.Parallel()

	var disposed []string
	m := scopedModule(&disposed)
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*Server, error) {
		return &Server{}, nil
	}, elif.WithDependencies(elif.KeyOf[*RequestState]()))

	_, err := elif.Compose(m)
	if !elif.IsScopeViolation(err) {
		t.Errorf("expected SCOPE_VIOLATION, got %v", err)
	}
}

func TestRetainDefersDisposal(t *testing.T) {
	t.Parallel()

	var disposed []string
	c := newContainer(t, scopedModule(&disposed))
	ctx := context.Background()

	scope := c.BeginScope()
	elif.MustResolve[*RequestState](ctx, scope)

	if !scope.Retain() {
		t.Fatal("Retain failed on an open scope")
	}
	_ = scope.Close(ctx)
	if scope.Closed() || len(disposed) != 0 {
		t.Fatal("scope closed while still retained")
	}

	_ = scope.Release(ctx)
	if !scope.Closed() || len(disposed) != 1 {
		t.Fatal("scope not closed after the last release")
	}

	if _, err := elif.Resolve[*RequestState](ctx, scope); elif.CodeOf(err) != elif.ErrCodeScopeClosed {
		t.Errorf("expected SCOPE_CLOSED, got %v", err)
	}
}
