package elif_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/elifgo/elif"
)

func debugPlan(t *testing.T) *elif.Plan {
	t.Helper()

	m := provideConfig(elif.NewModule("app"))
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*Database, error) {
		cfg, err := elif.Resolve[*Config](ctx, r)
		return &Database{Config: cfg}, err
	}, elif.WithDependencies(elif.KeyOf[*Config]()))

	plan, err := elif.Compose(m)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	return plan
}

func TestPlanGraph(t *testing.T) {
	t.Parallel()

	info := debugPlan(t).Graph()
	if len(info.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(info.Services))
	}

	db := info.Services[1]
	if len(db.Dependencies) != 1 || !strings.HasSuffix(db.Dependencies[0], "Config") {
		t.Errorf("unexpected dependencies %v", db.Dependencies)
	}
	if len(info.Services[0].Dependents) != 1 {
		t.Errorf("expected config to have one dependent, got %v", info.Services[0].Dependents)
	}
}

func TestContainerGraphMarksBuiltSingletons(t *testing.T) {
	t.Parallel()

	plan := debugPlan(t)
	c := elif.NewContainer(plan, elif.WithLogger(zap.NewNop()))
	elif.MustResolve[*Config](context.Background(), c)

	var buf bytes.Buffer
	c.FprintGraph(&buf)
	out := buf.String()

	if !strings.Contains(out, "● *github.com/elifgo/elif_test.Config [app, singleton]") {
		t.Errorf("expected config to be marked as built:\n%s", out)
	}
	if !strings.Contains(out, "○ *github.com/elifgo/elif_test.Database [app, singleton] ←") {
		t.Errorf("expected database to be marked as not built:\n%s", out)
	}
}

func TestFprintGraphDOT(t *testing.T) {
	t.Parallel()

	out := debugPlan(t).SprintGraphDOT()

	for _, want := range []string{"digraph dependencies {", "subgraph cluster_0", `label="app"`, "->"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestFprintBindings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	debugPlan(t).FprintBindings(&buf)

	for _, want := range []string{"SERVICE", "singleton", "elif_test.Database"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in:\n%s", want, buf.String())
		}
	}
}
