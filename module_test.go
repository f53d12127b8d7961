package elif_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/elifgo/elif"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type Repo struct{ Clock Clock }

func provideRepo(m *elif.Module, opts ...elif.ProviderOption) *elif.Module {
	opts = append([]elif.ProviderOption{elif.WithDependencies(elif.KeyOf[Clock]())}, opts...)
	return elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*Repo, error) {
		clock, err := elif.Resolve[Clock](ctx, r)
		return &Repo{Clock: clock}, err
	}, opts...)
}

func provideClock(m *elif.Module, clock Clock, opts ...elif.ProviderOption) *elif.Module {
	return elif.ProvideValue[Clock](m, clock, opts...)
}

func TestExportedBindingIsVisibleToImporter(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported())
	app := provideRepo(elif.NewModule("app").Import(core))

	if _, err := elif.Compose(app); err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
}

func TestPrivateBindingIsNotVisible(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{})
	app := provideRepo(elif.NewModule("app").Import(core))

	_, err := elif.Compose(app)
	if !elif.IsNotVisible(err) {
		t.Fatalf("expected NOT_VISIBLE, got %v", err)
	}
}

func TestExportListMakesBindingVisible(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{}).Export(elif.KeyOf[Clock]())
	app := provideRepo(elif.NewModule("app").Import(core))

	plan, err := elif.Compose(app)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	for _, b := range plan.Bindings() {
		if b.Module == "core" && !b.Exported {
			t.Errorf("expected %s to be exported", b.Key)
		}
	}
}

func TestVisibilityIsTransitive(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported())
	middle := elif.NewModule("middle").Import(core)
	app := provideRepo(elif.NewModule("app").Import(middle))

	plan, err := elif.Compose(app)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	for _, b := range plan.Bindings() {
		if b.Key == elif.KeyOf[Clock]().String() {
			if got := strings.Join(b.VisibleTo, ","); got != "core,middle,app" {
				t.Errorf("unexpected visibility %s", got)
			}
		}
	}
}

func TestPrivateBindingIsNotVisibleTransitively(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{})
	middle := elif.NewModule("middle").Import(core)
	app := provideRepo(elif.NewModule("app").Import(middle))

	_, err := elif.Compose(app)
	if !elif.IsNotVisible(err) {
		t.Fatalf("expected NOT_VISIBLE, got %v", err)
	}
}

func TestExportOfImportedKey(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported())
	middle := elif.NewModule("middle").Import(core).Export(elif.KeyOf[Clock]())
	app := provideRepo(elif.NewModule("app").Import(middle))

	plan, err := elif.Compose(app)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	for _, b := range plan.Bindings() {
		if b.Key == elif.KeyOf[Clock]().String() {
			if got := strings.Join(b.VisibleTo, ","); got != "core,middle,app" {
				t.Errorf("unexpected visibility %s", got)
			}
		}
	}
}

func TestExportOfUnknownKey(t *testing.T) {
	t.Parallel()

	app := elif.NewModule("app").Export(elif.KeyOf[Clock]())

	_, err := elif.Compose(app)
	if !elif.IsCompositionFailed(err) {
		t.Fatalf("expected COMPOSITION_FAILED, got %v", err)
	}
}

func TestOverride(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported(), elif.Overridable())
	test := provideClock(elif.NewModule("test").Import(core), fixedClock{at: at}, elif.Override())
	app := provideRepo(elif.NewModule("app").Import(core, test))

	plan, err := elif.Compose(app)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	c := elif.NewContainer(plan)

	repo, err := elif.Resolve[*Repo](context.Background(), c)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !repo.Clock.Now().Equal(at) {
		t.Errorf("expected the overriding clock, got %v", repo.Clock.Now())
	}

	for _, b := range plan.Bindings() {
		if b.Key == elif.KeyOf[Clock]().String() {
			if b.Module != "test" || strings.Join(b.Replaced, ",") != "core" {
				t.Errorf("unexpected override record %+v", b)
			}
		}
	}
}

func TestOverrideRequiresOverridable(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported())
	test := provideClock(elif.NewModule("test").Import(core), fixedClock{}, elif.Override())

	_, err := elif.Compose(elif.NewModule("app").Import(core, test))
	if !elif.IsCompositionFailed(err) || !strings.Contains(err.Error(), "NOT_OVERRIDABLE") {
		t.Fatalf("expected NOT_OVERRIDABLE, got %v", err)
	}
}

func TestOverrideWithoutTarget(t *testing.T) {
	t.Parallel()

	test := provideClock(elif.NewModule("test"), fixedClock{}, elif.Override())

	_, err := elif.Compose(test)
	if !elif.IsCompositionFailed(err) || !strings.Contains(err.Error(), "OVERRIDE_TARGET_MISSING") {
		t.Fatalf("expected OVERRIDE_TARGET_MISSING, got %v", err)
	}
}

func TestImportCycle(t *testing.T) {
	t.Parallel()

	a := elif.NewModule("a")
	b := elif.NewModule("b").Import(a)
	a.Import(b)

	_, err := elif.Compose(a)
	if !elif.IsCompositionFailed(err) || !strings.Contains(err.Error(), "a -> b -> a") {
		t.Fatalf("expected import cycle a -> b -> a, got %v", err)
	}
}

func TestImportByID(t *testing.T) {
	t.Parallel()

	reg := elif.NewModuleRegistry()
	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported())
	app := provideRepo(elif.NewModule("app").ImportID("core").AsApp())

	if err := reg.Register(core); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(app); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	plan, err := elif.ComposeRegistry(reg)
	if err != nil {
		t.Fatalf("ComposeRegistry failed: %v", err)
	}
	if got := strings.Join(plan.Modules(), ","); got != "core,app" {
		t.Errorf("unexpected module order %s", got)
	}
}

func TestUnknownModule(t *testing.T) {
	t.Parallel()

	app := elif.NewModule("app").ImportID("missing")

	_, err := elif.Compose(app, elif.WithRegistry(elif.NewModuleRegistry()))
	if !elif.IsCompositionFailed(err) || !strings.Contains(err.Error(), `unknown module "missing"`) {
		t.Fatalf("expected UNKNOWN_MODULE, got %v", err)
	}
}

func TestRegistryRejectsSecondApp(t *testing.T) {
	t.Parallel()

	reg := elif.NewModuleRegistry()
	_ = reg.Register(elif.NewModule("one").AsApp())
	_ = reg.Register(elif.NewModule("two").AsApp())

	if _, err := reg.App(); elif.CodeOf(err) != elif.ErrCodeInvalidModule {
		t.Errorf("expected INVALID_MODULE, got %v", err)
	}
	if err := reg.Register(elif.NewModule("one")); elif.CodeOf(err) != elif.ErrCodeInvalidModule {
		t.Errorf("expected INVALID_MODULE for a reused id, got %v", err)
	}
}

func TestCompositionReportsEveryProblem(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{})
	app := elif.NewModule("app").Import(core).ImportID("missing")
	provideRepo(app)
	provideClock(app, systemClock{}, elif.WithName("x"))
	provideClock(app, systemClock{}, elif.WithName("x"))

	_, err := elif.Compose(app, elif.WithRegistry(elif.NewModuleRegistry()))
	if !elif.IsCompositionFailed(err) {
		t.Fatalf("expected COMPOSITION_FAILED, got %v", err)
	}

	var e *elif.Error
	if !errors.As(err, &e) {
		t.Fatal("expected *elif.Error")
	}
	problems := multierr.Errors(e.Cause)
	if len(problems) < 3 {
		t.Fatalf("expected at least 3 problems, got %d: %v", len(problems), err)
	}
	for _, want := range []string{"UNKNOWN_MODULE", "DUPLICATE_BINDING", "NOT_VISIBLE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in %v", want, err)
		}
	}
}

func TestSameModuleReusedAcrossCompositions(t *testing.T) {
	t.Parallel()

	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported())
	first := provideRepo(elif.NewModule("first").Import(core))
	second := elif.NewModule("second").Import(core)

	if _, err := elif.Compose(first); err != nil {
		t.Fatalf("Compose first failed: %v", err)
	}
	plan, err := elif.Compose(second)
	if err != nil {
		t.Fatalf("Compose second failed: %v", err)
	}
	for _, b := range plan.Bindings() {
		if got := strings.Join(b.VisibleTo, ","); got != "core,second" {
			t.Errorf("visibility leaked between compositions: %s", got)
		}
	}
}
