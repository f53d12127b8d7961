package elif_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/elifgo/elif"
)

type hiController struct{ greeter Greeter }

func (c *hiController) Hi(req *elif.Request) (any, error) {
	return c.greeter.Greet(), nil
}

type createUser struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

type userController struct{}

func (c *userController) Show(req *elif.Request) (any, error) {
	id, err := req.ParamUUID("id")
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id.String()}, nil
}

func (c *userController) Create(req *elif.Request) (any, error) {
	return elif.JSON(http.StatusCreated, elif.Body[createUser](req))
}

type miscController struct{}

func (c *miscController) Boom(req *elif.Request) (any, error) {
	panic("boom")
}

func (c *miscController) Big(req *elif.Request) (any, error) {
	return map[string]string{"data": strings.Repeat("elif ", 1000)}, nil
}

func (c *miscController) Slow(req *elif.Request) (any, error) {
	select {
	case <-time.After(5 * time.Second):
		return "done", nil
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}

func demoModules() *elif.Module {
	core := elif.ProvideValue[Greeter](elif.NewModule("core"), englishGreeter{}, elif.Exported())

	app := elif.NewModule("app").Import(core).AsApp()
	elif.ProvideController(app, "/", func(ctx context.Context, r elif.Resolver) (*hiController, error) {
		g, err := elif.Resolve[Greeter](ctx, r)
		return &hiController{greeter: g}, err
	}, func(rt *elif.Routes[*hiController]) {
		rt.Get("/hi", (*hiController).Hi)
	}, elif.WithDependencies(elif.KeyOf[Greeter]()))

	elif.ProvideController(app, "/users", func(ctx context.Context, r elif.Resolver) (*userController, error) {
		return &userController{}, nil
	}, func(rt *elif.Routes[*userController]) {
		rt.Get("/{id:uuid}", (*userController).Show, elif.Param("id", elif.ParamUUID))
		rt.Post("/", (*userController).Create, elif.BodyAs[createUser]())
	})

	elif.ProvideController(app, "/misc", func(ctx context.Context, r elif.Resolver) (*miscController, error) {
		return &miscController{}, nil
	}, func(rt *elif.Routes[*miscController]) {
		rt.Get("/boom", (*miscController).Boom)
		rt.Get("/big", (*miscController).Big)
		rt.Get("/slow", (*miscController).Slow)
	})

	return app
}

func newTestApp(t *testing.T, module *elif.Module, cfg elif.Config, opts ...elif.Option) (*elif.App, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	opts = append([]elif.Option{
		elif.WithConfig(cfg),
		elif.WithLogger(zap.New(core)),
		elif.WithModuleRegistry(elif.NewModuleRegistry()),
	}, opts...)

	app := elif.New(module, opts...)
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app, logs
}

func do(app *elif.App, method, target string, body io.Reader, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		Details   json.RawMessage `json:"details"`
		RequestID string          `json:"request_id"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestAppServesImportedService(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, demoModules(), elif.DefaultConfig())

	rec := do(app, http.MethodGet, "/hi", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"hello"`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(elif.HeaderRequestID))
	assert.Contains(t, rec.Header().Get("Server-Timing"), "app;dur=")
}

func TestAppRouteParameters(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, demoModules(), elif.DefaultConfig())

	rec := do(app, http.MethodGet, "/users/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decodeError(t, rec).Error.Code)

	rec = do(app, http.MethodGet, "/users/550e8400-e29b-41d4-a716-446655440000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"550e8400-e29b-41d4-a716-446655440000"}`, rec.Body.String())
}

func TestAppRequestTimeout(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()
	cfg.RequestTimeoutSecs = 1
	app, logs := newTestApp(t, demoModules(), cfg)

	start := time.Now()
	rec := do(app, http.MethodGet, "/misc/slow", nil)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, "timeout", decodeError(t, rec).Error.Code)
	assert.Equal(t, 1, logs.FilterMessage("request cancelled").Len())
	assert.Zero(t, logs.FilterMessage("panic while handling request").Len())
}

func TestAppCycleFailsBoot(t *testing.T) {
	t.Parallel()

	m := elif.NewModule("app")
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*ServiceA, error) {
		b, err := elif.Resolve[*ServiceB](ctx, r)
		return &ServiceA{B: b}, err
	}, elif.WithDependencies(elif.KeyOf[*ServiceB]()))
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*ServiceB, error) {
		a, err := elif.Resolve[*ServiceA](ctx, r)
		return &ServiceB{A: a}, err
	}, elif.WithDependencies(elif.KeyOf[*ServiceA]()))

	app := elif.New(m, elif.WithLogger(zap.NewNop()), elif.WithModuleRegistry(elif.NewModuleRegistry()))
	err := app.Init(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, elif.ExitCode(err))
	assert.Contains(t, err.Error(), "ServiceA")
	assert.Contains(t, err.Error(), "ServiceB")
	assert.Equal(t, elif.StateFailed, app.State())
}

type identity struct{ n int }

type whoamiController struct{ id *identity }

func (c *whoamiController) Whoami(req *elif.Request) (any, error) {
	return fmt.Sprintf("%p", c.id), nil
}

func TestAppSingletonIdentityUnderConcurrency(t *testing.T) {
	t.Parallel()

	var seen sync.Map
	m := elif.NewModule("app")
	elif.Provide(m, func(ctx context.Context, r elif.Resolver) (*identity, error) {
		return &identity{}, nil
	})
	elif.ProvideController(m, "/", func(ctx context.Context, r elif.Resolver) (*whoamiController, error) {
		id, err := elif.Resolve[*identity](ctx, r)
		return &whoamiController{id: id}, err
	}, func(rt *elif.Routes[*whoamiController]) {
		rt.Get("/whoami", (*whoamiController).Whoami)
	}, elif.WithDependencies(elif.KeyOf[*identity]()))
	m.Use(elif.MiddlewareFunc(func(req *elif.Request, next elif.Next) (*elif.Response, error) {
		id, err := elif.Resolve[*identity](req.Context(), req.Scope())
		if err != nil {
			return nil, err
		}
		seen.Store(fmt.Sprintf("%p", id), true)
		return next(req)
	}))

	app, _ := newTestApp(t, m, elif.DefaultConfig())

	var wg sync.WaitGroup
	bodies := make([]string, 100)
	for i := range bodies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := do(app, http.MethodGet, "/whoami", nil)
			if rec.Code == http.StatusOK {
				bodies[i] = rec.Body.String()
			}
		}()
	}
	wg.Wait()

	distinct := 0
	seen.Range(func(_, _ any) bool {
		distinct++
		return true
	})
	assert.Equal(t, 1, distinct)
	for _, b := range bodies {
		assert.Equal(t, bodies[0], b)
	}
	assert.NotEmpty(t, bodies[0])
}

type nowController struct{ clock Clock }

func (c *nowController) Now(req *elif.Request) (any, error) {
	return map[string]time.Time{"now": c.clock.Now()}, nil
}

func TestAppOverride(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	core := provideClock(elif.NewModule("core"), systemClock{}, elif.Exported(), elif.Overridable())
	test := provideClock(elif.NewModule("test").Import(core), fixedClock{at: at}, elif.Override())

	app := elif.NewModule("app").Import(core, test).AsApp()
	elif.ProvideController(app, "/", func(ctx context.Context, r elif.Resolver) (*nowController, error) {
		clock, err := elif.Resolve[Clock](ctx, r)
		return &nowController{clock: clock}, err
	}, func(rt *elif.Routes[*nowController]) {
		rt.Get("/now", (*nowController).Now)
	}, elif.WithDependencies(elif.KeyOf[Clock]()))

	a, _ := newTestApp(t, app, elif.DefaultConfig())
	rec := do(a, http.MethodGet, "/now", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"now":"2024-06-01T12:00:00Z"}`, rec.Body.String())
}

func TestAppHealthDoesNotOpenScope(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, demoModules(), elif.DefaultConfig())

	rec := do(app, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Zero(t, app.Container().Stats().ScopesOpened)
}

type flakyDependency struct{}

func (flakyDependency) ReadinessCheck(ctx context.Context) error {
	return fmt.Errorf("connection refused")
}

func TestAppReadiness(t *testing.T) {
	t.Parallel()

	m := demoModules()
	elif.ProvideValue(m, &flakyDependency{}, elif.WithOnInit(func(ctx context.Context, d *flakyDependency) error {
		return nil
	}))

	app, _ := newTestApp(t, m, elif.DefaultConfig())
	rec := do(app, http.MethodGet, "/ready", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"not_ready"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAppPanicRecovery(t *testing.T) {
	t.Parallel()

	app, logs := newTestApp(t, demoModules(), elif.DefaultConfig())

	rec := do(app, http.MethodGet, "/misc/boom", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "internal_error", body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
	assert.Equal(t, 1, logs.FilterMessage("panic while handling request").Len())

	rec = do(app, http.MethodGet, "/hi", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "the app keeps serving after a panic")
}

func TestAppErrors(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()
	cfg.MaxRequestSize = 64
	app, _ := newTestApp(t, demoModules(), cfg)

	t.Run("not found", func(t *testing.T) {
		rec := do(app, http.MethodGet, "/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := do(app, http.MethodDelete, "/hi", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Contains(t, rec.Header().Get("Allow"), http.MethodGet)
	})

	t.Run("payload too large", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("x", 100) + `"}`
		rec := do(app, http.MethodPost, "/users", strings.NewReader(body), "Content-Type", "application/json")
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "payload_too_large", decodeError(t, rec).Error.Code)
	})

	t.Run("validation", func(t *testing.T) {
		rec := do(app, http.MethodPost, "/users", strings.NewReader(`{"email":"nope"}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		body := decodeError(t, rec)
		assert.Equal(t, "validation_failed", body.Error.Code)

		var fields []elif.FieldError
		require.NoError(t, json.Unmarshal(body.Error.Details, &fields))
		rules := map[string]string{}
		for _, f := range fields {
			rules[f.Field] = f.Rule
		}
		assert.Equal(t, map[string]string{"name": "required", "email": "email"}, rules)
	})

	t.Run("created", func(t *testing.T) {
		rec := do(app, http.MethodPost, "/users", strings.NewReader(`{"name":"ada"}`))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"name":"ada","email":""}`, rec.Body.String())
	})

	t.Run("not acceptable", func(t *testing.T) {
		rec := do(app, http.MethodGet, "/hi", nil, "Accept", "text/html")
		assert.Equal(t, http.StatusNotAcceptable, rec.Code)
		assert.Equal(t, "not_acceptable", decodeError(t, rec).Error.Code)
	})

	t.Run("error carries request id", func(t *testing.T) {
		rec := do(app, http.MethodGet, "/missing", nil)
		assert.Equal(t, rec.Header().Get(elif.HeaderRequestID), decodeError(t, rec).Error.RequestID)
	})
}

func TestAppRequestIDIsAdopted(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, demoModules(), elif.DefaultConfig())
	id := "0d6c4d8e-5a8e-4f3b-9a57-4cfc0f1a3b8e"

	rec := do(app, http.MethodGet, "/hi", nil, elif.HeaderRequestID, id)
	assert.Equal(t, id, rec.Header().Get(elif.HeaderRequestID))

	rec = do(app, http.MethodGet, "/hi", nil, elif.HeaderRequestID, "not-a-uuid")
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(elif.HeaderRequestID))
}

func TestAppETag(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, demoModules(), elif.DefaultConfig())

	rec := do(app, http.MethodGet, "/hi", nil)
	tag := rec.Header().Get("ETag")
	require.True(t, strings.HasPrefix(tag, `W/"`), tag)

	rec = do(app, http.MethodGet, "/hi", nil, "If-None-Match", tag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, tag, rec.Header().Get("ETag"))
	assert.Contains(t, rec.Header().Values("Vary"), "Accept-Encoding")
	assert.Len(t, rec.Header().Values(elif.HeaderRequestID), 1)
	for name := range rec.Header() {
		assert.Equal(t, http.CanonicalHeaderKey(name), name)
	}
}

func TestAppCompression(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, demoModules(), elif.DefaultConfig())

	rec := do(app, http.MethodGet, "/misc/big", nil, "Accept-Encoding", "gzip, deflate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Header().Values("Vary"), "Accept-Encoding")

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "elif elif")

	rec = do(app, http.MethodGet, "/misc/big", nil, "Accept-Encoding", "gzip;q=0")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestAppMetrics(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()
	cfg.EnableMetrics = true
	app, _ := newTestApp(t, demoModules(), cfg)

	do(app, http.MethodGet, "/hi", nil)
	rec := do(app, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "elif_http_requests_total")
	assert.Contains(t, rec.Body.String(), "elif_container_open_scopes")
}

func TestAppShedsLoad(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()
	cfg.ShedRPS = 0.001
	cfg.ShedBurst = 1
	app, _ := newTestApp(t, demoModules(), cfg)

	assert.Equal(t, http.StatusOK, do(app, http.MethodGet, "/hi", nil).Code)

	rec := do(app, http.MethodGet, "/hi", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "overloaded", decodeError(t, rec).Error.Code)
}

func TestAppStartAndShutdown(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []string
	observe := elif.WithStateObserver(func(from, to elif.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cfg := elif.DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	app := elif.New(demoModules(),
		elif.WithConfig(cfg),
		elif.WithLogger(zap.NewNop()),
		elif.WithModuleRegistry(elif.NewModuleRegistry()),
		observe,
	)

	require.NoError(t, app.Start(context.Background()))
	assert.Equal(t, elif.StateRunning, app.State())

	resp, err := http.Get("http://" + app.Addr() + "/hi")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"hello"`, string(body))

	require.NoError(t, app.Shutdown(context.Background()))
	assert.Equal(t, elif.StateStopped, app.State())
	assert.Equal(t, 0, elif.ExitCode(nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"created->initializing",
		"initializing->running",
		"running->stopping",
		"stopping->stopped",
	}, transitions)
}

func TestAppBindFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := elif.DefaultConfig()
	cfg.BindAddr = ln.Addr().String()
	app := elif.New(demoModules(),
		elif.WithConfig(cfg),
		elif.WithLogger(zap.NewNop()),
		elif.WithModuleRegistry(elif.NewModuleRegistry()),
	)

	err = app.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, elif.ErrCodeBindFailed, elif.CodeOf(err))
	assert.Equal(t, 2, elif.ExitCode(err))
	assert.Equal(t, elif.StateFailed, app.State())
}

func TestAppRunStopsOnContext(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	app := elif.New(demoModules(),
		elif.WithConfig(cfg),
		elif.WithLogger(zap.NewNop()),
		elif.WithModuleRegistry(elif.NewModuleRegistry()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.NoError(t, app.Run(ctx))
	assert.Equal(t, elif.StateStopped, app.State())
}

func TestAppInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()
	cfg.BindAddr = "nowhere"
	app := elif.New(demoModules(), elif.WithConfig(cfg), elif.WithLogger(zap.NewNop()))

	err := app.Init(context.Background())
	assert.Equal(t, elif.ErrCodeInvalidConfig, elif.CodeOf(err))
	assert.Equal(t, 1, elif.ExitCode(err))
}
