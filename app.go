package elif

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"

	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/metrics"
)

// App composes a module tree, owns its container and serves it over HTTP.
type App struct {
	module *Module
	cfg    *appConfig
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	plan      *Plan
	container *Container
	pipeline  *Pipeline
	metrics   *metrics.Metrics
	server    *http.Server
	listener  net.Listener
	started   time.Time
	done      chan error
}

func New(module *Module, opts ...Option) *App {
	cfg := newConfig(opts)
	return &App{
		module: module,
		cfg:    cfg,
		logger: cfg.logger,
	}
}

func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) setState(to State) bool {
	a.mu.Lock()
	from := a.state
	if !canTransition(from, to) {
		a.mu.Unlock()
		return false
	}
	a.state = to
	a.mu.Unlock()

	a.logger.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	for _, hook := range a.cfg.onState {
		hook(from, to)
	}
	return true
}

func (a *App) fail(err error) error {
	a.setState(StateFailed)
	a.logger.Error("application failed", zap.Error(err))
	return err
}

func (a *App) Config() Config {
	return *a.cfg.config
}

func (a *App) Plan() *Plan {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plan
}

func (a *App) Container() *Container {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container
}

// Addr is the bound listener address, or "" before Start.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Init validates the configuration, composes the modules, builds the
// container and runs init hooks. After Init the App serves requests
// through ServeHTTP without owning a listener.
func (a *App) Init(ctx context.Context) error {
	if !a.setState(StateInitializing) {
		return errs.Newf(ErrCodeInternal, "app cannot initialize from state %s", a.State())
	}

	cfg := a.cfg.config
	if err := cfg.Validate(); err != nil {
		return a.fail(err)
	}

	plan, err := Compose(a.module, WithRegistry(a.cfg.registry))
	if err != nil {
		return a.fail(err)
	}
	for _, warning := range plan.Warnings() {
		a.logger.Warn("route warning", zap.String("warning", warning))
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New(true)
		a.cfg.onResolve = append(a.cfg.onResolve, func(key Key, d time.Duration, err error) {
			m.ObserveResolve(key.String(), d, err)
		})
		a.cfg.onInit = append(a.cfg.onInit, func(key Key, d time.Duration, err error) {
			m.ObserveLifecycle("init", key.String(), d, err)
		})
		a.cfg.onShutdown = append(a.cfg.onShutdown, func(key Key, d time.Duration, err error) {
			m.ObserveLifecycle("shutdown", key.String(), d, err)
		})
	}

	c := newContainer(plan, a.cfg)
	if m != nil {
		m.GaugeFunc("container", "open_scopes", "Request scopes currently open.", func() float64 {
			return float64(c.Stats().OpenScopes)
		})
	}

	if err := c.Initialize(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return a.fail(err)
	}

	a.mu.Lock()
	a.plan = plan
	a.container = c
	a.metrics = m
	a.pipeline = a.buildPipeline(plan, m)
	a.started = time.Now()
	a.mu.Unlock()

	a.logger.Info("application initialized",
		zap.String("app", plan.App()),
		zap.Strings("modules", plan.Modules()),
		zap.Int("bindings", c.Size()),
		zap.Int("routes", len(plan.Routes())),
	)
	return nil
}

func (a *App) buildPipeline(plan *Plan, m *metrics.Metrics) *Pipeline {
	cfg := a.cfg.config
	var layers []Middleware

	if cfg.EnableRequestID {
		layers = append(layers, RequestID())
	}
	if cfg.EnableTracing {
		layers = append(layers, Logging(a.logger.Named("http")), Tracing(a.logger.Named("trace")))
	}
	if cfg.EnableTiming {
		layers = append(layers, Timing())
	}
	if m != nil {
		layers = append(layers, metricsLayer(m))
	}
	if cfg.ShedRPS > 0 {
		var onShed func()
		if m != nil {
			onShed = m.Shed
		}
		layers = append(layers, shedLayer(newLimiter(cfg.ShedRPS, cfg.ShedBurst), onShed))
	}
	layers = append(layers, BodyLimit(cfg.MaxRequestSize), Timeout(cfg.RequestTimeout()))
	if cfg.EnableCompression {
		layers = append(layers, Compression(cfg.CompressionMinBytes))
	}
	if cfg.EnableETag {
		layers = append(layers, ETag())
	}
	if cfg.EnableNegotiation {
		layers = append(layers, Negotiation())
	}

	layers = append(layers, a.cfg.middleware...)
	layers = append(layers, plan.Middleware()...)

	return NewPipeline(dispatch, cfg.Debug, layers...)
}

// Start initializes the App if needed, binds the listener and begins
// serving in the background.
func (a *App) Start(ctx context.Context) error {
	if a.State() == StateCreated {
		if err := a.Init(ctx); err != nil {
			return err
		}
	}
	if a.State() != StateInitializing {
		return errs.Newf(ErrCodeInternal, "app cannot start from state %s", a.State())
	}

	cfg := a.cfg.config
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		_ = a.container.Shutdown(context.Background())
		return a.fail(errs.New(ErrCodeBindFailed, "cannot bind "+cfg.BindAddr, err))
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	server := &http.Server{
		Handler:           h2c.NewHandler(a, &http2.Server{IdleTimeout: cfg.KeepAliveTimeout()}),
		ReadHeaderTimeout: cfg.RequestTimeout(),
		IdleTimeout:       cfg.KeepAliveTimeout(),
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(a.logger.Named("server")),
	}
	server.SetKeepAlivesEnabled(cfg.KeepAliveTimeoutSecs > 0)

	done := make(chan error, 1)

	a.mu.Lock()
	a.listener = ln
	a.server = server
	a.done = done
	a.mu.Unlock()

	a.setState(StateRunning)
	a.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		// Serve retries temporary accept errors with backoff itself.
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else if err != nil {
			err = errs.New(ErrCodeAcceptFailed, "listener failed", err)
			a.logger.Error("listener failed", zap.Error(err))
		}
		done <- err
		close(done)
	}()

	return nil
}

// Wait blocks until the listener stops and returns its failure, if any.
func (a *App) Wait() error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	return <-done
}

// Shutdown stops accepting, drains in-flight requests for at most
// shutdown_timeout_secs and then disposes the container. Connections
// still open when the drain window closes are cut and the result is
// SHUTDOWN_TIMEOUT.
func (a *App) Shutdown(ctx context.Context) error {
	state := a.State()
	if state == StateCreated || state.Terminal() {
		return nil
	}
	if !a.setState(StateStopping) {
		return errs.Newf(ErrCodeInternal, "app cannot stop from state %s", state)
	}

	a.mu.Lock()
	server := a.server
	c := a.container
	a.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(ctx, a.cfg.config.ShutdownTimeout())
	defer cancel()

	var result error
	if server != nil {
		a.logger.Info("draining connections", zap.Duration("timeout", a.cfg.config.ShutdownTimeout()))
		if err := server.Shutdown(drainCtx); err != nil {
			_ = server.Close()
			a.logger.Warn("forced shutdown", zap.Error(err))
			result = errs.New(ErrCodeShutdownTimeout, "in-flight requests did not finish in time", err)
		}
		if err := a.Wait(); err != nil {
			result = errors.Join(result, err)
		}
	}

	if c != nil {
		if err := c.Shutdown(context.WithoutCancel(ctx)); err != nil {
			result = errors.Join(result, err)
		}
	}

	if result != nil && !errs.Has(result, ErrCodeShutdownTimeout) && !errs.Has(result, ErrCodeShutdownFailed) {
		a.setState(StateFailed)
		return result
	}

	a.setState(StateStopped)
	a.logger.Info("stopped")
	return result
}

// Run starts the App and blocks until ctx ends, SIGINT or SIGTERM arrives
// or the listener fails, then shuts down. A second signal during shutdown
// cuts the drain short.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		a.logger.Info("context done, shutting down")
	case sig := <-signals:
		a.logger.Info("signal received, shutting down", zap.Stringer("signal", sig))
	case err := <-done:
		if err != nil {
			_ = a.container.Shutdown(context.Background())
			return a.fail(err)
		}
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case sig := <-signals:
			a.logger.Warn("second signal received, forcing shutdown", zap.Stringer("signal", sig))
			cancel()
		case <-shutdownCtx.Done():
		}
	}()

	return a.Shutdown(shutdownCtx)
}

// Handler returns the App as an http.Handler. Init must have run.
func (a *App) Handler() http.Handler {
	return a
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	pipeline := a.pipeline
	a.mu.Unlock()

	if pipeline == nil {
		writeResponse(w, errorResponse(errs.Newf(ErrCodeOverloaded, "application is not initialized"), uuid.NewString()))
		return
	}

	if a.serveReserved(w, r) {
		return
	}

	a.serve(w, r, pipeline)
}

// serveReserved answers the health, readiness and metrics routes. None of
// them opens a request scope or runs the pipeline.
func (a *App) serveReserved(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}

	cfg := a.cfg.config
	switch r.URL.Path {
	case cfg.HealthCheckPath:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"uptime_secs": int64(time.Since(a.started).Seconds()),
		})
		return true

	case cfg.ReadinessPath:
		if cfg.ReadinessPath == "" {
			return false
		}
		reports := a.container.Readiness(r.Context())
		status, body := http.StatusOK, "ready"
		if st := a.State(); st == StateStopping || st.Terminal() {
			status, body = http.StatusServiceUnavailable, st.String()
		}
		for _, rep := range reports {
			if rep.Status == HealthStatusDown {
				status, body = http.StatusServiceUnavailable, "not_ready"
			}
		}
		writeJSON(w, status, map[string]any{"status": body, "checks": reports})
		return true

	case cfg.MetricsPath:
		if a.metrics == nil {
			return false
		}
		a.metrics.Handler().ServeHTTP(w, r)
		return true
	}

	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"status":"error"}`)
	}
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", contentTypeJSON)
	resp.Body = data
	writeResponse(w, resp)
}

// serve is the outermost boundary of every pipeline run. It opens the
// request scope, matches the route, recovers panics and renders errors.
func (a *App) serve(w http.ResponseWriter, r *http.Request, pipeline *Pipeline) {
	req := newRequest(r)
	req.Set(ExtStartInstant, time.Now())
	req.Set(ExtRequestID, uuid.NewString())

	scope := a.container.BeginScope()
	req.Set(ExtScope, scope)
	defer func() {
		if err := scope.Close(context.WithoutCancel(r.Context())); err != nil {
			a.logger.Warn("request scope disposal failed",
				zap.String("request_id", req.RequestID()),
				zap.Error(err),
			)
		}
	}()

	req.match, req.matchErr = a.plan.routes.Match(r.Method, req.Path)

	resp, err := a.run(pipeline, req)

	if cerr := observeCancellation(req); cerr != nil {
		resp, err = nil, cerr
		a.logger.Warn("request cancelled",
			zap.String("request_id", req.RequestID()),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("code", CodeOf(cerr).String()),
			zap.Duration("after", time.Since(req.Start())),
		)
	}

	if err != nil {
		resp = errorResponse(err, req.RequestID())
		if a.cfg.config.EnableRequestID {
			resp.Header.Set(HeaderRequestID, req.RequestID())
		}
	} else if resp == nil {
		resp = NoContent()
	}

	writeResponse(w, resp)
}

func (a *App) run(pipeline *Pipeline, req *Request) (resp *Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			if p, ok := v.(*panicked); ok {
				v = p.value
			}
			original := req.RequestID()
			req.Set(ExtRequestID, uuid.NewString())
			a.logger.Error("panic while handling request",
				zap.String("request_id", req.RequestID()),
				zap.String("original_request_id", original),
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)
			resp = nil
			err = errs.Newf(ErrCodeInternal, "panic: %v", v)
		}
	}()

	return pipeline.Run(req)
}

// ExitCode maps the error returned by Run to a process exit code: 0 on a
// clean stop, 2 when the listener could not bind, 3 when shutdown had to
// cut connections and 1 for any other failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errs.Has(err, ErrCodeBindFailed):
		return 2
	case errs.Has(err, ErrCodeShutdownTimeout):
		return 3
	default:
		return 1
	}
}
