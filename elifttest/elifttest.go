// Package elifttest runs an elif application against an in-process HTTP
// server and offers typed helpers for tests.
package elifttest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"go.uber.org/zap"

	"github.com/elifgo/elif"
)

type TB interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Cleanup(f func())
}

// Harness is an initialized App served by an httptest.Server.
type Harness struct {
	*elif.App
	Server *httptest.Server
	tb     TB
}

type Option func(*options)

type options struct {
	config    elif.Config
	appOpts   []elif.Option
	overrides []func(m *elif.Module)
}

func WithConfig(cfg elif.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

func WithAppOptions(opts ...elif.Option) Option {
	return func(o *options) {
		o.appOpts = append(o.appOpts, opts...)
	}
}

// Replace overrides the overridable binding of T with value.
func Replace[T any](value T) Option {
	return func(o *options) {
		o.overrides = append(o.overrides, func(m *elif.Module) {
			elif.ProvideValue[T](m, value, elif.Override())
		})
	}
}

func ReplaceNamed[T any](name string, value T) Option {
	return func(o *options) {
		o.overrides = append(o.overrides, func(m *elif.Module) {
			elif.ProvideValue[T](m, value, elif.Override(), elif.WithName(name))
		})
	}
}

// ReplaceProvider overrides the overridable binding of T with provider.
func ReplaceProvider[T any](provider elif.Provider[T], opts ...elif.ProviderOption) Option {
	return func(o *options) {
		o.overrides = append(o.overrides, func(m *elif.Module) {
			elif.Provide(m, provider, append(opts, elif.Override())...)
		})
	}
}

// New initializes an App for module and serves it. Overrides are placed
// in a module importing module, so module's own routes and middleware are
// kept. Everything is shut down when the test ends.
func New(tb TB, module *elif.Module, opts ...Option) *Harness {
	tb.Helper()

	o := &options{config: elif.DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}

	root := module
	if len(o.overrides) > 0 {
		root = elif.NewModule("elifttest").Import(module)
		for _, override := range o.overrides {
			override(root)
		}
	}

	appOpts := append([]elif.Option{
		elif.WithConfig(o.config),
		elif.WithLogger(zap.NewNop()),
	}, o.appOpts...)

	app := elif.New(root, appOpts...)
	if err := app.Init(context.Background()); err != nil {
		tb.Fatalf("failed to initialize app: %v", err)
	}

	server := httptest.NewServer(app)
	h := &Harness{App: app, Server: server, tb: tb}

	tb.Cleanup(func() {
		server.Close()
		if err := app.Shutdown(context.Background()); err != nil {
			tb.Fatalf("failed to shut down app: %v", err)
		}
	})

	return h
}

func (h *Harness) URL(path string) string {
	return h.Server.URL + path
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) String() string {
	return string(r.Body)
}

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ErrorCode returns the code of an error envelope, or "".
func (r *Response) ErrorCode() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// Do sends req and reads the whole response. Transport failures end the
// test.
func (h *Harness) Do(req *http.Request) *Response {
	h.tb.Helper()

	resp, err := h.Server.Client().Do(req)
	if err != nil {
		h.tb.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.tb.Fatalf("reading %s %s: %v", req.Method, req.URL, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}
}

// Request sends a request with the given body and header pairs.
func (h *Harness) Request(method, path string, body io.Reader, header ...string) *Response {
	h.tb.Helper()

	req, err := http.NewRequest(method, h.URL(path), body)
	if err != nil {
		h.tb.Fatalf("building %s %s: %v", method, path, err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return h.Do(req)
}

func (h *Harness) Get(path string, header ...string) *Response {
	h.tb.Helper()
	return h.Request(http.MethodGet, path, nil, header...)
}

// SendJSON encodes body as JSON and sends it with method.
func (h *Harness) SendJSON(method, path string, body any) *Response {
	h.tb.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		h.tb.Fatalf("encoding body for %s %s: %v", method, path, err)
	}
	return h.Request(method, path, bytes.NewReader(data), "Content-Type", "application/json")
}

func (h *Harness) PostJSON(path string, body any) *Response {
	h.tb.Helper()
	return h.SendJSON(http.MethodPost, path, body)
}

// DecodeJSON decodes the body of resp into T, ending the test on failure.
func DecodeJSON[T any](tb TB, resp *Response) T {
	tb.Helper()

	var v T
	if err := resp.JSON(&v); err != nil {
		tb.Fatalf("decoding %q: %v", truncate(resp.String()), err)
	}
	return v
}

func RequireStatus(tb TB, resp *Response, want int) {
	tb.Helper()

	if resp.Status != want {
		tb.Fatalf("expected status %d, got %d: %s", want, resp.Status, truncate(resp.String()))
	}
}

func MustResolve[T any](h *Harness) T {
	h.tb.Helper()

	v, err := elif.Resolve[T](context.Background(), h.Container())
	if err != nil {
		h.tb.Fatalf("failed to resolve %s: %v", elif.KeyOf[T](), err)
	}
	return v
}

func MustResolveNamed[T any](h *Harness, name string) T {
	h.tb.Helper()

	v, err := elif.ResolveNamed[T](context.Background(), h.Container(), name)
	if err != nil {
		h.tb.Fatalf("failed to resolve %s: %v", elif.NamedKey[T](name), err)
	}
	return v
}

func AssertHas[T any](h *Harness) {
	h.tb.Helper()

	if !h.Container().Has(elif.KeyOf[T]()) {
		h.tb.Fatalf("expected container to have %s", elif.KeyOf[T]())
	}
}

func AssertNotHas[T any](h *Harness) {
	h.tb.Helper()

	if h.Container().Has(elif.KeyOf[T]()) {
		h.tb.Fatalf("expected container to not have %s", elif.KeyOf[T]())
	}
}

// AssertRoute fails unless method and path match a route with pattern.
func AssertRoute(h *Harness, method, path, pattern string) {
	h.tb.Helper()

	info, err := h.Plan().Route(method, path)
	if err != nil {
		h.tb.Fatalf("no route for %s %s: %v", method, path, err)
	}
	if info.Pattern != pattern {
		h.tb.Fatalf("%s %s matched %s, expected %s", method, path, info.Pattern, pattern)
	}
}

func truncate(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit]) + "..."
}
