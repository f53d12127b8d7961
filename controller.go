package elif

import (
	"context"
	"net/http"
	reflectPkg "reflect"

	"github.com/elifgo/elif/internal/container"
	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/reflect"
	"github.com/elifgo/elif/internal/router"
)

// Action handles one route. Its result becomes the response: a *Response
// passes through, nil yields 204, anything else is encoded as JSON.
type Action[T any] func(controller T, req *Request) (any, error)

type ParamKind = router.Kind

const (
	ParamString = router.KindString
	ParamInt    = router.KindInt
	ParamUint   = router.KindUint
	ParamUUID   = router.KindUUID
)

type RouteOption func(*routeConfig)

type routeConfig struct {
	params []paramDecl
	body   *payloadDecl
	query  *payloadDecl
	name   string
}

type paramDecl struct {
	name string
	kind ParamKind
}

type payloadDecl struct {
	typ    reflectPkg.Type
	decode func(req *Request) (any, error)
}

// Param declares that the action consumes the path placeholder name as
// kind. Every placeholder of a route must be declared; a string parameter
// accepts a placeholder of any kind.
func Param(name string, kind ParamKind) RouteOption {
	return func(cfg *routeConfig) {
		cfg.params = append(cfg.params, paramDecl{name: name, kind: kind})
	}
}

// BodyAs decodes the JSON request body into B and validates it before the
// action runs. Read the result with Body.
func BodyAs[B any]() RouteOption {
	return func(cfg *routeConfig) {
		cfg.body = &payloadDecl{
			typ:    reflect.TypeOf[B](),
			decode: func(req *Request) (any, error) { return decodeBody[B](req) },
		}
	}
}

// QueryAs decodes the query string into Q using `query` field tags and
// validates it before the action runs. Read the result with Query.
func QueryAs[Q any]() RouteOption {
	return func(cfg *routeConfig) {
		cfg.query = &payloadDecl{
			typ:    reflect.TypeOf[Q](),
			decode: func(req *Request) (any, error) { return decodeQuery[Q](req) },
		}
	}
}

func RouteName(name string) RouteOption {
	return func(cfg *routeConfig) {
		cfg.name = name
	}
}

// Routes collects the actions of one controller type.
type Routes[T any] struct {
	entries []*routeEntry
}

type routeEntry struct {
	method string
	path   string
	cfg    routeConfig
	invoke func(controller any, req *Request) (any, error)
}

func (r *Routes[T]) Handle(method, path string, action Action[T], opts ...RouteOption) *Routes[T] {
	e := &routeEntry{method: method, path: path}
	for _, opt := range opts {
		opt(&e.cfg)
	}
	e.invoke = func(controller any, req *Request) (any, error) {
		typed, ok := controller.(T)
		if !ok {
			return nil, errTypeMismatch(KeyOf[T](), controller)
		}
		return action(typed, req)
	}
	r.entries = append(r.entries, e)
	return r
}

func (r *Routes[T]) Get(path string, action Action[T], opts ...RouteOption) *Routes[T] {
	return r.Handle(http.MethodGet, path, action, opts...)
}

func (r *Routes[T]) Post(path string, action Action[T], opts ...RouteOption) *Routes[T] {
	return r.Handle(http.MethodPost, path, action, opts...)
}

func (r *Routes[T]) Put(path string, action Action[T], opts ...RouteOption) *Routes[T] {
	return r.Handle(http.MethodPut, path, action, opts...)
}

func (r *Routes[T]) Patch(path string, action Action[T], opts ...RouteOption) *Routes[T] {
	return r.Handle(http.MethodPatch, path, action, opts...)
}

func (r *Routes[T]) Delete(path string, action Action[T], opts ...RouteOption) *Routes[T] {
	return r.Handle(http.MethodDelete, path, action, opts...)
}

func (r *Routes[T]) Head(path string, action Action[T], opts ...RouteOption) *Routes[T] {
	return r.Handle(http.MethodHead, path, action, opts...)
}

func (r *Routes[T]) Options(path string, action Action[T], opts ...RouteOption) *Routes[T] {
	return r.Handle(http.MethodOptions, path, action, opts...)
}

type controllerEntry struct {
	key    Key
	base   string
	module string
	routes []*routeEntry
}

// ProvideController registers T as a controller mounted at base. The
// controller is Scoped unless WithLifetime says otherwise, so a fresh
// instance serves each request.
func ProvideController[T any](
	m *Module,
	base string,
	provider Provider[T],
	routes func(*Routes[T]),
	opts ...ProviderOption,
) *Module {
	cfg := newProviderConfig(opts)
	if !cfg.lifetimeSet {
		cfg.lifetime = Scoped
	}
	key := container.KeyOf[T](cfg.name)

	m.addBinding(cfg.binding(key, func(ctx context.Context, r container.Resolver) (any, error) {
		return provider(ctx, r)
	}))

	rt := &Routes[T]{}
	if routes != nil {
		routes(rt)
	}

	m.controllers = append(m.controllers, &controllerEntry{
		key:    key,
		base:   base,
		module: m.id,
		routes: rt.entries,
	})
	return m
}

// boundRoute is the payload stored in the route table.
type boundRoute struct {
	controller *controllerEntry
	entry      *routeEntry
}

// checkParams verifies that declared parameters and placeholders agree.
func (e *routeEntry) checkParams(pattern string, segments []router.Segment) error {
	declared := make(map[string]ParamKind, len(e.cfg.params))
	for _, p := range e.cfg.params {
		declared[p.name] = p.kind
	}

	seen := make(map[string]bool)
	for _, seg := range segments {
		if seg.Type == router.SegmentLiteral {
			continue
		}
		seen[seg.Value] = true

		kind, ok := declared[seg.Value]
		if !ok {
			return errs.Newf(ErrCodeInvalidRouteParam,
				"route %s %s: placeholder %q has no declared parameter", e.method, pattern, seg.Value)
		}
		if !kind.Compatible(seg.Kind) {
			return errs.Newf(ErrCodeInvalidRouteParam,
				"route %s %s: parameter %q is declared %s but the placeholder is %s",
				e.method, pattern, seg.Value, kind, seg.Kind)
		}
	}

	for _, p := range e.cfg.params {
		if !seen[p.name] {
			return errs.Newf(ErrCodeInvalidRouteParam,
				"route %s %s: parameter %q matches no placeholder; use BodyAs or QueryAs for other inputs",
				e.method, pattern, p.name)
		}
	}

	return nil
}

// dispatch is the innermost handler of every pipeline: it resolves the
// matched controller from the request scope and runs the action.
func dispatch(req *Request) (*Response, error) {
	if req.matchErr != nil {
		return nil, req.matchErr
	}
	if req.match == nil {
		return nil, errs.Newf(ErrCodeNotFound, "no route for %s %s", req.Method, req.Path)
	}

	bound := req.match.Route.Handler.(*boundRoute)

	scope := req.Scope()
	if scope == nil {
		return nil, errs.Newf(ErrCodeInternal, "request has no scope")
	}

	controller, err := scope.inner.ResolveFrom(req.Context(), bound.controller.key, bound.controller.module)
	if err != nil {
		return nil, err
	}

	if decl := bound.entry.cfg.query; decl != nil {
		v, err := decl.decode(req)
		if err != nil {
			return nil, err
		}
		req.query = v
	}
	if decl := bound.entry.cfg.body; decl != nil {
		v, err := decl.decode(req)
		if err != nil {
			return nil, err
		}
		req.body = v
	}

	result, err := bound.entry.invoke(controller, req)
	if err != nil {
		return nil, err
	}
	return toResponse(result)
}
