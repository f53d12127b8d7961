package router

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/elifgo/elif/internal/errs"
)

type Route struct {
	Method   string
	Pattern  string
	Segments []Segment
	Name     string
	Handler  any

	seq int
}

// Shape is the pattern with placeholder names removed. Two routes with
// the same method and shape conflict.
func (r *Route) Shape() string {
	if len(r.Segments) == 0 {
		return "/"
	}
	parts := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		parts[i] = s.shape()
	}
	return "/" + strings.Join(parts, "/")
}

func (r *Route) Placeholders() []Segment {
	var out []Segment
	for _, s := range r.Segments {
		if s.Type != SegmentLiteral {
			out = append(out, s)
		}
	}
	return out
}

func (r *Route) String() string {
	return r.Method + " " + r.Pattern
}

type node struct {
	literals map[string]*node
	// typed holds int, uint and uuid edges in the order they were first
	// declared.
	typed    []*edge
	str      *edge
	catchAll *edge
	routes   map[string]*Route
}

type edge struct {
	kind  Kind
	child *node
	owner *Route
}

func newNode() *node {
	return &node{literals: make(map[string]*node)}
}

// Table is built once at composition and then only read.
type Table struct {
	mu       sync.RWMutex
	root     *node
	routes   []*Route
	shapes   map[string]*Route
	warnings []string
}

func New() *Table {
	return &Table{
		root:   newNode(),
		shapes: make(map[string]*Route),
	}
}

// Add parses the route's pattern and inserts it. Duplicate method and
// shape pairs fail with CONFLICTING_ROUTE.
func (t *Table) Add(method, pattern string, handler any, name string) (*Route, error) {
	normalized, segments, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}

	r := &Route{
		Method:   strings.ToUpper(method),
		Pattern:  normalized,
		Segments: segments,
		Name:     name,
		Handler:  handler,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	shapeKey := r.Method + " " + r.Shape()
	if existing, ok := t.shapes[shapeKey]; ok {
		return nil, errs.Newf(
			errs.CodeConflictingRoute,
			"route %s conflicts with %s", r, existing,
		).WithDetails(map[string]string{"route": r.String(), "existing": existing.String()})
	}

	r.seq = len(t.routes)
	t.shapes[shapeKey] = r
	t.routes = append(t.routes, r)
	t.insert(r)
	return r, nil
}

func (t *Table) insert(r *Route) {
	n := t.root
	for _, seg := range r.Segments {
		switch seg.Type {
		case SegmentLiteral:
			child, ok := n.literals[seg.Value]
			if !ok {
				child = newNode()
				n.literals[seg.Value] = child
			}
			n = child

		case SegmentParam:
			if seg.Kind == KindString {
				if n.str == nil {
					n.str = &edge{kind: KindString, child: newNode(), owner: r}
				}
				n = n.str.child
				continue
			}

			var found *edge
			for _, e := range n.typed {
				if e.kind == seg.Kind {
					found = e
					break
				}
			}
			if found == nil {
				for _, e := range n.typed {
					if !overlaps(e.kind, seg.Kind) {
						continue
					}
					t.warnings = append(t.warnings, fmt.Sprintf(
						"route %s overlaps %s with equal specificity ({%s} vs {%s}); %s is tried first",
						r, e.owner, seg.Kind, e.kind, e.owner,
					))
				}
				found = &edge{kind: seg.Kind, child: newNode(), owner: r}
				n.typed = append(n.typed, found)
			}
			n = found.child

		case SegmentCatchAll:
			if n.catchAll == nil {
				n.catchAll = &edge{kind: KindString, child: newNode(), owner: r}
			}
			n = n.catchAll.child
		}
	}

	if n.routes == nil {
		n.routes = make(map[string]*Route)
	}
	n.routes[r.Method] = r
}

func (t *Table) Routes() []*Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

func (t *Table) Warnings() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, len(t.warnings))
	copy(out, t.warnings)
	return out
}

type Param struct {
	Name  string
	Kind  Kind
	Raw   string
	Value any
}

type Params []Param

func (p Params) Get(name string) (Param, bool) {
	for _, param := range p {
		if param.Name == name {
			return param, true
		}
	}
	return Param{}, false
}

type Match struct {
	Route  *Route
	Params Params
}

type candidate struct {
	values []any
	raws   []string
}

type search struct {
	method   string
	parts    []string
	allowed  map[string]bool
	badParam *errs.Error
}

// Match finds the route for method and path. Candidates are tried in
// specificity order: literal, typed placeholder, string placeholder,
// catch-all. It fails with NOT_FOUND, METHOD_NOT_ALLOWED (details carry
// the allowed methods) or BAD_REQUEST when a typed placeholder is the
// only possible match and its value does not parse.
func (t *Table) Match(method, path string) (*Match, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := &search{
		method:  strings.ToUpper(method),
		parts:   splitPath(Normalize(path)),
		allowed: make(map[string]bool),
	}

	var c candidate
	if r := s.walk(t.root, 0, &c); r != nil {
		return bind(r, &c), nil
	}

	if s.method == http.MethodHead {
		s.method = http.MethodGet
		c = candidate{}
		if r := s.walk(t.root, 0, &c); r != nil {
			return bind(r, &c), nil
		}
	}

	if len(s.allowed) > 0 {
		allowed := make([]string, 0, len(s.allowed))
		for m := range s.allowed {
			allowed = append(allowed, m)
		}
		slices.Sort(allowed)
		return nil, errs.Newf(errs.CodeMethodNotAllowed, "method %s is not allowed on %s", method, path).
			WithDetails(map[string][]string{"allow": allowed})
	}

	if s.badParam != nil {
		return nil, s.badParam
	}

	return nil, errs.Newf(errs.CodeNotFound, "no route for %s %s", method, path)
}

func (s *search) walk(n *node, i int, c *candidate) *Route {
	if i == len(s.parts) {
		return s.terminal(n)
	}

	part := s.parts[i]

	if child, ok := n.literals[part]; ok {
		if r := s.walk(child, i+1, c); r != nil {
			return r
		}
	}

	for _, e := range n.typed {
		value, err := parseValue(e.kind, part)
		if err != nil {
			if s.badParam == nil {
				s.badParam = errs.Newf(errs.CodeBadRequest, "path segment %q is not a valid %s", part, e.kind).
					WithDetails(map[string]string{"value": part, "kind": e.kind.String()})
			}
			continue
		}
		if r := s.descend(e.child, i, c, part, value); r != nil {
			return r
		}
	}

	if n.str != nil && part != "" {
		if r := s.descend(n.str.child, i, c, part, part); r != nil {
			return r
		}
	}

	if n.catchAll != nil {
		rest := strings.Join(s.parts[i:], "/")
		c.raws = append(c.raws, rest)
		c.values = append(c.values, rest)
		if r := s.terminal(n.catchAll.child); r != nil {
			return r
		}
		c.raws = c.raws[:len(c.raws)-1]
		c.values = c.values[:len(c.values)-1]
	}

	return nil
}

func (s *search) descend(n *node, i int, c *candidate, raw string, value any) *Route {
	c.raws = append(c.raws, raw)
	c.values = append(c.values, value)
	if r := s.walk(n, i+1, c); r != nil {
		return r
	}
	c.raws = c.raws[:len(c.raws)-1]
	c.values = c.values[:len(c.values)-1]
	return nil
}

func (s *search) terminal(n *node) *Route {
	if len(n.routes) == 0 {
		return nil
	}
	if r, ok := n.routes[s.method]; ok {
		return r
	}
	for m := range n.routes {
		s.allowed[m] = true
	}
	return nil
}

func bind(r *Route, c *candidate) *Match {
	placeholders := r.Placeholders()
	params := make(Params, len(placeholders))
	for i, seg := range placeholders {
		params[i] = Param{Name: seg.Value, Kind: seg.Kind, Raw: c.raws[i], Value: c.values[i]}
	}
	return &Match{Route: r, Params: params}
}

// overlaps reports whether some segment parses as both kinds.
func overlaps(a, b Kind) bool {
	numeric := func(k Kind) bool { return k == KindInt || k == KindUint }
	return numeric(a) && numeric(b)
}

func parseValue(kind Kind, raw string) (any, error) {
	switch kind {
	case KindInt:
		return strconv.ParseInt(raw, 10, 64)
	case KindUint:
		return strconv.ParseUint(raw, 10, 64)
	case KindUUID:
		return uuid.Parse(raw)
	default:
		return raw, nil
	}
}
