// Package router compiles route patterns into a segment trie and matches
// request paths against it.
package router

import (
	"strings"

	"github.com/elifgo/elif/internal/errs"
)

type Kind int

const (
	KindString Kind = iota
	KindInt
	KindUint
	KindUUID
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindUUID:
		return "uuid"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "string":
		return KindString, true
	case "int":
		return KindInt, true
	case "uint":
		return KindUint, true
	case "uuid":
		return KindUUID, true
	default:
		return 0, false
	}
}

// Compatible reports whether a parameter declared as k can receive a
// placeholder of kind placeholder. A string parameter receives anything.
func (k Kind) Compatible(placeholder Kind) bool {
	return k == KindString || k == placeholder
}

type SegmentType int

const (
	SegmentLiteral SegmentType = iota
	SegmentParam
	SegmentCatchAll
)

type Segment struct {
	Type  SegmentType
	Value string // literal text or placeholder name
	Kind  Kind
}

func (s Segment) shape() string {
	switch s.Type {
	case SegmentParam:
		return "{" + s.Kind.String() + "}"
	case SegmentCatchAll:
		return "{*}"
	default:
		return s.Value
	}
}

func (s Segment) String() string {
	switch s.Type {
	case SegmentParam:
		if s.Kind == KindString {
			return "{" + s.Value + "}"
		}
		return "{" + s.Value + ":" + s.Kind.String() + "}"
	case SegmentCatchAll:
		return "{*" + s.Value + "}"
	default:
		return s.Value
	}
}

// Normalize collapses repeated slashes, ensures a leading slash and strips
// a trailing slash except on the root path.
func Normalize(p string) string {
	var b strings.Builder
	b.Grow(len(p) + 1)

	b.WriteByte('/')
	prevSlash := true
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}

	out := b.String()
	if len(out) > 1 && out[len(out)-1] == '/' {
		out = out[:len(out)-1]
	}
	return out
}

func Join(base, suffix string) string {
	return Normalize(base + "/" + suffix)
}

func splitPath(p string) []string {
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// ParsePattern normalizes pattern and splits it into segments.
// Placeholders occupy a whole segment: {name}, {name:kind} or a trailing
// catch-all {*name}.
func ParsePattern(pattern string) (string, []Segment, error) {
	normalized := Normalize(pattern)
	parts := splitPath(normalized)
	segments := make([]Segment, 0, len(parts))
	seen := make(map[string]bool)

	for i, part := range parts {
		if !strings.ContainsAny(part, "{}") {
			segments = append(segments, Segment{Type: SegmentLiteral, Value: part})
			continue
		}

		if len(part) < 3 || part[0] != '{' || part[len(part)-1] != '}' || strings.Count(part, "{") != 1 {
			return "", nil, invalidPattern(pattern, "placeholder %q must fill a whole segment", part)
		}

		body := part[1 : len(part)-1]
		seg := Segment{Type: SegmentParam}

		if strings.HasPrefix(body, "*") {
			if i != len(parts)-1 {
				return "", nil, invalidPattern(pattern, "catch-all %q must be the last segment", part)
			}
			seg.Type = SegmentCatchAll
			seg.Value = body[1:]
		} else {
			name, kind, _ := strings.Cut(body, ":")
			k, ok := ParseKind(kind)
			if !ok {
				return "", nil, invalidPattern(pattern, "unknown placeholder kind %q", kind)
			}
			seg.Value = name
			seg.Kind = k
		}

		if !validName(seg.Value) {
			return "", nil, invalidPattern(pattern, "invalid placeholder name %q", seg.Value)
		}
		if seen[seg.Value] {
			return "", nil, invalidPattern(pattern, "placeholder %q appears twice", seg.Value)
		}
		seen[seg.Value] = true
		segments = append(segments, seg)
	}

	return normalized, segments, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func invalidPattern(pattern, format string, args ...any) *errs.Error {
	return errs.Newf(errs.CodeInvalidRouteParam, "route %q: "+format, append([]any{pattern}, args...)...)
}
