package reflect

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"
)

var typeNameCache sync.Map

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// TypeOf returns the static type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// TypeName returns a canonical, package-qualified name for t.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if cached, ok := typeNameCache.Load(t); ok {
		return cached.(string)
	}

	name := buildTypeName(t)
	typeNameCache.Store(t, name)
	return name
}

func buildTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return "*" + buildTypeName(t.Elem())
	case reflect.Slice:
		return "[]" + buildTypeName(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + buildTypeName(t.Elem())
	case reflect.Map:
		return "map[" + buildTypeName(t.Key()) + "]" + buildTypeName(t.Elem())
	case reflect.Chan:
		switch t.ChanDir() {
		case reflect.RecvDir:
			return "<-chan " + buildTypeName(t.Elem())
		case reflect.SendDir:
			return "chan<- " + buildTypeName(t.Elem())
		default:
			return "chan " + buildTypeName(t.Elem())
		}
	case reflect.Func:
		return t.String()
	default:
		if t.PkgPath() != "" && t.Name() != "" {
			return t.PkgPath() + "." + t.Name()
		}
		return t.String()
	}
}

// Constructor describes a function usable as an auto-wired factory:
// func(deps...) T or func(deps...) (T, error). A leading context.Context
// parameter is allowed and not treated as a dependency.
type Constructor struct {
	Params     []reflect.Type
	Out        reflect.Type
	HasError   bool
	HasContext bool
}

func InspectConstructor(fn any) (*Constructor, error) {
	if fn == nil {
		return nil, fmt.Errorf("constructor is nil")
	}

	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %s", t.Kind())
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("constructor %s must not be variadic", t)
	}

	switch t.NumOut() {
	case 1:
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("second result of %s must be error", t)
		}
	default:
		return nil, fmt.Errorf("constructor %s must return T or (T, error)", t)
	}

	c := &Constructor{
		Out:      t.Out(0),
		HasError: t.NumOut() == 2,
	}

	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		if i == 0 && in == contextType {
			c.HasContext = true
			continue
		}
		c.Params = append(c.Params, in)
	}

	return c, nil
}

func IsNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
