package container

import (
	"reflect"

	ireflect "github.com/elifgo/elif/internal/reflect"
)

// Key identifies a binding: a declared type plus an optional name.
// Two bindings with equal keys collide.
type Key struct {
	Type reflect.Type
	Name string
}

func KeyOf[T any](name string) Key {
	return Key{Type: ireflect.TypeOf[T](), Name: name}
}

func (k Key) String() string {
	if k.Name == "" {
		return ireflect.TypeName(k.Type)
	}
	return ireflect.TypeName(k.Type) + "#" + k.Name
}

func (k Key) IsZero() bool {
	return k.Type == nil
}
