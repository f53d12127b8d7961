package elif

import (
	"github.com/elifgo/elif/internal/container"
	"github.com/elifgo/elif/internal/lifetime"
)

// Key identifies a service: its declared type and an optional name.
type Key = container.Key

func KeyOf[T any]() Key {
	return container.KeyOf[T]("")
}

func NamedKey[T any](name string) Key {
	return container.KeyOf[T](name)
}

type Lifetime = lifetime.Lifetime

const (
	// Singleton instances are built once per application.
	Singleton = lifetime.Singleton
	// Scoped instances are built once per request scope.
	Scoped = lifetime.Scoped
	// Transient instances are built on every resolve.
	Transient = lifetime.Transient
)
