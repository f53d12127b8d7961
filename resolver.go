package elif

import (
	"context"

	"github.com/elifgo/elif/internal/container"
)

// Resolver looks up services. Containers, request scopes and the resolver
// passed to factories all implement it.
type Resolver = container.Resolver

func Resolve[T any](ctx context.Context, r Resolver) (T, error) {
	return as[T](KeyOf[T]())(r.Resolve(ctx, KeyOf[T]()))
}

func ResolveNamed[T any](ctx context.Context, r Resolver, name string) (T, error) {
	key := NamedKey[T](name)
	return as[T](key)(r.Resolve(ctx, key))
}

func MustResolve[T any](ctx context.Context, r Resolver) T {
	v, err := Resolve[T](ctx, r)
	if err != nil {
		panic(err)
	}
	return v
}

// as converts a resolved instance to T, reporting a type mismatch against
// key.
func as[T any](key Key) func(any, error) (T, error) {
	return func(instance any, err error) (T, error) {
		var zero T
		if err != nil {
			return zero, err
		}
		typed, ok := instance.(T)
		if !ok {
			return zero, errTypeMismatch(key, instance)
		}
		return typed, nil
	}
}

// Optional holds a service that may be absent.
type Optional[T any] struct {
	value   T
	present bool
}

func (o Optional[T]) Get() (T, bool) { return o.value, o.present }

func (o Optional[T]) Present() bool { return o.present }

func (o Optional[T]) OrElse(fallback T) T {
	if !o.present {
		return fallback
	}
	return o.value
}

// ResolveOptional yields an empty Optional when T is unbound or not
// visible. Failures while building a bound T are still returned.
func ResolveOptional[T any](ctx context.Context, r Resolver) (Optional[T], error) {
	return resolveOptional[T](ctx, r, KeyOf[T]())
}

func ResolveOptionalNamed[T any](ctx context.Context, r Resolver, name string) (Optional[T], error) {
	return resolveOptional[T](ctx, r, NamedKey[T](name))
}

func resolveOptional[T any](ctx context.Context, r Resolver, key Key) (Optional[T], error) {
	instance, found, err := r.ResolveOptional(ctx, key)
	if err != nil || !found {
		return Optional[T]{}, err
	}
	typed, err := as[T](key)(instance, nil)
	if err != nil {
		return Optional[T]{}, err
	}
	return Optional[T]{value: typed, present: true}, nil
}
