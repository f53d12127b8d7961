package elif

import (
	"context"
	"fmt"
	reflectPkg "reflect"

	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/reflect"
)

// TagKey marks struct fields filled by ProvideStruct, e.g.
// `inject:""`, `inject:"name=primary"` or `inject:"optional"`.
const TagKey = "inject"

// ProvideFunc registers a plain constructor. Its parameters become the
// binding's dependencies in order; a leading context.Context receives the
// resolution context.
func ProvideFunc[T any](m *Module, constructor any, opts ...ProviderOption) *Module {
	ctor, err := reflect.InspectConstructor(constructor)
	if err != nil {
		m.fail(errs.New(ErrCodeInvalidModule, "invalid constructor for "+KeyOf[T]().String(), err))
		return m
	}

	expected := reflect.TypeOf[T]()
	if !ctor.Out.AssignableTo(expected) {
		m.fail(errs.Newf(ErrCodeInvalidModule, "constructor returns %s, expected %s",
			reflect.TypeName(ctor.Out), reflect.TypeName(expected)))
		return m
	}

	keys := make([]Key, len(ctor.Params))
	for i, p := range ctor.Params {
		keys[i] = Key{Type: p}
	}

	fn := reflectPkg.ValueOf(constructor)
	provider := func(ctx context.Context, r Resolver) (T, error) {
		var zero T

		args := make([]reflectPkg.Value, 0, len(keys)+1)
		if ctor.HasContext {
			args = append(args, reflectPkg.ValueOf(&ctx).Elem())
		}
		for i, key := range keys {
			instance, err := r.Resolve(ctx, key)
			if err != nil {
				return zero, err
			}
			args = append(args, valueOf(instance, ctor.Params[i]))
		}

		results := fn.Call(args)
		if ctor.HasError && !results[1].IsNil() {
			return zero, results[1].Interface().(error)
		}

		typed, _ := results[0].Interface().(T)
		return typed, nil
	}

	opts = append([]ProviderOption{WithDependencies(keys...)}, opts...)
	return Provide(m, provider, opts...)
}

// ProvideStruct registers T, a struct or pointer to struct, whose tagged
// fields are filled from the container.
func ProvideStruct[T any](m *Module, opts ...ProviderOption) *Module {
	t := reflect.TypeOf[T]()
	fields, err := reflect.StructFields(t, TagKey)
	if err != nil {
		m.fail(errs.New(ErrCodeInvalidModule, "invalid injected struct", err))
		return m
	}

	isPtr := t.Kind() == reflectPkg.Ptr
	structType := t
	if isPtr {
		structType = t.Elem()
	}

	var deps []ProviderOption
	for _, f := range fields {
		key := Key{Type: f.Type, Name: f.Named}
		if f.Optional {
			deps = append(deps, WithOptionalDependencies(key))
		} else {
			deps = append(deps, WithDependencies(key))
		}
	}

	provider := func(ctx context.Context, r Resolver) (T, error) {
		var zero T
		value := reflectPkg.New(structType).Elem()

		for _, f := range fields {
			key := Key{Type: f.Type, Name: f.Named}

			var instance any
			if f.Optional {
				v, ok, err := r.ResolveOptional(ctx, key)
				if err != nil {
					return zero, err
				}
				if !ok {
					continue
				}
				instance = v
			} else {
				v, err := r.Resolve(ctx, key)
				if err != nil {
					return zero, err
				}
				instance = v
			}

			value.Field(f.Index).Set(valueOf(instance, f.Type))
		}

		if isPtr {
			return value.Addr().Interface().(T), nil
		}
		return value.Interface().(T), nil
	}

	return Provide(m, provider, append(deps, opts...)...)
}

// valueOf converts a resolved instance to a reflect.Value of type t,
// using the zero value for nil instances.
func valueOf(instance any, t reflectPkg.Type) reflectPkg.Value {
	if instance == nil {
		return reflectPkg.Zero(t)
	}
	v := reflectPkg.ValueOf(instance)
	if !v.Type().AssignableTo(t) {
		panic(fmt.Sprintf("resolved %s is not assignable to %s", v.Type(), t))
	}
	return v
}
