package container

import (
	"context"
	"slices"

	"github.com/elifgo/elif/internal/lifetime"
)

// Resolver is handed to factories. Lookups made through it are checked
// against the visibility and lifetime of the binding being constructed.
type Resolver interface {
	Resolve(ctx context.Context, key Key) (any, error)
	// ResolveOptional reports false instead of failing when key is
	// missing or not visible.
	ResolveOptional(ctx context.Context, key Key) (any, bool, error)
}

type Factory func(ctx context.Context, r Resolver) (any, error)

type Hook func(ctx context.Context, instance any) error

type Dependency struct {
	Key      Key
	Optional bool
}

type Binding struct {
	Key         Key
	Deps        []Dependency
	Lifetime    lifetime.Lifetime
	Factory     Factory
	Overridable bool
	Override    bool
	Module      string
	Exported    bool
	OnInit      []Hook
	OnShutdown  []Hook

	// AliasOf marks a binding that forwards to another key. Its lifetime
	// follows the target's when the registry is frozen.
	AliasOf *Key

	// Replaced holds the modules of bindings this one overrode.
	Replaced []string

	visible map[string]bool
	order   []string
	seq     int
}

// SetVisibility restricts resolution of b to the given modules. A binding
// without a visibility set is resolvable from anywhere.
func (b *Binding) SetVisibility(modules []string) {
	b.visible = make(map[string]bool, len(modules))
	b.order = make([]string, 0, len(modules))
	for _, m := range modules {
		if !b.visible[m] {
			b.visible[m] = true
			b.order = append(b.order, m)
		}
	}
}

// VisibleTo reports whether module may resolve b. The empty module is the
// privileged perspective used by tooling.
func (b *Binding) VisibleTo(module string) bool {
	if b.visible == nil || module == "" {
		return true
	}
	return b.visible[module]
}

// Visibility lists the modules that may resolve b, in the order they were
// given to SetVisibility.
func (b *Binding) Visibility() []string {
	return slices.Clone(b.order)
}

// Seq is the declaration order of b within its registry.
func (b *Binding) Seq() int {
	return b.seq
}

func (b *Binding) DependencyKeys() []Key {
	keys := make([]Key, len(b.Deps))
	for i, d := range b.Deps {
		keys[i] = d.Key
	}
	return keys
}
