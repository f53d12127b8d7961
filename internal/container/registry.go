package container

import (
	"reflect"
	"sync"

	"github.com/elifgo/elif/internal/errs"
)

// Registry collects bindings during composition. Freeze turns it into an
// immutable Table used for resolution.
type Registry struct {
	mu       sync.Mutex
	order    []Key
	bindings map[Key]*Binding
	seq      int
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[Key]*Binding),
	}
}

// Add inserts b. A binding whose key is already taken fails with
// DUPLICATE_BINDING unless it is declared as an override, in which case
// Add behaves like Override.
func (r *Registry) Add(b *Binding) error {
	if b.Override {
		return r.Override(b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkMutable(b); err != nil {
		return err
	}

	if existing, ok := r.bindings[b.Key]; ok {
		return errs.Newf(
			errs.CodeDuplicateBinding,
			"%s is bound by module %q and again by module %q", b.Key, existing.Module, b.Module,
		).WithService(b.Key.String())
	}

	r.seq++
	b.seq = r.seq
	r.bindings[b.Key] = b
	r.order = append(r.order, b.Key)
	return nil
}

// Override replaces an existing overridable binding, keeping its
// declaration position.
func (r *Registry) Override(b *Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkMutable(b); err != nil {
		return err
	}

	existing, ok := r.bindings[b.Key]
	if !ok {
		return errs.Newf(
			errs.CodeOverrideTargetMissing,
			"module %q overrides %s but nothing binds it", b.Module, b.Key,
		).WithService(b.Key.String())
	}
	if !existing.Overridable {
		return errs.Newf(
			errs.CodeNotOverridable,
			"module %q overrides %s but the binding from module %q is not overridable",
			b.Module, b.Key, existing.Module,
		).WithService(b.Key.String())
	}

	b.seq = existing.seq
	b.Replaced = append(append([]string{}, existing.Replaced...), existing.Module)
	b.Exported = b.Exported || existing.Exported
	if !b.Overridable {
		b.Overridable = existing.Overridable
	}
	r.bindings[b.Key] = b
	return nil
}

func (r *Registry) checkMutable(b *Binding) error {
	if r.frozen {
		return errs.Newf(errs.CodeInvalidModule, "registry is frozen").WithService(b.Key.String())
	}
	if b.Key.IsZero() {
		return errs.Newf(errs.CodeInvalidModule, "binding from module %q has no type", b.Module)
	}
	if b.Factory == nil {
		return errs.Newf(errs.CodeInvalidModule, "binding %s has no factory", b.Key).WithService(b.Key.String())
	}
	if !b.Lifetime.Valid() {
		return errs.Newf(errs.CodeInvalidModule, "binding %s has invalid lifetime %d", b.Key, b.Lifetime).
			WithService(b.Key.String())
	}
	return nil
}

func (r *Registry) Get(key Key) (*Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[key]
	return b, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order)
}

// Bindings returns bindings in declaration order.
func (r *Registry) Bindings() []*Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Binding, len(r.order))
	for i, k := range r.order {
		out[i] = r.bindings[k]
	}
	return out
}

// Freeze stops further mutation and indexes the bindings for lookup.
func (r *Registry) Freeze() *Table {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true

	t := &Table{
		bindings: make(map[Key]*Binding, len(r.order)),
		byType:   make(map[reflect.Type][]*Binding),
		order:    make([]*Binding, 0, len(r.order)),
	}
	for _, k := range r.order {
		b := r.bindings[k]
		t.bindings[k] = b
		t.byType[k.Type] = append(t.byType[k.Type], b)
		t.order = append(t.order, b)
	}
	t.settleAliases()
	return t
}
