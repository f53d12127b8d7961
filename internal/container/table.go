package container

import (
	"reflect"
	"strings"

	"github.com/elifgo/elif/internal/errs"
)

// Table is the frozen, read-only binding index.
type Table struct {
	bindings map[Key]*Binding
	byType   map[reflect.Type][]*Binding
	order    []*Binding
}

// Lookup finds the binding for key from the privileged perspective that
// sees every binding.
func (t *Table) Lookup(key Key) (*Binding, error) {
	return t.LookupFrom(key, "")
}

// LookupFrom finds the binding for key as seen from module. An unnamed key
// falls back to the only named binding of that type visible to module;
// several visible named bindings are ambiguous. When none is visible the
// first candidate is returned so the caller reports it as not visible.
func (t *Table) LookupFrom(key Key, module string) (*Binding, error) {
	if b, ok := t.bindings[key]; ok {
		return b, nil
	}

	if key.Name == "" {
		candidates := t.byType[key.Type]
		var visible []*Binding
		for _, c := range candidates {
			if c.VisibleTo(module) {
				visible = append(visible, c)
			}
		}

		switch {
		case len(visible) == 1:
			return visible[0], nil
		case len(visible) > 1:
			names := make([]string, len(visible))
			for i, c := range visible {
				names[i] = c.Key.Name
			}
			return nil, errs.Newf(
				errs.CodeAmbiguousBinding,
				"%s has named bindings [%s] and no unnamed one; inject by name",
				key, strings.Join(names, ", "),
			).WithService(key.String())
		case len(candidates) > 0:
			return candidates[0], nil
		}
	}

	return nil, errs.Newf(errs.CodeServiceNotFound, "no binding for %s", key).WithService(key.String())
}

func (t *Table) Has(key Key) bool {
	_, err := t.Lookup(key)
	return err == nil
}

func (t *Table) Bindings() []*Binding {
	out := make([]*Binding, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table) Len() int {
	return len(t.order)
}

// settleAliases copies each alias target's lifetime onto the alias,
// following chains of aliases.
func (t *Table) settleAliases() {
	for range t.order {
		changed := false
		for _, b := range t.order {
			if b.AliasOf == nil {
				continue
			}
			target, err := t.Lookup(*b.AliasOf)
			if err != nil || target == b || target.Lifetime == b.Lifetime {
				continue
			}
			b.Lifetime = target.Lifetime
			changed = true
		}
		if !changed {
			return
		}
	}
}
