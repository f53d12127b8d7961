package reflect

import (
	"fmt"
	"reflect"
	"strings"
)

// Field is a struct field selected for injection by its tag.
type Field struct {
	Index    int
	Name     string
	Type     reflect.Type
	Named    string
	Optional bool
}

// StructFields returns the fields of struct type t (or pointer to struct)
// carrying tag. The tag value is a comma separated list of "name=<n>" and
// "optional".
func StructFields(t reflect.Type, tag string) ([]Field, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", TypeName(t))
	}

	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		value, ok := sf.Tag.Lookup(tag)
		if !ok {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("field %s.%s is tagged %q but unexported", TypeName(t), sf.Name, tag)
		}

		f := Field{Index: i, Name: sf.Name, Type: sf.Type}
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			switch {
			case part == "":
			case part == "optional":
				f.Optional = true
			case strings.HasPrefix(part, "name="):
				f.Named = strings.TrimPrefix(part, "name=")
			default:
				return nil, fmt.Errorf("field %s.%s: unknown %s option %q", TypeName(t), sf.Name, tag, part)
			}
		}
		fields = append(fields, f)
	}

	return fields, nil
}
