//go:build property

package router

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalizeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	pathGen := gen.SliceOf(gen.OneConstOf("/", "//", "a", "users", "{id}", "42", "")).
		Map(func(parts []string) string { return strings.Join(parts, "") })

	properties.Property("normalize is idempotent", prop.ForAll(
		func(p string) bool {
			once := Normalize(p)
			return Normalize(once) == once
		},
		pathGen,
	))

	properties.Property("normalized paths are canonical", prop.ForAll(
		func(p string) bool {
			n := Normalize(p)
			if !strings.HasPrefix(n, "/") || strings.Contains(n, "//") {
				return false
			}
			return n == "/" || !strings.HasSuffix(n, "/")
		},
		pathGen,
	))

	properties.Property("matching ignores redundant slashes", prop.ForAll(
		func(id int64, extra int) bool {
			tbl := New()
			if _, err := tbl.Add("GET", "/users/{id:int}", nil, ""); err != nil {
				return false
			}
			slashes := strings.Repeat("/", extra%4+1)
			m, err := tbl.Match("GET", slashes+"users"+slashes+strconv.FormatInt(id, 10)+slashes)
			if err != nil {
				return false
			}
			p, _ := m.Params.Get("id")
			return p.Value == id
		},
		gen.Int64(),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
