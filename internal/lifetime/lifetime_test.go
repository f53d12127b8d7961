package lifetime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifetime_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "singleton", Singleton.String())
	assert.Equal(t, "scoped", Scoped.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "unknown", Lifetime(42).String())
	assert.False(t, Lifetime(42).Valid())
}

func TestLifetime_CanDependOn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Lifetime
		ok       bool
	}{
		{Singleton, Singleton, true},
		{Singleton, Scoped, false},
		{Singleton, Transient, false},
		{Scoped, Singleton, true},
		{Scoped, Scoped, true},
		{Scoped, Transient, false},
		{Transient, Singleton, true},
		{Transient, Scoped, true},
		{Transient, Transient, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanDependOn(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
