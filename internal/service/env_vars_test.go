package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvVars_Merge(t *testing.T) {
	t.Run("success - overrides win and receiver unchanged", func(t *testing.T) {
		// arrange
		base := NewEnvVars(map[string]string{"A": "1", "B": "2"})

		// act
		merged := base.Merge(map[string]string{"B": "override", "C": "3"})

		// assert
		v, _ := base.Get("B")
		assert.Equal(t, "2", v)
		assert.Equal(t, 2, base.Len())
		assert.Equal(t, []string{"A=1", "B=override", "C=3"}, merged.Environ())
	})
	t.Run("success - source map is copied", func(t *testing.T) {
		// arrange
		src := map[string]string{"A": "1"}
		env := NewEnvVars(src)

		// act
		src["A"] = "changed"
		m := env.Map()
		m["A"] = "changed too"

		// assert
		v, _ := env.Get("A")
		assert.Equal(t, "1", v)
	})
	t.Run("success - zero value usable", func(t *testing.T) {
		// arrange
		var env EnvVars

		// act
		merged := env.Merge(nil)

		// assert
		assert.Empty(t, merged.Environ())
		assert.NotNil(t, merged.Map())
	})
}

func TestParseEnvDelta(t *testing.T) {
	t.Run("success - set-env lines collected", func(t *testing.T) {
		// arrange
		output := "building\n::set-env VERSION=1.2.3\r\n::set-env EMPTY=\nnoise ::set-env X=1\n::set-env VERSION=1.2.4\n::set-env =bad\n::set-env novalue\n"

		// act
		delta := ParseEnvDelta(output)

		// assert
		assert.Equal(t, map[string]string{"VERSION": "1.2.4", "EMPTY": ""}, delta)
	})
}
