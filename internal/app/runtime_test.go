package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTestModeEnabled(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"0":     false,
		"no":    false,
		"1":     true,
		"true":  true,
		"TRUE":  true,
		"false": false,
	}
	for value, want := range cases {
		getenv := func(key string) string {
			require.Equal(t, testModeEnv, key)
			return value
		}
		require.Equal(t, want, testModeEnabled(getenv), "value %q", value)
	}
}
