package provenance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStableJSONKeyOrder(t *testing.T) {
	a, err := StableJSON(map[string]any{"b": 1, "a": 2, "c": map[string]any{"y": 1, "x": 2}})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1,"c":{"x":2,"y":1}}`, string(a))
}

func TestParamsHash(t *testing.T) {
	t.Run("insertion order does not matter", func(t *testing.T) {
		h1, err := ParamsHash(map[string]any{"sigma": 1.5, "window": 32})
		require.NoError(t, err)
		h2, err := ParamsHash(map[string]any{"window": 32, "sigma": 1.5})
		require.NoError(t, err)
		require.Equal(t, h1, h2)
	})

	t.Run("value change changes hash", func(t *testing.T) {
		h1, err := ParamsHash(map[string]any{"sigma": 1.5})
		require.NoError(t, err)
		h2, err := ParamsHash(map[string]any{"sigma": 2.0})
		require.NoError(t, err)
		require.NotEqual(t, h1, h2)
	})

	t.Run("hex sha256 shape", func(t *testing.T) {
		h, err := ParamsHash(map[string]any{})
		require.NoError(t, err)
		require.Len(t, h, 64)
	})
}
