package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveParams(t *testing.T) {
	data := map[string]any{
		"input": map[string]any{"email": "ada@example.com", "age": 36.0},
		"form":  map[string]any{"name": "Ada"},
	}
	params := map[string]any{
		"to":      "{$.input.email}",
		"age":     "{$.input.age}",
		"subject": "Welcome {$.form.name} ({$.input.email})",
		"missing": "{$.input.nothing}",
		"plain":   "hello",
		"count":   3,
		"nested":  map[string]any{"who": "{$.form.name}"},
		"list":    []any{"{$.form.name}", "x"},
	}

	out := ResolveParams(data, params)

	require.Equal(t, "ada@example.com", out["to"])
	require.Equal(t, 36.0, out["age"])
	require.Equal(t, "Welcome Ada (ada@example.com)", out["subject"])
	require.Equal(t, "{$.input.nothing}", out["missing"])
	require.Equal(t, "hello", out["plain"])
	require.Equal(t, 3, out["count"])
	require.Equal(t, map[string]any{"who": "Ada"}, out["nested"])
	require.Equal(t, []any{"Ada", "x"}, out["list"])
}

func TestMergeMaps(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	out := MergeMaps(base, map[string]any{"b": 3}, nil, map[string]any{"c": 4})

	require.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, out)
	require.Equal(t, map[string]any{"a": 1, "b": 2}, base)
	require.NotNil(t, CopyMap(nil))
}
