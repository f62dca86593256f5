package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCollapsesUnsetMarkers(t *testing.T) {
	var (
		nilMap     map[string]any
		nilSlice   []any
		nilDetails Details
		nilStrings []string
		nilPtr     *string
	)
	d := Details{
		"m":    nilMap,
		"s":    nilSlice,
		"d":    nilDetails,
		"ss":   nilStrings,
		"p":    nilPtr,
		"raw":  json.RawMessage(nil),
		"null": json.RawMessage("null"),
		"nan":  math.NaN(),
		"inf":  math.Inf(1),
	}

	out := d.Normalize()
	for k := range d {
		v, ok := out[k]
		assert.True(t, ok, k)
		assert.Nil(t, v, k)
	}

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "{}")
	assert.NotContains(t, string(b), "[]")
}

func TestNormalizeWalksNestedValues(t *testing.T) {
	s := "deep"
	var nilMap map[string]any
	d := Details{
		"nested": map[string]any{"a": nilMap, "b": 1.5},
		"list":   []any{nilMap, &s},
		"empty":  map[string]any{},
		"ptr":    &s,
	}

	out := d.Normalize()
	assert.Equal(t, map[string]any{"a": nil, "b": 1.5}, out["nested"])
	assert.Equal(t, []any{nil, "deep"}, out["list"])
	assert.Equal(t, map[string]any{}, out["empty"])
	assert.Equal(t, "deep", out["ptr"])
}

func TestNormalizeNeverReturnsNil(t *testing.T) {
	var d Details
	assert.NotNil(t, d.Normalize())
	assert.Equal(t, Details{"a": "b"}, d.Merge(Details{"a": "b"}))
}
