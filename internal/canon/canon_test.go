package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsObjectKeysAtEveryDepth(t *testing.T) {
	v := map[string]any{
		"b": 1,
		"a": map[string]any{
			"z": 1,
			"y": 2,
		},
	}

	b, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":2,"z":1},"b":1}`, string(b))
}

func TestMarshal_NoInsignificantWhitespace(t *testing.T) {
	v := []any{1, 2, map[string]any{"k": "v"}}

	b, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `[1,2,{"k":"v"}]`, string(b))
}

func TestMarshal_IsOrderIndependentForEquivalentMaps(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": 2, "c": 3}
	v2 := map[string]any{"c": 3, "b": 2, "a": 1}

	b1, err := Marshal(v1)
	require.NoError(t, err)
	b2, err := Marshal(v2)
	require.NoError(t, err)

	assert.Equal(t, string(b1), string(b2))
}

func TestMarshal_PreservesStructFieldsViaJSONTags(t *testing.T) {
	type entry struct {
		DocID string `json:"doc_id"`
		Span  int    `json:"span_start"`
	}

	b, err := Marshal(entry{DocID: "d1", Span: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"doc_id":"d1","span_start":3}`, string(b))
}

func TestMarshal_NumbersRoundTripLosslessly(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 42, "42"},
		{"negative", -7, "-7"},
		{"float", 1.5, "1.5"},
		{"zero", 0, "0"},
		{"large_int64", int64(9007199254740993), "9007199254740993"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestSHA256Hex_MatchesKnownDigest(t *testing.T) {
	got := SHA256Hex([]byte(""))
	// Known SHA-256 of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)
}

func TestHashOf_IsDeterministicAcrossKeyOrder(t *testing.T) {
	h1, err := HashOf(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := HashOf(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashOf_DiffersWhenValueChanges(t *testing.T) {
	h1, err := HashOf(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := HashOf(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestMarshal_RejectsUnsupportedType(t *testing.T) {
	_, err := Marshal(func() {})
	assert.Error(t, err)
}

func TestMarshal_NullForNilValue(t *testing.T) {
	b, err := Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
