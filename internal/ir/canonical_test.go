package ir

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysAndSkipsHTMLEscape(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{
		"b":    "<p>x & y</p>",
		"a":    int64(1),
		"null": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<p>x & y</p>","null":null}`, string(data))
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before U+FF61.
	data, err := MarshalCanonical(map[string]any{
		"\uff61":     int64(1),
		"\U0001F600": int64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(data))
}

func TestMarshalCanonical_Numbers(t *testing.T) {
	data, err := MarshalCanonical([]any{3.0, 2.5, json.Number("42"), int32(7)})
	require.NoError(t, err)
	assert.Equal(t, `[3,2.5,42,7]`, string(data))

	_, err = MarshalCanonical(math.NaN())
	assert.Error(t, err)
}

func TestMarshalCanonical_NFC(t *testing.T) {
	data, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(data))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	data, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(data))

	data, err = MarshalCanonical(`literal \u2028`)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `\\u2028`))
}

func TestMarshalCanonical_Time(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	data, err := MarshalCanonical(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01T09:00:00Z"`, string(data))
}

func TestMarshalCanonical_Structs(t *testing.T) {
	type entry struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
		Note  string `json:"note,omitempty"`
	}
	data, err := MarshalCanonical([]entry{{Name: "b<c", Count: 2}})
	require.NoError(t, err)
	assert.Equal(t, `[{"count":2,"name":"b<c"}]`, string(data))
}

func TestMarshalCanonical_Unsupported(t *testing.T) {
	_, err := MarshalCanonical(make(chan int))
	assert.Error(t, err)
}
