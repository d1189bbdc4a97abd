package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.Len(t, a, idLength)
	assert.NotEqual(t, a, b)
}

func TestClampUnit(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{name: "below", input: -0.5, expected: 0},
		{name: "inside", input: 0.4, expected: 0.4},
		{name: "above", input: 1.7, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClampUnit(tt.input))
		})
	}
}

func TestSwarmError_IsMatchesByCode(t *testing.T) {
	err := ErrSwarmFull.With("swarm at capacity", "swarmId", "s1")
	wrapped := fmt.Errorf("join: %w", err)

	assert.True(t, errors.Is(wrapped, ErrSwarmFull))
	assert.False(t, errors.Is(wrapped, ErrSwarmNotFound))
	assert.Equal(t, "s1", err.Details["swarmId"])
	assert.Equal(t, "swarm_full: swarm at capacity", err.Error())
}

func TestValue_StringIsCanonical(t *testing.T) {
	v := MapValue(map[string]Value{
		"b": NumberValue(2),
		"a": ListValue(StringValue("x"), BoolValue(true)),
	})
	assert.Equal(t, "{a: [x, true], b: 2}", v.String())
	assert.Equal(t, "null", NullValue().String())
	assert.Equal(t, "0.5", NumberValue(0.5).String())
}

func TestValue_CloneIsDeep(t *testing.T) {
	inner := map[string]Value{"k": StringValue("v")}
	original := MapValue(inner)
	inner["k"] = StringValue("mutated")

	m, ok := original.AsMap()
	require.True(t, ok)
	assert.Equal(t, "v", m["k"].String())

	m["k"] = StringValue("changed")
	again, _ := original.AsMap()
	assert.Equal(t, "v", again["k"].String())
}

func TestValue_JSONRoundTripKeepsKinds(t *testing.T) {
	v := MapValue(map[string]Value{
		"winner": StringValue("blue"),
		"count":  NumberValue(3),
		"final":  BoolValue(true),
		"none":   NullValue(),
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, v.Equal(decoded), "decoded %s", decoded)

	m, _ := decoded.AsMap()
	n, ok := m["count"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestFromAny_RejectsUnsupportedTypes(t *testing.T) {
	_, err := FromAny(struct{}{})
	require.Error(t, err)

	v, err := FromAny(map[string]interface{}{"load": 0.9, "tags": []interface{}{"a"}})
	require.NoError(t, err)
	assert.Equal(t, KindMap, v.Kind())
}
