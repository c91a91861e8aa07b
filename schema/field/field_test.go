package field_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/porter/schema/field"
)

func TestType(t *testing.T) {
	typ := field.TypeBool
	assert.Equal(t, "bool", typ.String())
	assert.True(t, typ.Valid())
	assert.False(t, typ.Numeric())

	typ = field.TypeInvalid
	assert.Equal(t, "invalid", typ.String())
	assert.False(t, typ.Valid())

	assert.True(t, field.TypeInt64.Integer())
	assert.True(t, field.TypeUint8.Unsigned())
	assert.False(t, field.TypeInt8.Unsigned())
	assert.True(t, field.TypeFloat32.Float())
	assert.True(t, field.TypeFloat64.Numeric())
	assert.False(t, field.TypeFloat64.Integer())
	assert.Equal(t, "time.Time", field.TypeTime.String())
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want field.Type
	}{
		{"bool", field.TypeBool},
		{"Boolean", field.TypeBool},
		{"int", field.TypeInt},
		{"integer", field.TypeInt},
		{"bigint", field.TypeInt64},
		{"uint64", field.TypeUint64},
		{"float", field.TypeFloat64},
		{"string", field.TypeString},
		{"text", field.TypeString},
		{"enum", field.TypeEnum},
		{"time.Time", field.TypeTime},
		{"datetime", field.TypeTime},
		{"json", field.TypeJSON},
		{"uuid", field.TypeUUID},
		{"[]byte", field.TypeBytes},
		{"blob", field.TypeBytes},
		{"decimal", field.TypeOther},
		{" other ", field.TypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := field.ParseType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := field.ParseType("geometry")
	require.Error(t, err)
	_, err = field.ParseType("invalid")
	require.Error(t, err)
}

func TestType_Text(t *testing.T) {
	b, err := field.TypeInt64.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "int64", string(b))

	var typ field.Type
	require.NoError(t, typ.UnmarshalText([]byte("timestamp")))
	assert.Equal(t, field.TypeTime, typ)

	_, err = field.TypeInvalid.MarshalText()
	require.Error(t, err)
}

func TestConvert(t *testing.T) {
	id := uuid.MustParse("9a4e7a4c-3f0e-4d7a-8b1e-2f1a6e0c9d11")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		typ  field.Type
		in   any
		want any
	}{
		{"nil", field.TypeString, nil, nil},
		{"bool/int", field.TypeBool, int64(1), true},
		{"bool/bytes", field.TypeBool, []byte("0"), false},
		{"bool/string", field.TypeBool, "t", true},
		{"int/bytes", field.TypeInt64, []byte("42"), int64(42)},
		{"int/int32", field.TypeInt, int32(7), int64(7)},
		{"int/float", field.TypeInt, float64(3), int64(3)},
		{"uint/int", field.TypeUint64, int64(9), uint64(9)},
		{"float/bytes", field.TypeFloat64, []byte("1.5"), 1.5},
		{"string/bytes", field.TypeString, []byte("hello"), "hello"},
		{"enum/string", field.TypeEnum, "active", "active"},
		{"json/bytes", field.TypeJSON, []byte(`{"a":1}`), `{"a":1}`},
		{"other/bytes", field.TypeOther, []byte("12.50"), "12.50"},
		{"bytes/string", field.TypeBytes, "raw", []byte("raw")},
		{"uuid/raw", field.TypeUUID, id[:], id.String()},
		{"uuid/string", field.TypeUUID, "9A4E7A4C-3F0E-4D7A-8B1E-2F1A6E0C9D11", id.String()},
		{"time/time", field.TypeTime, ts, ts},
		{"time/bytes", field.TypeTime, []byte("2024-01-02 03:04:05"), ts},
		{"time/rfc3339", field.TypeTime, "2024-01-02T03:04:05Z", ts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := field.Convert(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name string
		typ  field.Type
		in   any
	}{
		{"bool", field.TypeBool, "maybe"},
		{"int", field.TypeInt, "abc"},
		{"fraction", field.TypeInt, 1.5},
		{"negative unsigned", field.TypeUint, int64(-1)},
		{"uuid", field.TypeUUID, "not-a-uuid"},
		{"time", field.TypeTime, "yesterday"},
		{"bytes", field.TypeBytes, 10},
		{"invalid", field.TypeInvalid, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := field.Convert(tt.typ, tt.in)
			require.Error(t, err)
		})
	}
}
