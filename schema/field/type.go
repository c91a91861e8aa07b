package field

import (
	"fmt"
	"strings"
)

// A Type represents a semantic column type.
type Type uint8

// List of field types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeTime
	TypeJSON
	TypeUUID
	TypeBytes
	TypeEnum
	TypeString
	TypeOther
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint
	TypeUint64
	TypeFloat32
	TypeFloat64
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeTime:    "time.Time",
	TypeJSON:    "json.RawMessage",
	TypeUUID:    "uuid.UUID",
	TypeBytes:   "[]byte",
	TypeEnum:    "enum",
	TypeString:  "string",
	TypeOther:   "other",
	TypeInt:     "int",
	TypeInt8:    "int8",
	TypeInt16:   "int16",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeUint:    "uint",
	TypeUint8:   "uint8",
	TypeUint16:  "uint16",
	TypeUint32:  "uint32",
	TypeUint64:  "uint64",
	TypeFloat32: "float32",
	TypeFloat64: "float64",
}

// String returns the string representation of a type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type if known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t >= TypeInt8 && t < endTypes
}

// Integer reports if the given type is an integer type.
func (t Type) Integer() bool {
	return t >= TypeInt8 && t <= TypeUint64
}

// Unsigned reports if the given type is an unsigned integer type.
func (t Type) Unsigned() bool {
	return t >= TypeUint8 && t <= TypeUint64
}

// Float reports if the given type is a floating point type.
func (t Type) Float() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("field: invalid type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	typ, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = typ
	return nil
}

var aliases = map[string]Type{
	"bool":      TypeBool,
	"boolean":   TypeBool,
	"time":      TypeTime,
	"timestamp": TypeTime,
	"datetime":  TypeTime,
	"date":      TypeTime,
	"json":      TypeJSON,
	"jsonb":     TypeJSON,
	"uuid":      TypeUUID,
	"bytes":     TypeBytes,
	"binary":    TypeBytes,
	"blob":      TypeBytes,
	"bytea":     TypeBytes,
	"text":      TypeString,
	"varchar":   TypeString,
	"char":      TypeString,
	"integer":   TypeInt,
	"smallint":  TypeInt16,
	"bigint":    TypeInt64,
	"float":     TypeFloat64,
	"double":    TypeFloat64,
	"real":      TypeFloat32,
	"decimal":   TypeOther,
	"numeric":   TypeOther,
}

// ParseType parses a type name as it appears in entity metadata.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if t, ok := aliases[name]; ok {
		return t, nil
	}
	for t := TypeBool; t < endTypes; t++ {
		if strings.ToLower(typeNames[t]) == name {
			return t, nil
		}
	}
	return TypeInvalid, fmt.Errorf("field: unknown type %q", s)
}
