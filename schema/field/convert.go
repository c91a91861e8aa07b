package field

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayouts are tried in order when a time value arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Convert normalises a value scanned from a source driver into the Go
// representation expected for the given semantic type. NULL stays nil.
func Convert(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case t == TypeBool:
		return toBool(v)
	case t.Unsigned():
		return toUint(v)
	case t.Integer():
		return toInt(v)
	case t.Float():
		return toFloat(v)
	}
	switch t {
	case TypeString, TypeEnum, TypeJSON, TypeOther:
		return toString(v), nil
	case TypeBytes:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("field: cannot convert %T to %s", v, t)
	case TypeUUID:
		return toUUID(v)
	case TypeTime:
		return toTime(v)
	}
	return nil, fmt.Errorf("field: cannot convert %T to %s", v, t)
}

func toString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func toBool(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int:
		return v != 0, nil
	case uint8:
		return v != 0, nil
	case []byte:
		return parseBool(string(v))
	case string:
		return parseBool(v)
	}
	return nil, fmt.Errorf("field: cannot convert %T to bool", v)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("field: invalid bool %q", s)
}

func toInt(v any) (any, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("field: value %d overflows int64", v)
		}
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("field: value %v is not an integer", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return nil, fmt.Errorf("field: cannot convert %T to int64", v)
}

func toUint(v any) (any, error) {
	switch v := v.(type) {
	case uint64:
		return v, nil
	case []byte:
		return strconv.ParseUint(strings.TrimSpace(string(v)), 10, 64)
	case string:
		return strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	}
	i, err := toInt(v)
	if err != nil {
		return nil, err
	}
	n := i.(int64)
	if n < 0 {
		return nil, fmt.Errorf("field: negative value %d for unsigned type", n)
	}
	return uint64(n), nil
}

func toFloat(v any) (any, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return nil, fmt.Errorf("field: cannot convert %T to float64", v)
}

func toUUID(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v.String(), nil
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case []byte:
		if len(v) == 16 {
			u, err := uuid.FromBytes(v)
			if err != nil {
				return nil, err
			}
			return u.String(), nil
		}
		return parseUUID(string(v))
	case string:
		return parseUUID(v)
	}
	return nil, fmt.Errorf("field: cannot convert %T to uuid", v)
}

func parseUUID(s string) (any, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("field: invalid uuid %q: %w", s, err)
	}
	return u.String(), nil
}

func toTime(v any) (any, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return parseTime(string(v))
	case string:
		return parseTime(v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return nil, fmt.Errorf("field: cannot convert %T to time", v)
}

func parseTime(s string) (any, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("field: invalid time %q", s)
}
