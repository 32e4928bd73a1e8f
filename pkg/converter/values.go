package converter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ToString converts an interface to string
func ToString(v any) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// IsBlank reports whether a raw value carries no content
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []byte:
		return strings.TrimSpace(string(val)) == ""
	}
	return false
}

// ToInt attempts to convert a value to int64. Floats are accepted only when integral.
func ToInt(v any) (int64, error) {
	if v == nil {
		return 0, errors.New("nil value")
	}

	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, errors.New("uint64 value overflow for int64")
		}
		return int64(val), nil
	case float32:
		return floatToInt(float64(val))
	case float64:
		return floatToInt(val)
	case string:
		return parseIntString(val)
	case []byte:
		return parseIntString(string(val))
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

func parseIntString(s string) (int64, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return 0, errors.New("empty string")
	}
	if i, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return i, nil
	}
	// CSV exports frequently write integers as "3.0"
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse '%s' as integer", cleaned)
	}
	return floatToInt(f)
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

// ToFloat attempts to convert a value to float64
func ToFloat(v any) (float64, error) {
	if v == nil {
		return 0, errors.New("nil value")
	}

	switch val := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return strconv.ParseFloat(ToString(val), 64)
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case string, []byte:
		cleaned := strings.TrimSpace(ToString(val))
		if cleaned == "" {
			return 0, errors.New("empty string")
		}
		// Decimal commas show up in semicolon separated exports
		if strings.Count(cleaned, ",") == 1 && !strings.Contains(cleaned, ".") {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse '%s' as float", cleaned)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}

// ToBool attempts to convert a value to bool
func ToBool(v any) (bool, error) {
	if v == nil {
		return false, errors.New("nil value")
	}

	switch val := v.(type) {
	case bool:
		return val, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		// 0 = false, anything else = true
		i, err := strconv.ParseInt(ToString(val), 10, 64)
		if err != nil {
			return false, err
		}
		return i != 0, nil
	case string, []byte:
		cleaned := strings.TrimSpace(strings.ToLower(ToString(val)))
		switch cleaned {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		default:
			return false, fmt.Errorf("cannot parse '%s' as boolean", cleaned)
		}
	default:
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
}
