package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// FormatValue formats a single value for display to the LLM.
// Floats are rounded to 2 decimal places to avoid long decimals (like 3.3333333333333335)
// that can confuse the LLM into thinking they're encoded values.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		if val == float32(math.Trunc(float64(val))) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", sanitizeValue(v))
	}
}

// SanitizeRows converts driver values into JSON-friendly equivalents in place.
// NaN and infinite floats become nil, times are normalized to UTC, and
// pointers are dereferenced.
func SanitizeRows(rows []map[string]any) {
	for _, row := range rows {
		for k, v := range row {
			row[k] = sanitizeValue(v)
		}
	}
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case float32:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return nil
		}
		return val
	case time.Time:
		return val.UTC()
	case []byte:
		return string(val)
	case *big.Int:
		if val == nil {
			return nil
		}
		return val.String()
	case big.Int:
		return val.String()
	case net.IP:
		return val.String()
	case uuid.UUID:
		return val.String()
	case json.Marshaler, fmt.Stringer:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = sanitizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitizeValue(iter.Value().Interface())
		}
		return out
	}
	return v
}

// MarshalRows serializes sanitized rows for storage and size accounting.
func MarshalRows(rows []map[string]any) ([]byte, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}
	return data, nil
}
