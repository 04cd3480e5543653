package billing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/internal/pkg/webhook"
)

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func optionalString(m map[string]any, keys ...string) *string {
	s := stringField(m, keys...)
	if s == "" {
		return nil
	}
	return &s
}

func objectField(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}

// intField returns the first present key as an integer. ok is false when none
// of the keys is present; err is set when a present value is not numeric.
func intField(m map[string]any, keys ...string) (n int64, ok bool, err error) {
	for _, k := range keys {
		v, present := m[k]
		if !present || v == nil {
			continue
		}
		n, err := toInt64(v)
		if err != nil {
			return 0, true, &webhook.ParseError{Field: k, Reason: err.Error()}
		}
		return n, true, nil
	}
	return 0, false, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x.String())
		}
		return floatToInt(f)
	case float64:
		return floatToInt(x)
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return floatToInt(f)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int64(f), nil
}

func uintField(m map[string]any, keys ...string) (uint, error) {
	n, ok, err := intField(m, keys...)
	if err != nil || !ok {
		return 0, err
	}
	if n < 0 {
		return 0, &webhook.ParseError{Field: keys[0], Reason: "must not be negative"}
	}
	return uint(n), nil
}

// timeField accepts unix seconds (number or numeric string) or RFC3339.
func timeField(m map[string]any, key string) (*time.Time, error) {
	v, present := m[key]
	if !present || v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, &webhook.ParseError{Field: key, Reason: "expected unix seconds or RFC3339"}
	}
	t := time.Unix(n, 0).UTC()
	return &t, nil
}
