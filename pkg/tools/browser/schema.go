package browser

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// validateParams checks raw against the action schema and returns a copy
// with values coerced to their declared types. Model output arrives as
// strings, so "3" is accepted for an integer and "true" for a boolean.
func validateParams(action Action, raw map[string]any) (Params, error) {
	props, _ := action.Schema["properties"].(map[string]interface{})
	out := make(Params, len(raw))

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, ok := props[key].(map[string]interface{})
		if !ok {
			return nil, &ValidationError{Action: action.Name, Detail: fmt.Sprintf("unknown parameter %q", key)}
		}
		typ, _ := prop["type"].(string)
		v, err := coerce(typ, raw[key])
		if err != nil {
			return nil, &ValidationError{Action: action.Name, Detail: fmt.Sprintf("parameter %q: %v", key, err)}
		}
		if err := checkEnum(prop, v); err != nil {
			return nil, &ValidationError{Action: action.Name, Detail: fmt.Sprintf("parameter %q: %v", key, err)}
		}
		out[key] = v
	}

	for _, key := range requiredParams(action.Schema) {
		v, ok := out[key]
		if !ok {
			return nil, &ValidationError{Action: action.Name, Detail: fmt.Sprintf("missing required parameter %q", key)}
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return nil, &ValidationError{Action: action.Name, Detail: fmt.Sprintf("parameter %q must not be empty", key)}
		}
	}
	return out, nil
}

func requiredParams(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func coerce(typ string, v any) (any, error) {
	switch typ {
	case "integer":
		return toInt(v)
	case "number":
		return toFloat(v)
	case "boolean":
		return toBool(v)
	case "string":
		switch s := v.(type) {
		case string:
			return s, nil
		case int, int64, float64, bool:
			return fmt.Sprint(s), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	default:
		return v, nil
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("expected boolean, got %q", b)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("expected boolean, got %T", v)
}

func checkEnum(prop map[string]interface{}, v any) error {
	values, ok := prop["enum"].([]string)
	if !ok {
		return nil
	}
	s, _ := v.(string)
	for _, allowed := range values {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(values, ", "))
}
