package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// stringArg returns the first non-empty string argument among keys.
func stringArg(args map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		switch v := args[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v, true
			}
		case json.Number:
			return v.String(), true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

// numberArg reads a numeric argument, accepting numbers and numeric strings.
func numberArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q is not a number: %q", key, v)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing argument %q", key)
	default:
		return 0, fmt.Errorf("argument %q has unsupported type %T", key, v)
	}
}

// intArg reads an optional integer argument.
func intArg(args map[string]any, key string, def int) int {
	f, err := numberArg(args, key)
	if err != nil || f <= 0 {
		return def
	}
	return int(f)
}
