package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFlat is returned by FlattenObject when a member holds an object or array.
var ErrNotFlat = errors.New("request body must be a flat JSON object")

// FlexibleStringValue converts a json.RawMessage to the string a bind value
// expects. Strings are unquoted, numbers keep their literal text so decimals
// and large integers survive unchanged, booleans become "true"/"false".
// Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Numbers are returned as written
	var numVal json.Number
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal.String()
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// FlattenObject decodes a JSON object whose members are scalars into a map
// of string values. Null members are dropped.
func FlattenObject(data []byte) (map[string]string, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFlat, err)
	}

	out := make(map[string]string, len(members))
	for k, raw := range members {
		trimmed := strings.TrimSpace(string(raw))
		if trimmed == "null" {
			continue
		}
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return nil, fmt.Errorf("%w: member %q", ErrNotFlat, k)
		}
		out[k] = FlexibleStringValue(raw)
	}
	return out, nil
}
