package jsonutil

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{
			name:  "string value",
			input: json.RawMessage(`"hello"`),
			want:  "hello",
		},
		{
			name:  "integer value",
			input: json.RawMessage(`42`),
			want:  "42",
		},
		{
			name:  "float value",
			input: json.RawMessage(`3.14`),
			want:  "3.14",
		},
		{
			name:  "boolean true",
			input: json.RawMessage(`true`),
			want:  "true",
		},
		{
			name:  "boolean false",
			input: json.RawMessage(`false`),
			want:  "false",
		},
		{
			name:  "null value",
			input: json.RawMessage(`null`),
			want:  "",
		},
		{
			name:  "empty raw message",
			input: json.RawMessage{},
			want:  "",
		},
		{
			name:  "nil raw message",
			input: nil,
			want:  "",
		},
		{
			name:  "large integer preserves precision",
			input: json.RawMessage(`9007199254740992`),
			want:  "9007199254740992",
		},
		{
			name:  "nested object falls back to raw string",
			input: json.RawMessage(`{"key":"value"}`),
			want:  `{"key":"value"}`,
		},
		{
			name:  "array falls back to raw string",
			input: json.RawMessage(`[1,2,3]`),
			want:  `[1,2,3]`,
		},
		{
			name:  "negative integer",
			input: json.RawMessage(`-7`),
			want:  "-7",
		},
		{
			name:  "zero",
			input: json.RawMessage(`0`),
			want:  "0",
		},
		{
			name:  "empty string",
			input: json.RawMessage(`""`),
			want:  "",
		},
		{
			name:  "decimal keeps trailing zeros",
			input: json.RawMessage(`19.990`),
			want:  "19.990",
		},
		{
			name:  "exponent kept as written",
			input: json.RawMessage(`1e3`),
			want:  "1e3",
		},
		{
			name:  "surrounding whitespace",
			input: json.RawMessage(" 42 "),
			want:  "42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleStringValue(tt.input)
			if got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", string(tt.input), got, tt.want)
			}
		})
	}
}

func TestFlattenObject(t *testing.T) {
	got, err := FlattenObject([]byte(`{"make":"Saab","mpg":27,"price":31999.50,"electric":false,"note":null}`))
	if err != nil {
		t.Fatalf("FlattenObject failed: %v", err)
	}

	want := map[string]string{"make": "Saab", "mpg": "27", "price": "31999.50", "electric": "false"}
	if len(got) != len(want) {
		t.Fatalf("expected %d members, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("member %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestFlattenObject_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"nested object", `{"car":{"make":"Saab"}}`},
		{"array member", `{"ids":[1,2]}`},
		{"top-level array", `[{"make":"Saab"}]`},
		{"invalid json", `{"make":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FlattenObject([]byte(tt.input))
			if !errors.Is(err, ErrNotFlat) {
				t.Errorf("expected ErrNotFlat, got %v", err)
			}
		})
	}
}
