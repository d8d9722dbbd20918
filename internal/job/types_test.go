package job

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"batchbridge/internal/apperrors"
)

func TestValue_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"string", String("normal"), "normal"},
		{"int", Int(32000), "32000"},
		{"float", Float(1.5), "1.5"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"zero value", Value{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.v.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValue_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		wantType AttrType
		wantText string
		wantErr  bool
	}{
		{"quoted string", `"normal"`, TypeString, "normal", false},
		{"integer", `32000`, TypeInt, "32000", false},
		{"negative integer", `-5`, TypeInt, "-5", false},
		{"float", `1.25`, TypeFloat, "1.25", false},
		{"exponent is float", `1e3`, TypeFloat, "1000", false},
		{"bool", `true`, TypeBool, "true", false},
		{"numeric string stays string", `"180"`, TypeString, "180", false},
		{"object rejected", `{"a":1}`, "", "", true},
		{"array rejected", `[1]`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var v Value
			err := json.Unmarshal([]byte(tt.raw), &v)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Type() != tt.wantType {
				t.Errorf("Type() = %q, want %q", v.Type(), tt.wantType)
			}
			if v.Text() != tt.wantText {
				t.Errorf("Text() = %q, want %q", v.Text(), tt.wantText)
			}
		})
	}
}

func TestValue_MarshalRoundTrip(t *testing.T) {
	t.Parallel()

	attrs := map[string]Value{
		"queue":           String("normal"),
		"memory":          Int(32000),
		"cpu_factor":      Float(0.5),
		"exclusive":       Bool(true),
		"runtime_minutes": Int(180),
	}

	raw, err := json.Marshal(attrs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]Value
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for name, want := range attrs {
		got := back[name]
		if got.Type() != want.Type() || got.Text() != want.Text() {
			t.Errorf("%s: round-trip = (%s, %q), want (%s, %q)", name, got.Type(), got.Text(), want.Type(), want.Text())
		}
	}
}

func TestParseSchema(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name: "valid schema",
			raw:  `{"memory": {"type": "Int", "default": 2048}, "queue": {"type": "String"}}`,
		},
		{
			name: "empty schema",
			raw:  "{}",
		},
		{
			name: "blank schema",
			raw:  "  ",
		},
		{
			name:    "invalid JSON",
			raw:     `{"memory": {`,
			wantErr: "invalid schema",
		},
		{
			name:    "unknown type",
			raw:     `{"memory": {"type": "Bytes"}}`,
			wantErr: "unknown type",
		},
		{
			name:    "default type mismatch",
			raw:     `{"memory": {"type": "Int", "default": "lots"}}`,
			wantErr: "declared Int",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := ParseSchema(tt.raw)
			if tt.wantErr != "" {
				if !errors.Is(err, apperrors.ErrConfiguration) {
					t.Fatalf("expected configuration error, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s == nil {
				t.Error("expected non-nil schema")
			}
		})
	}
}

func TestSchema_ApplyDefaults(t *testing.T) {
	t.Parallel()

	s, err := ParseSchema(`{"memory": {"type": "Int", "default": 2048}, "queue": {"type": "String", "default": "normal"}, "runtime_minutes": {"type": "Int"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := map[string]Value{"memory": Int(32000)}
	out := s.ApplyDefaults(in)

	if got := out["memory"].Text(); got != "32000" {
		t.Errorf("explicit value overridden: memory = %q", got)
	}
	if got := out["queue"].Text(); got != "normal" {
		t.Errorf("default not applied: queue = %q", got)
	}
	if _, ok := out["runtime_minutes"]; ok {
		t.Error("attribute without default should stay absent")
	}
	if len(in) != 1 {
		t.Error("input map was mutated")
	}
}

func TestSchema_HasDefault(t *testing.T) {
	t.Parallel()

	s, err := ParseSchema(`{"memory": {"type": "Int", "default": 2048}, "account": {"type": "String"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.HasDefault("memory") {
		t.Error("memory declares a default")
	}
	if s.HasDefault("account") {
		t.Error("account declares no default")
	}
	if s.HasDefault("gpus") {
		t.Error("undeclared attribute cannot have a default")
	}
}

func TestSchema_Validate(t *testing.T) {
	t.Parallel()

	s, err := ParseSchema(`{"memory": {"type": "Int"}, "queue": {"type": "String"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		attrs   map[string]Value
		wantErr string
	}{
		{
			name:  "valid",
			attrs: map[string]Value{"memory": Int(1024), "queue": String("fast")},
		},
		{
			name:  "partial is valid",
			attrs: map[string]Value{"queue": String("fast")},
		},
		{
			name:    "undeclared attribute",
			attrs:   map[string]Value{"gpus": Int(2)},
			wantErr: "not declared",
		},
		{
			name:    "type mismatch",
			attrs:   map[string]Value{"memory": String("lots")},
			wantErr: "declared Int",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := s.Validate(tt.attrs)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestSpec_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	raw := `{
		"name": "align-reads",
		"script": "/data/align.sh",
		"workDir": "/scratch/align-reads",
		"attributes": {"memory": 32000, "queue": "normal", "runtime_minutes": 180},
		"localization": "copy",
		"callback": {"url": "http://workflow:8080/events", "events": ["batchbridge.job.succeeded"]}
	}`

	var spec Spec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if spec.Name != "align-reads" || spec.Script != "/data/align.sh" {
		t.Errorf("unexpected spec identity: %+v", spec)
	}
	if got := spec.Attributes["memory"]; got.Type() != TypeInt || got.Text() != "32000" {
		t.Errorf("memory = (%s, %q)", got.Type(), got.Text())
	}
	if got := spec.Attributes["queue"]; got.Type() != TypeString || got.Text() != "normal" {
		t.Errorf("queue = (%s, %q)", got.Type(), got.Text())
	}
	if spec.Callback == nil || spec.Callback.URL != "http://workflow:8080/events" {
		t.Errorf("callback = %+v", spec.Callback)
	}
}
