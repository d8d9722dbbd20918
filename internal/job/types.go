// Package job defines the job specification, status lifecycle, and
// identity types shared by the backend adapter and its API surface.
package job

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"batchbridge/internal/apperrors"
)

// Spec is an immutable description of one unit of work, fully resolved by
// the surrounding workflow engine before it reaches the adapter. The
// adapter owns it for the job's lifetime and never mutates it after
// acceptance.
type Spec struct {
	Name    string `json:"name"`
	Script  string `json:"script"`
	WorkDir string `json:"workDir,omitempty"`
	OutPath string `json:"out,omitempty"`
	ErrPath string `json:"err,omitempty"`

	// Attributes are the declared runtime attributes (memory, queue,
	// runtime_minutes, ...), already typed against the backend's schema.
	Attributes map[string]Value `json:"attributes,omitempty"`

	// Localization names the input/output localization strategy. The
	// adapter only threads it through to the external collaborator.
	Localization string `json:"localization,omitempty"`

	// Callback, when set, receives a CloudEvent per status transition.
	Callback *Callback `json:"callback,omitempty"`
}

// Callback configures status-event delivery for a job.
type Callback struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
	Key    string   `json:"key,omitempty"` // HMAC signing key
}

// AttrType is the declared type of a runtime attribute.
type AttrType string

const (
	TypeString AttrType = "String"
	TypeInt    AttrType = "Int"
	TypeFloat  AttrType = "Float"
	TypeBool   AttrType = "Boolean"
)

// Value is a typed runtime-attribute value.
type Value struct {
	typ AttrType
	s   string
	i   int64
	f   float64
	b   bool
}

// String creates a String-typed value.
func String(s string) Value { return Value{typ: TypeString, s: s} }

// Int creates an Int-typed value.
func Int(i int64) Value { return Value{typ: TypeInt, i: i} }

// Float creates a Float-typed value.
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }

// Bool creates a Boolean-typed value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// Type returns the value's declared type.
func (v Value) Type() AttrType { return v.typ }

// Text renders the value for template substitution.
func (v Value) Text() string {
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// UnmarshalJSON types a value by its JSON shape: numbers without a
// fractional part become Int, with one Float; strings and booleans map
// directly.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "true" || trimmed == "false":
		*v = Bool(trimmed == "true")
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	default:
		if !strings.ContainsAny(trimmed, ".eE") {
			i, err := strconv.ParseInt(trimmed, 10, 64)
			if err == nil {
				*v = Int(i)
				return nil
			}
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return fmt.Errorf("unsupported attribute value %s", trimmed)
		}
		*v = Float(f)
		return nil
	}
}

// MarshalJSON renders the value in its natural JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeInt:
		return json.Marshal(v.i)
	case TypeFloat:
		return json.Marshal(v.f)
	case TypeBool:
		return json.Marshal(v.b)
	default:
		return json.Marshal(v.s)
	}
}

// Decl declares one runtime attribute in the backend schema.
type Decl struct {
	Type    AttrType `json:"type"`
	Default *Value   `json:"default,omitempty"`
}

// Schema is the runtime-attributes declaration: allowed names, their types,
// and optional defaults.
type Schema map[string]Decl

// ParseSchema parses a JSON runtime-attributes schema, e.g.
//
//	{"memory": {"type": "Int", "default": 2048}, "queue": {"type": "String"}}
func ParseSchema(raw string) (Schema, error) {
	if strings.TrimSpace(raw) == "" || raw == "{}" {
		return Schema{}, nil
	}
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, apperrors.Configuration("runtime-attributes", fmt.Sprintf("invalid schema: %v", err))
	}
	for name, decl := range s {
		switch decl.Type {
		case TypeString, TypeInt, TypeFloat, TypeBool:
		default:
			return nil, apperrors.Configuration("runtime-attributes", fmt.Sprintf("attribute %q has unknown type %q", name, decl.Type))
		}
		if decl.Default != nil && decl.Default.Type() != decl.Type {
			return nil, apperrors.Configuration("runtime-attributes", fmt.Sprintf("attribute %q default is %s, declared %s", name, decl.Default.Type(), decl.Type))
		}
	}
	return s, nil
}

// Declares reports whether name is a declared attribute.
func (s Schema) Declares(name string) bool {
	_, ok := s[name]
	return ok
}

// HasDefault reports whether name is declared with a default value.
func (s Schema) HasDefault(name string) bool {
	decl, ok := s[name]
	return ok && decl.Default != nil
}

// ApplyDefaults fills missing attributes that have declared defaults.
// The input map is not modified.
func (s Schema) ApplyDefaults(attrs map[string]Value) map[string]Value {
	out := make(map[string]Value, len(s))
	for k, v := range attrs {
		out[k] = v
	}
	for name, decl := range s {
		if _, ok := out[name]; !ok && decl.Default != nil {
			out[name] = *decl.Default
		}
	}
	return out
}

// Validate checks attrs against the schema: no undeclared names, no type
// mismatches. Presence is not a schema concern; the adapter requires the
// attributes its submit template references and that carry no default.
func (s Schema) Validate(attrs map[string]Value) error {
	for name, v := range attrs {
		decl, ok := s[name]
		if !ok {
			return apperrors.Validation(name, fmt.Sprintf("attribute %q is not declared in runtime-attributes", name))
		}
		if v.Type() != decl.Type {
			return apperrors.Validation(name, fmt.Sprintf("attribute %q is %s, declared %s", name, v.Type(), decl.Type))
		}
	}
	return nil
}

// Handle is the caller-facing reference to a submitted job, valid for the
// adapter's process lifetime.
type Handle struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId,omitempty"`
	Status     Status `json:"status"`
}

// StatusReport is the current view of a job.
type StatusReport struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId,omitempty"`
	Status     Status `json:"status"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ListReport is the response shape for listing jobs.
type ListReport struct {
	Jobs []StatusReport `json:"jobs"`
}
