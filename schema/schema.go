// Package schema compiles declarative payload schemas into validators used by
// the dispatcher. The supported shape is deliberately small: a flat object of
// primitive properties with optional length, range, enum and pattern
// constraints. Nested objects, arrays and composition constructs are rejected
// at compile time so that every route's contract stays cheap to evaluate and
// easy to render client-side.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Property types supported by the validator.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// ErrUncompilable indicates the schema itself is malformed. This is a
// configuration fault surfaced at route-registration time, never per request.
var ErrUncompilable = errors.New("schema: uncompilable schema")

// Schema is the declarative description of an expected payload object.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
	// AdditionalProperties permits keys outside Properties. Default false:
	// unknown keys are a validation failure.
	AdditionalProperties bool `json:"additionalProperties,omitempty"`
}

// Property constrains a single payload field. Pointer constraint fields are
// optional; a nil pointer means the constraint is not applied.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	MinLength   *int     `json:"minLength,omitempty"`
	MaxLength   *int     `json:"maxLength,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
}

// ValidationError carries every failure message for a rejected payload. The
// dispatcher surfaces all messages at once rather than the first hit.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "schema: payload invalid: " + strings.Join(e.Messages, "; ")
}

// Validator is a compiled, immutable checker. Safe for concurrent use.
type Validator struct {
	props    map[string]compiledProperty
	required []string
	allowAdd bool
}

type compiledProperty struct {
	Property
	pattern *regexp.Regexp
}

// Compile validates the schema and returns a reusable Validator. Compilation
// failures wrap ErrUncompilable and indicate a programming or deployment
// error, not a request-level condition.
func Compile(s Schema) (*Validator, error) {
	if len(s.Properties) == 0 {
		return nil, fmt.Errorf("%w: no properties", ErrUncompilable)
	}
	props := make(map[string]compiledProperty, len(s.Properties))
	for name, p := range s.Properties {
		switch p.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		default:
			return nil, fmt.Errorf("%w: property %q has unsupported type %q", ErrUncompilable, name, p.Type)
		}
		if p.MinLength != nil && *p.MinLength < 0 {
			return nil, fmt.Errorf("%w: property %q has negative minLength", ErrUncompilable, name)
		}
		if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
			return nil, fmt.Errorf("%w: property %q minLength greater than maxLength", ErrUncompilable, name)
		}
		if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
			return nil, fmt.Errorf("%w: property %q minimum greater than maximum", ErrUncompilable, name)
		}
		if len(p.Enum) > 0 && p.Type != TypeString {
			return nil, fmt.Errorf("%w: property %q enum requires string type", ErrUncompilable, name)
		}
		cp := compiledProperty{Property: p}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: property %q pattern: %v", ErrUncompilable, name, err)
			}
			cp.pattern = re
		}
		props[name] = cp
	}
	seen := map[string]struct{}{}
	var req []string
	for _, name := range s.Required {
		if _, ok := props[name]; !ok {
			return nil, fmt.Errorf("%w: required property %q not declared", ErrUncompilable, name)
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			req = append(req, name)
		}
	}
	return &Validator{props: props, required: req, allowAdd: s.AdditionalProperties}, nil
}

// MustCompile is Compile for static route tables; it panics on a bad schema.
func MustCompile(s Schema) *Validator {
	v, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateJSON decodes raw JSON bytes and validates the resulting object.
// Empty input is treated as an empty object so that schemas with no required
// properties accept bodyless requests.
func (v *Validator) ValidateJSON(raw []byte) (map[string]any, error) {
	obj := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, &ValidationError{Messages: []string{"payload must be a JSON object"}}
		}
	}
	return v.Validate(obj)
}

// Validate checks a decoded payload object. On success the payload is
// returned unchanged in shape; on failure a *ValidationError lists every
// failing property. Validation is pure: the input map is never mutated.
func (v *Validator) Validate(obj map[string]any) (map[string]any, error) {
	var msgs []string

	for _, name := range v.required {
		if _, ok := obj[name]; !ok {
			msgs = append(msgs, fmt.Sprintf("%s: required property is missing", name))
		}
	}

	// Deterministic message ordering across runs.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		cp, ok := v.props[name]
		if !ok {
			if !v.allowAdd {
				msgs = append(msgs, fmt.Sprintf("%s: unknown property", name))
			}
			continue
		}
		msgs = append(msgs, cp.check(name, obj[name])...)
	}

	if len(msgs) > 0 {
		return nil, &ValidationError{Messages: msgs}
	}
	return obj, nil
}

func (cp compiledProperty) check(name string, val any) []string {
	var msgs []string
	switch cp.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			return []string{fmt.Sprintf("%s: must be a string", name)}
		}
		if cp.MinLength != nil && len(s) < *cp.MinLength {
			msgs = append(msgs, fmt.Sprintf("%s: length must be at least %d", name, *cp.MinLength))
		}
		if cp.MaxLength != nil && len(s) > *cp.MaxLength {
			msgs = append(msgs, fmt.Sprintf("%s: length must be at most %d", name, *cp.MaxLength))
		}
		if len(cp.Enum) > 0 && !containsString(cp.Enum, s) {
			msgs = append(msgs, fmt.Sprintf("%s: must be one of %s", name, strings.Join(cp.Enum, ", ")))
		}
		if cp.pattern != nil && !cp.pattern.MatchString(s) {
			msgs = append(msgs, fmt.Sprintf("%s: must match pattern %s", name, cp.Pattern))
		}
	case TypeNumber, TypeInteger:
		n, ok := asFloat(val)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s: must be a number", name))
			break
		}
		if cp.Type == TypeInteger && n != float64(int64(n)) {
			msgs = append(msgs, fmt.Sprintf("%s: must be an integer", name))
		}
		if cp.Minimum != nil && n < *cp.Minimum {
			msgs = append(msgs, fmt.Sprintf("%s: must be at least %v", name, *cp.Minimum))
		}
		if cp.Maximum != nil && n > *cp.Maximum {
			msgs = append(msgs, fmt.Sprintf("%s: must be at most %v", name, *cp.Maximum))
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			msgs = append(msgs, fmt.Sprintf("%s: must be a boolean", name))
		}
	}
	return msgs
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
