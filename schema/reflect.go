package schema

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// FromStruct reflects a flat payload Schema from a Go struct type and compiles
// it. Field names follow json tags; jsonschema tags supply descriptions and
// constraints. Only the primitive property subset is accepted: a struct with
// nested objects, arrays or composition keywords is a compile error, matching
// the limits of hand-written schemas.
func FromStruct[T any]() (*Validator, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(T))
	if s == nil || s.Type != "object" {
		return nil, fmt.Errorf("%w: reflected type is not an object", ErrUncompilable)
	}

	out := Schema{Properties: map[string]Property{}}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			p, err := toProperty(el.Key, el.Value)
			if err != nil {
				return nil, err
			}
			out.Properties[el.Key] = p
		}
	}
	out.Required = append(out.Required, s.Required...)
	return Compile(out)
}

// MustFromStruct is FromStruct for static route tables; it panics on failure.
func MustFromStruct[T any]() *Validator {
	v, err := FromStruct[T]()
	if err != nil {
		panic(err)
	}
	return v
}

func toProperty(name string, s *jsonschema.Schema) (Property, error) {
	if s == nil {
		return Property{}, fmt.Errorf("%w: property %q has no schema", ErrUncompilable, name)
	}
	switch s.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean:
	default:
		return Property{}, fmt.Errorf("%w: property %q has unsupported type %q", ErrUncompilable, name, s.Type)
	}
	p := Property{
		Type:        s.Type,
		Description: s.Description,
		Pattern:     s.Pattern,
	}
	if s.MinLength != nil {
		n := int(*s.MinLength)
		p.MinLength = &n
	}
	if s.MaxLength != nil {
		n := int(*s.MaxLength)
		p.MaxLength = &n
	}
	if s.Minimum != "" {
		f, err := s.Minimum.Float64()
		if err != nil {
			return Property{}, fmt.Errorf("%w: property %q minimum: %v", ErrUncompilable, name, err)
		}
		p.Minimum = &f
	}
	if s.Maximum != "" {
		f, err := s.Maximum.Float64()
		if err != nil {
			return Property{}, fmt.Errorf("%w: property %q maximum: %v", ErrUncompilable, name, err)
		}
		p.Maximum = &f
	}
	for _, ev := range s.Enum {
		sv, ok := ev.(string)
		if !ok {
			return Property{}, fmt.Errorf("%w: property %q has non-string enum value", ErrUncompilable, name)
		}
		p.Enum = append(p.Enum, sv)
	}
	return p, nil
}
