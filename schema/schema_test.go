package schema

import (
	"errors"
	"strings"
	"testing"
)

func intp(n int) *int          { return &n }
func floatp(f float64) *float64 { return &f }

func TestCompileRejectsBadSchemas(t *testing.T) {
	cases := []struct {
		name string
		s    Schema
	}{
		{"empty", Schema{}},
		{"unknown type", Schema{Properties: map[string]Property{"a": {Type: "object"}}}},
		{"negative minLength", Schema{Properties: map[string]Property{"a": {Type: TypeString, MinLength: intp(-1)}}}},
		{"min greater than max length", Schema{Properties: map[string]Property{"a": {Type: TypeString, MinLength: intp(5), MaxLength: intp(1)}}}},
		{"min greater than max", Schema{Properties: map[string]Property{"a": {Type: TypeNumber, Minimum: floatp(2), Maximum: floatp(1)}}}},
		{"enum on number", Schema{Properties: map[string]Property{"a": {Type: TypeNumber, Enum: []string{"x"}}}}},
		{"undeclared required", Schema{Properties: map[string]Property{"a": {Type: TypeString}}, Required: []string{"b"}}},
		{"bad pattern", Schema{Properties: map[string]Property{"a": {Type: TypeString, Pattern: "("}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Compile(tc.s); !errors.Is(err, ErrUncompilable) {
				t.Fatalf("expected ErrUncompilable, got %v", err)
			}
		})
	}
}

func TestValidateTitleLengthBounds(t *testing.T) {
	v := MustCompile(Schema{
		Properties: map[string]Property{
			"title": {Type: TypeString, MinLength: intp(1), MaxLength: intp(255)},
		},
		Required: []string{"title"},
	})

	got, err := v.Validate(map[string]any{"title": "ok"})
	if err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if got["title"] != "ok" {
		t.Fatalf("payload shape changed: %v", got)
	}

	_, err = v.Validate(map[string]any{"title": ""})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Messages) != 1 {
		t.Fatalf("expected exactly one message, got %v", verr.Messages)
	}
	if !strings.Contains(verr.Messages[0], "title") {
		t.Fatalf("message does not reference the property: %q", verr.Messages[0])
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	v := MustCompile(Schema{
		Properties: map[string]Property{
			"title": {Type: TypeString, MinLength: intp(1)},
			"count": {Type: TypeInteger, Minimum: floatp(0)},
		},
		Required: []string{"title", "count"},
	})

	_, err := v.Validate(map[string]any{"title": "", "count": -3, "bogus": true})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Messages) != 3 {
		t.Fatalf("expected 3 messages (title, count, bogus), got %v", verr.Messages)
	}
}

func TestValidateTypeChecks(t *testing.T) {
	v := MustCompile(Schema{
		Properties: map[string]Property{
			"flag":  {Type: TypeBoolean},
			"level": {Type: TypeInteger},
			"mode":  {Type: TypeString, Enum: []string{"on", "off"}},
		},
	})

	_, err := v.Validate(map[string]any{"flag": "yes", "level": 1.5, "mode": "auto"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %v", verr.Messages)
	}

	if _, err := v.Validate(map[string]any{"flag": true, "level": float64(2), "mode": "on"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}

func TestValidateJSON(t *testing.T) {
	v := MustCompile(Schema{
		Properties: map[string]Property{"name": {Type: TypeString}},
	})

	if _, err := v.ValidateJSON(nil); err != nil {
		t.Fatalf("empty body with no required properties should pass: %v", err)
	}
	if _, err := v.ValidateJSON([]byte(`[1,2]`)); err == nil {
		t.Fatal("non-object JSON should fail validation")
	}
	got, err := v.ValidateJSON([]byte(`{"name":"n"}`))
	if err != nil {
		t.Fatalf("valid JSON rejected: %v", err)
	}
	if got["name"] != "n" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	v := MustCompile(Schema{
		Properties: map[string]Property{"name": {Type: TypeString}},
	})
	in := map[string]any{"name": "n"}
	out, err := v.Validate(in)
	if err != nil {
		t.Fatal(err)
	}
	out["name"] = "changed"
	// Validate returns the same map by contract; the validator itself must not
	// have written to it during checking.
	if len(in) != 1 {
		t.Fatalf("validator added keys: %v", in)
	}
}
