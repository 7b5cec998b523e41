package schema

import (
	"errors"
	"testing"
)

type createNoteArgs struct {
	Title string `json:"title" jsonschema:"minLength=1,maxLength=255"`
	Body  string `json:"body,omitempty" jsonschema:"maxLength=10000"`
}

type nestedArgs struct {
	Inner struct {
		A string `json:"a"`
	} `json:"inner"`
}

func TestFromStruct(t *testing.T) {
	v, err := FromStruct[createNoteArgs]()
	if err != nil {
		t.Fatalf("FromStruct: %v", err)
	}

	if _, err := v.Validate(map[string]any{"title": "hello"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	_, err = v.Validate(map[string]any{"title": ""})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestFromStructRejectsNestedObjects(t *testing.T) {
	if _, err := FromStruct[nestedArgs](); !errors.Is(err, ErrUncompilable) {
		t.Fatalf("expected ErrUncompilable for nested object, got %v", err)
	}
}
