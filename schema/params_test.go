package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateParamAcceptsSafeValues(t *testing.T) {
	for _, v := range []string{"42", "notes/42", "a-b_c.d", "UPPER.lower", "v1/items/7"} {
		if err := ValidateParam("id", v); err != nil {
			t.Fatalf("expected %q to be accepted: %v", v, err)
		}
	}
}

func TestValidateParamEmptyIsAbsent(t *testing.T) {
	if err := ValidateParam("id", ""); err != nil {
		t.Fatalf("empty value must be treated as absent: %v", err)
	}
}

func TestValidateParamRejectsTraversal(t *testing.T) {
	err := ValidateParam("path", "../etc/passwd")
	var perr *ParameterError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParameterError, got %v", err)
	}
	if perr.Name != "path" || perr.Value != "../etc/passwd" {
		t.Fatalf("error does not carry diagnostics: %+v", perr)
	}
}

func TestValidateParamRejectsBadBytes(t *testing.T) {
	for _, v := range []string{"a b", "a%20b", "id;drop", "café", "a\x00b"} {
		if err := ValidateParam("id", v); err == nil {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func TestValidateParamRejectsOverlongValues(t *testing.T) {
	long := strings.Repeat("a", maxParamLength+1)
	if err := ValidateParam("id", long); err == nil {
		t.Fatal("expected overlong value to be rejected")
	}
	ok := strings.Repeat("a", maxParamLength)
	if err := ValidateParam("id", ok); err != nil {
		t.Fatalf("value at the limit should pass: %v", err)
	}
}

func TestValidateParamRejectsEmbeddedDotDot(t *testing.T) {
	if err := ValidateParam("path", "notes/../secret"); err == nil {
		t.Fatal("expected embedded traversal segment to be rejected")
	}
	if err := ValidateParam("path", "notes/..hidden"); err != nil {
		t.Fatalf("dot-prefixed segment is not traversal: %v", err)
	}
}
