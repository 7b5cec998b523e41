package schema

import "fmt"

// maxParamLength bounds any single extracted path or event parameter.
const maxParamLength = 512

// ParameterError reports a populated path parameter that failed the character
// class or length check. Name and Value are retained for diagnostics; the
// dispatcher maps this to a 400-class outcome before any middleware runs.
type ParameterError struct {
	Name  string
	Value string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("schema: invalid parameter %q: %q", e.Name, e.Value)
}

// ValidateParam checks an extracted parameter value against a conservative
// character class (letters, digits, hyphen, underscore, dot, slash) and a
// maximum length. An empty value is treated as absent and passes; a populated
// value that fails yields a *ParameterError. The dot/slash combination is
// still safe against traversal because ".." as a path segment is rejected.
func ValidateParam(name, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxParamLength {
		return &ParameterError{Name: name, Value: value}
	}
	for i := 0; i < len(value); i++ {
		if !isParamByte(value[i]) {
			return &ParameterError{Name: name, Value: value}
		}
	}
	if hasDotDotSegment(value) {
		return &ParameterError{Name: name, Value: value}
	}
	return nil
}

func isParamByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '/':
		return true
	}
	return false
}

// hasDotDotSegment reports whether any slash-delimited segment is exactly
// "..", the only traversal form expressible in the allowed character class.
func hasDotDotSegment(v string) bool {
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == '/' {
			if i-start == 2 && v[start] == '.' && v[start+1] == '.' {
				return true
			}
			start = i + 1
		}
	}
	return false
}
