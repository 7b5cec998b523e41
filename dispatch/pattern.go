package dispatch

import (
	"fmt"
	"strings"
)

// pattern is a compiled path pattern. Matching is segment-level: a segment is
// either a literal or a named :param capturing exactly one segment. No
// regular expressions, no wildcards.
type pattern struct {
	raw      string
	segments []segment
}

type segment struct {
	literal string
	param   string // non-empty for :name segments
}

func compilePattern(raw string) (pattern, error) {
	if raw == "" || raw[0] != '/' {
		return pattern{}, fmt.Errorf("dispatch: pattern %q must start with /", raw)
	}
	p := pattern{raw: raw}
	seen := map[string]struct{}{}
	for _, part := range strings.Split(strings.Trim(raw, "/"), "/") {
		if part == "" {
			if raw == "/" {
				break
			}
			return pattern{}, fmt.Errorf("dispatch: pattern %q has an empty segment", raw)
		}
		if strings.HasPrefix(part, ":") {
			name := part[1:]
			if name == "" {
				return pattern{}, fmt.Errorf("dispatch: pattern %q has an unnamed parameter", raw)
			}
			if _, dup := seen[name]; dup {
				return pattern{}, fmt.Errorf("dispatch: pattern %q repeats parameter %q", raw, name)
			}
			seen[name] = struct{}{}
			p.segments = append(p.segments, segment{param: name})
			continue
		}
		p.segments = append(p.segments, segment{literal: part})
	}
	return p, nil
}

// match tests a concrete request path against the pattern and extracts named
// parameters. Parameter values are returned raw; the dispatcher validates
// them before anything else runs.
func (p pattern) match(path string) (map[string]string, bool) {
	parts := splitPath(path)
	if len(parts) != len(p.segments) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range p.segments {
		if seg.param != "" {
			if params == nil {
				params = map[string]string{}
			}
			params[seg.param] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
