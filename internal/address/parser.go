package address

import (
	"regexp"
	"sort"
	"strings"
)

// componentRegex validates a single path segment, target name, generated
// name, or qualifier key/value.
var componentRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func validComponent(s string) bool {
	if s == "." || s == ".." || s == "-" {
		return false
	}
	return componentRegex.MatchString(s)
}

// ValidName reports whether s is usable as a target name, generated name,
// path segment, or qualifier component.
func ValidName(s string) bool {
	return validComponent(s)
}

// Parse creates an Address from its canonical string representation. The
// input must be workspace-rooted ("//..."); use ParseRelative for spec-file
// references that may be relative.
func Parse(raw string) (Address, error) {
	return ParseRelative(raw, "")
}

// ParseRelative parses raw, resolving the shorthand forms against base:
// ":name" refers to a sibling target in base, and a bare "//path" uses the
// last path segment as the default target name.
func ParseRelative(raw, base string) (Address, error) {
	if raw == "" {
		return Address{}, &ParseError{Raw: raw, Reason: "address cannot be empty"}
	}

	rest := raw

	// Split off qualifiers right-to-left: @params, then #generated.
	var paramsPart, generated string
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		paramsPart = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		generated = rest[i+1:]
		rest = rest[:i]
		if !validComponent(generated) {
			return Address{}, &ParseError{Raw: raw, Reason: "invalid generated name"}
		}
	}

	var specPath, name string
	switch {
	case strings.HasPrefix(rest, "//"):
		rest = rest[2:]
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			specPath, name = rest[:i], rest[i+1:]
		} else {
			// Default name is the last path segment.
			specPath = rest
			if j := strings.LastIndexByte(rest, '/'); j >= 0 {
				name = rest[j+1:]
			} else {
				name = rest
			}
		}
	case strings.HasPrefix(rest, ":"):
		if base == "" {
			return Address{}, &ParseError{Raw: raw, Reason: "relative address used without a base directory"}
		}
		specPath, name = base, rest[1:]
	default:
		return Address{}, &ParseError{Raw: raw, Reason: `must start with "//" or ":"`}
	}

	if specPath == "" {
		return Address{}, &ParseError{Raw: raw, Reason: "declaring path cannot be empty"}
	}
	if strings.HasPrefix(specPath, "/") {
		return Address{}, &ParseError{Raw: raw, Reason: "declaring path cannot be absolute"}
	}
	for _, segment := range strings.Split(specPath, "/") {
		if segment == ".." {
			return Address{}, &ParseError{Raw: raw, Reason: `declaring path cannot contain ".."`}
		}
		if !validComponent(segment) {
			return Address{}, &ParseError{Raw: raw, Reason: "invalid path segment " + segment}
		}
	}
	if !validComponent(name) {
		return Address{}, &ParseError{Raw: raw, Reason: "invalid target name"}
	}

	addr := Address{SpecPath: specPath, Name: name, Generated: generated}
	if paramsPart != "" {
		var params []Param
		for _, pair := range strings.Split(paramsPart, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || !validComponent(k) || !validComponent(v) {
				return Address{}, &ParseError{Raw: raw, Reason: "invalid parameter qualifier " + pair}
			}
			params = append(params, Param{Key: k, Value: v})
		}
		sort.Slice(params, func(i, j int) bool { return params[i].Key < params[j].Key })
		addr.Params = params
	}
	return addr, nil
}
