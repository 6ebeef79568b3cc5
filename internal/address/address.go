// Package address provides the structured, type-safe identifier for targets
// in the build graph, based on the canonical format
//
//	//path/to/dir:name#generated@key=val,key2=val2
//
// The declaring path is the directory holding the target's spec file. The
// generated component and the parameter qualifiers are optional. A reference
// may omit the name (`//path/to/dir` means `//path/to/dir:dir`) or the path
// (`:name` is relative to a base directory).
//
// This package enforces the identifier schema and centralizes all parsing
// and formatting logic.
package address

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Param is one key=value qualifier of a parametrized address.
type Param struct {
	Key   string
	Value string
}

// Address uniquely names a target. Equality is structural over all
// components.
type Address struct {
	// SpecPath is the declaring directory, slash-separated, relative to the
	// workspace root. Never absolute, never containing "..".
	SpecPath string
	// Name is the target's local name within the declaring spec file.
	Name string
	// Generated is the optional generated-target qualifier.
	Generated string
	// Params are the optional parameter qualifiers, sorted by key.
	Params []Param
}

// New builds an Address with sorted parameter qualifiers.
func New(specPath, name string) Address {
	return Address{SpecPath: specPath, Name: name}
}

// WithGenerated returns a copy naming a generated sub-target.
func (a Address) WithGenerated(name string) Address {
	a.Generated = name
	return a
}

// WithParams returns a copy carrying the given qualifiers, sorted by key.
func (a Address) WithParams(params ...Param) Address {
	sorted := append([]Param(nil), params...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	a.Params = sorted
	return a
}

// String serializes the Address into its canonical representation.
func (a Address) String() string {
	var sb strings.Builder
	sb.WriteString("//")
	sb.WriteString(a.SpecPath)
	sb.WriteByte(':')
	sb.WriteString(a.Name)
	if a.Generated != "" {
		sb.WriteByte('#')
		sb.WriteString(a.Generated)
	}
	if len(a.Params) > 0 {
		sb.WriteByte('@')
		for i, p := range a.Params {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(p.Key)
			sb.WriteByte('=')
			sb.WriteString(p.Value)
		}
	}
	return sb.String()
}

// Equal checks structural equality over all components.
func (a Address) Equal(other Address) bool {
	return reflect.DeepEqual(a, other)
}

// Fingerprint implements the structural hashing contract; the canonical
// string covers every component.
func (a Address) Fingerprint() []byte {
	return []byte(a.String())
}

// ParseError reports a malformed address.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Raw, e.Reason)
}
