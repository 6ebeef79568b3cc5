// Package buildgraph maintains the addressable index of targets and their
// dependencies as a client of the scheduler: spec-file parsing, address
// resolution and dependency inference are all rule executions, memoized and
// keyed on the declaring file's content digest. The package holds no lock of
// its own — every cacheable operation goes through the scheduler's entry
// cache.
package buildgraph

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/forgectl/internal/address"
	"github.com/vk/forgectl/internal/digest"
)

// SpecFileName is the well-known spec file name within a declaring
// directory.
const SpecFileName = "BUILD.hcl"

// Field is one declared attribute of a target, in declaration order.
type Field struct {
	Name  string
	Value cty.Value
}

// Target is a declared build unit: an address, its typed fields, and its
// explicit dependency addresses. Inferred dependencies are computed lazily
// via the InferredDeps rule, never stored here.
type Target struct {
	Address address.Address
	// Type is the target type label, e.g. "go_library". Its schema is a
	// concern of the backend that registered it.
	Type   string
	Fields []Field
	// Deps are the explicitly declared dependency addresses.
	Deps []address.Address
	// Origin is the content digest of the declaring spec file; it is what
	// ties every derived cache entry to this file's content.
	Origin digest.Digest
}

// Field returns the value of the named field.
func (t *Target) Field(name string) (cty.Value, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return cty.NilVal, false
}

// Fingerprint identifies a target by its address and the content of its
// declaring file.
func (t *Target) Fingerprint() []byte {
	return []byte(t.Address.String() + "|" + t.Origin.String())
}

func (t *Target) String() string {
	return fmt.Sprintf("%s(%s)", t.Type, t.Address)
}

// Family holds every target declared by one spec file.
type Family struct {
	// Path is the declaring directory relative to the workspace root.
	Path    string
	Targets []*Target
	Origin  digest.Digest
}

// Find returns the target with the given local name, or nil.
func (f *Family) Find(name string) *Target {
	for _, t := range f.Targets {
		if t.Address.Name == name {
			return t
		}
	}
	return nil
}

// Fingerprint identifies a family by its path and file content.
func (f *Family) Fingerprint() []byte {
	return []byte(f.Path + "|" + f.Origin.String())
}

// ResolveError reports a missing declaring file or a missing target at a
// resolved address.
type ResolveError struct {
	Address   address.Address
	Reason    string
	Available []string
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("cannot resolve %s: %s", e.Address, e.Reason)
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (declared targets: %s)", strings.Join(e.Available, ", "))
	}
	return msg
}

// AmbiguousDependencyError reports an inferred reference with more than one
// unresolved candidate. It is never auto-resolved: every candidate is
// surfaced to the caller.
type AmbiguousDependencyError struct {
	Target     address.Address
	Ref        string
	Candidates []address.Address
}

func (e *AmbiguousDependencyError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.String()
	}
	return fmt.Sprintf("ambiguous inferred dependency %q of %s: candidates %s",
		e.Ref, e.Target, strings.Join(names, ", "))
}
