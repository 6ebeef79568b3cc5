// Package rulegraph compiles a sealed rule registry into an immutable
// dependency graph of rule applications.
//
// Compilation is a one-time, whole-registry, goal-directed search: for every
// requested (output type, available param types) combination it finds the
// witness chain from available inputs down to raw parameters, or fails
// loudly. The compiled graph is shared, read-only, by every execution
// session for the life of the process.
package rulegraph

import (
	"reflect"
	"sort"
	"strings"

	"github.com/vk/forgectl/internal/rule"
)

// NodeID indexes a node in the graph's arena. Nodes reference each other by
// ID rather than by pointer, which keeps eviction and cycle detection free
// of reference cycles.
type NodeID int

// Kind discriminates the two node flavors.
type Kind uint8

const (
	// KindParam satisfies a requested type directly from a caller-supplied
	// parameter value.
	KindParam Kind = iota
	// KindRule satisfies a requested type by applying a rule.
	KindRule
)

// MemberEdge is one runtime-selectable branch of a nested-request edge. For
// a concrete subject there is exactly one; for a union-base subject there is
// one per registered member, selected by the subject value's dynamic type.
type MemberEdge struct {
	Subject reflect.Type
	Node    NodeID
}

// GetEdge is the compiled resolution of one declared nested request.
type GetEdge struct {
	Constraint rule.GetConstraint
	Members    []MemberEdge
}

// Member returns the branch for a concrete subject type.
func (e GetEdge) Member(subject reflect.Type) (NodeID, bool) {
	for _, m := range e.Members {
		if m.Subject == subject {
			return m.Node, true
		}
	}
	return 0, false
}

// Node is a type-level resolution result: a rule application (or raw
// parameter) for one reachable (requested type, param set) combination.
// Nodes are created at compile time and immutable thereafter.
type Node struct {
	ID     NodeID
	Kind   Kind
	Output reflect.Type

	// Params is the full set of parameter types in scope at this node.
	Params ParamSet
	// Used is the subset of Params actually consumed by this node's
	// subtree; it is the portion of scope that feeds the fingerprint.
	Used ParamSet

	// Rule, Inputs and Gets are set for KindRule nodes only. Inputs holds
	// one resolution per declared input type, Gets one edge per declared
	// nested request.
	Rule   *rule.Rule
	Inputs []NodeID
	Gets   []GetEdge
}

// Root names one entry point callers may execute against.
type Root struct {
	Output reflect.Type
	Params ParamSet
}

type rootKey struct {
	output reflect.Type
	params string
}

// Graph is the compiled, immutable rule graph.
type Graph struct {
	nodes []Node
	roots []Root
	index map[rootKey]NodeID
}

// Node returns the node with the given ID.
func (g *Graph) Node(id NodeID) *Node {
	return &g.nodes[id]
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Roots returns the compiled entry points in compilation order.
func (g *Graph) Roots() []Root {
	out := make([]Root, len(g.roots))
	copy(out, g.roots)
	return out
}

// Lookup finds the entry node for a root request.
func (g *Graph) Lookup(output reflect.Type, params ParamSet) (NodeID, bool) {
	id, ok := g.index[rootKey{output: output, params: params.Key()}]
	return id, ok
}

// ParamSet is a deterministic set of parameter types, ordered by canonical
// type name. The zero value is the empty set. ParamSets are values: With
// returns a new set and never mutates its receiver.
type ParamSet struct {
	types []reflect.Type
}

// NewParamSet builds a set from the given types, deduplicated and sorted.
func NewParamSet(types ...reflect.Type) ParamSet {
	var s ParamSet
	for _, t := range types {
		s = s.With(t)
	}
	return s
}

// ParamSetOf builds the set of dynamic types of the given values.
func ParamSetOf(vals ...any) ParamSet {
	types := make([]reflect.Type, 0, len(vals))
	for _, v := range vals {
		types = append(types, reflect.TypeOf(v))
	}
	return NewParamSet(types...)
}

// With returns the set extended by t.
func (s ParamSet) With(t reflect.Type) ParamSet {
	if s.Contains(t) {
		return s
	}
	out := make([]reflect.Type, 0, len(s.types)+1)
	out = append(out, s.types...)
	out = append(out, t)
	sort.Slice(out, func(i, j int) bool {
		return canonicalTypeName(out[i]) < canonicalTypeName(out[j])
	})
	return ParamSet{types: out}
}

// Without returns the set with t removed.
func (s ParamSet) Without(t reflect.Type) ParamSet {
	if !s.Contains(t) {
		return s
	}
	out := make([]reflect.Type, 0, len(s.types)-1)
	for _, have := range s.types {
		if have != t {
			out = append(out, have)
		}
	}
	return ParamSet{types: out}
}

// Contains reports whether t is in the set.
func (s ParamSet) Contains(t reflect.Type) bool {
	for _, have := range s.types {
		if have == t {
			return true
		}
	}
	return false
}

// Types returns the member types in canonical order.
func (s ParamSet) Types() []reflect.Type {
	out := make([]reflect.Type, len(s.types))
	copy(out, s.types)
	return out
}

// Len returns the number of member types.
func (s ParamSet) Len() int {
	return len(s.types)
}

// Key returns the canonical string key for memoization and map indexing.
func (s ParamSet) Key() string {
	names := make([]string, len(s.types))
	for i, t := range s.types {
		names[i] = canonicalTypeName(t)
	}
	return strings.Join(names, ",")
}

func (s ParamSet) String() string {
	return "[" + s.Key() + "]"
}

// canonicalTypeName returns a package-path-qualified name so two types with
// the same short name in different packages never collide.
func canonicalTypeName(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
