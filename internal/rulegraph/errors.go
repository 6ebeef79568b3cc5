package rulegraph

import (
	"fmt"
	"reflect"
	"strings"
)

// NoRuleFoundError reports that no registered rule can satisfy a required
// type from the available parameters. It names the unsatisfied type, its
// requester, and every candidate attempt that was rejected.
type NoRuleFoundError struct {
	Output    reflect.Type
	Params    ParamSet
	Requester string
	Attempts  []error
}

func (e *NoRuleFoundError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no rule found to compute %s with params %s (requested by %s)", e.Output, e.Params, e.Requester)
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "\n  rejected candidate: %v", a)
	}
	return sb.String()
}

// AmbiguousRuleError reports that more than one candidate satisfies a
// required type with no disambiguating signal. All candidates are named;
// the compiler never picks one silently.
type AmbiguousRuleError struct {
	Output     reflect.Type
	Params     ParamSet
	Candidates []string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("ambiguous rules for %s with params %s: candidates %s",
		e.Output, e.Params, strings.Join(e.Candidates, ", "))
}

// CycleError reports a cycle in the rule dependency structure, with the full
// chain of goals that closes the loop.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "rule graph cycle: " + strings.Join(e.Path, " -> ")
}
