package scheduler

import (
	"fmt"
	"strings"
)

// ExecutionError is a rule body's failure, carrying the originating rule
// identity and its bound parameters. Nested failures wrap, so the root
// caller sees the innermost cause plus the chain of requesting rules that
// led to it.
type ExecutionError struct {
	Rule   string
	Params []string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("rule %s(%s) failed: %v", e.Rule, strings.Join(e.Params, ", "), e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
