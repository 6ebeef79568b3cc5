package rule

import (
	"context"
	"fmt"
	"reflect"
)

// TaskContext is the engine surface handed to a rule body. Get and MultiGet
// are the only suspension points: the body yields its worker slot while the
// engine resolves the requested dependencies.
type TaskContext interface {
	// Context returns the execution context for the running node. It is
	// cancelled when the node's last live waiter goes away.
	Context() context.Context

	// Get issues a single nested request for a product derived from subject.
	// The (product, subject-type) pair must be declared on the rule.
	Get(product reflect.Type, subject any) (any, error)

	// MultiGet issues a batch of independent nested requests and suspends
	// until all of them are terminal, subject to the failure policy.
	MultiGet(policy FailurePolicy, reqs ...Request) ([]any, error)
}

// Request names one entry of a batched nested request.
type Request struct {
	Product reflect.Type
	Subject any
}

// FailurePolicy selects how a batched nested request reacts to a failing
// sibling. There is no default: the zero value is rejected.
type FailurePolicy int

const (
	// FailFast cancels the remaining in-flight siblings and surfaces the
	// first failure.
	FailFast FailurePolicy = iota + 1
	// CollectAll runs every sibling to completion and surfaces an aggregate
	// of all failures.
	CollectAll
)

// GetConstraint declares a nested request a rule body may issue: it asks for
// Product values computed from a Subject value supplied mid-body.
type GetConstraint struct {
	Product reflect.Type
	Subject reflect.Type
}

func (g GetConstraint) String() string {
	return fmt.Sprintf("Get(%s, %s)", g.Product, g.Subject)
}

// Body is the executable part of a rule. Parameter values arrive in the
// order the rule declared its input types.
type Body func(tc TaskContext, params []any) (any, error)

// Rule is a declared computation: a typed output, ordered typed inputs, the
// nested requests the body may issue, and the body itself.
type Rule struct {
	Name   string
	Output reflect.Type
	Params []reflect.Type
	Gets   []GetConstraint
	Body   Body
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s(%s) -> %s", r.Name, typeList(r.Params), r.Output)
}

func typeList(types []reflect.Type) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += t.String()
	}
	return s
}

// Type returns the reflect.Type token for T. It is the way callers name
// requested output types.
func Type[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Get is the typed convenience wrapper over TaskContext.Get.
func Get[T any](tc TaskContext, subject any) (T, error) {
	v, err := tc.Get(Type[T](), subject)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// RequestFor builds a Request for product type T.
func RequestFor[T any](subject any) Request {
	return Request{Product: Type[T](), Subject: subject}
}

var (
	taskContextType = reflect.TypeOf((*TaskContext)(nil)).Elem()
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
)

// FromFunc builds a Rule from a Go function of the shape
//
//	func(rule.TaskContext, P0, P1, ...) (Out, error)
//
// The function's parameter and result types become the rule's declared
// signature; gets declares the nested requests the body may issue.
func FromFunc(name string, fn any, gets ...GetConstraint) (*Rule, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("rule %q: expected a function, got %T", name, fn)
	}
	if ft.NumIn() < 1 || ft.In(0) != taskContextType {
		return nil, fmt.Errorf("rule %q: first parameter must be rule.TaskContext", name)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("rule %q: variadic rule functions are not supported", name)
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return nil, fmt.Errorf("rule %q: must return (Out, error)", name)
	}

	params := make([]reflect.Type, 0, ft.NumIn()-1)
	for i := 1; i < ft.NumIn(); i++ {
		params = append(params, ft.In(i))
	}

	body := func(tc TaskContext, vals []any) (any, error) {
		args := make([]reflect.Value, 0, len(vals)+1)
		args = append(args, reflect.ValueOf(tc))
		for i, v := range vals {
			if v == nil {
				args = append(args, reflect.Zero(params[i]))
			} else {
				args = append(args, reflect.ValueOf(v))
			}
		}
		out := fv.Call(args)
		if !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}

	return &Rule{
		Name:   name,
		Output: ft.Out(0),
		Params: params,
		Gets:   gets,
		Body:   body,
	}, nil
}

// MustFromFunc is FromFunc for statically known-good signatures.
func MustFromFunc(name string, fn any, gets ...GetConstraint) *Rule {
	r, err := FromFunc(name, fn, gets...)
	if err != nil {
		panic(err)
	}
	return r
}
