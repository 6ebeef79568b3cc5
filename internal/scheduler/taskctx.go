package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/vk/forgectl/internal/rule"
	"github.com/vk/forgectl/internal/rulegraph"
)

// taskContext is the engine surface handed to a running rule body. Get and
// MultiGet are the only suspension points: both give the worker slot back
// while the nested requests are in flight.
type taskContext struct {
	ctx  context.Context
	sess *Session
	e    *entry
	node *rulegraph.Node
}

var _ rule.TaskContext = (*taskContext)(nil)

func (tc *taskContext) Context() context.Context {
	return tc.ctx
}

// Get issues a single nested request and suspends until it is terminal. A
// failure may be caught by the body and substituted with a recovered value;
// an uncaught failure fails this node.
func (tc *taskContext) Get(product reflect.Type, subject any) (any, error) {
	tc.sess.slots.Release(1)
	defer func() {
		// Reacquisition cannot be declined here: cancellation surfaces
		// through the fetch below and through the body's context.
		_ = tc.sess.slots.Acquire(context.Background(), 1)
	}()
	return tc.fetch(tc.ctx, product, subject)
}

// MultiGet issues a batch of independent nested requests, each scheduled to
// run concurrently, and suspends until the failure policy lets it resume.
func (tc *taskContext) MultiGet(policy rule.FailurePolicy, reqs ...rule.Request) ([]any, error) {
	if policy != rule.FailFast && policy != rule.CollectAll {
		return nil, fmt.Errorf("rule %q: MultiGet requires an explicit failure policy", tc.node.Rule.Name)
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	tc.sess.slots.Release(1)
	defer func() {
		_ = tc.sess.slots.Acquire(context.Background(), 1)
	}()

	batchCtx, cancel := context.WithCancel(tc.ctx)
	defer cancel()

	results := make([]any, len(reqs))
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := tc.fetch(batchCtx, req.Product, req.Subject)
			results[i], errs[i] = v, err
			if err != nil && policy == rule.FailFast {
				// Cancel the in-flight siblings; shared nodes with other
				// waiters keep running.
				cancel()
			}
		}()
	}
	wg.Wait()

	switch policy {
	case rule.FailFast:
		// Surface the root cause, not the cancellations it triggered.
		for _, err := range errs {
			if err != nil && !errors.Is(err, context.Canceled) {
				return nil, err
			}
		}
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return results, nil
	default:
		if err := errors.Join(errs...); err != nil {
			return results, err
		}
		return results, nil
	}
}

// fetch resolves one declared nested request via the compiled edge for the
// subject's dynamic type.
func (tc *taskContext) fetch(ctx context.Context, product reflect.Type, subject any) (any, error) {
	subjectType := reflect.TypeOf(subject)
	for _, edge := range tc.node.Gets {
		if edge.Constraint.Product != product {
			continue
		}
		id, ok := edge.Member(subjectType)
		if !ok {
			if edge.Constraint.Subject.Kind() == reflect.Interface && subjectType != nil && subjectType.Implements(edge.Constraint.Subject) {
				return nil, fmt.Errorf("rule %q: type %s is not a registered member of union %s",
					tc.node.Rule.Name, subjectType, edge.Constraint.Subject)
			}
			continue
		}
		childScope := make(map[reflect.Type]any, len(tc.e.scope)+1)
		for t, v := range tc.e.scope {
			childScope[t] = v
		}
		childScope[subjectType] = subject
		return tc.sess.request(ctx, id, childScope, tc.e)
	}
	return nil, fmt.Errorf("rule %q did not declare Get(%s, %s)", tc.node.Rule.Name, product, subjectType)
}
