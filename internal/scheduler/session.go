// Package scheduler executes concrete requests against a compiled rule
// graph.
//
// A Session memoizes every rule application by fingerprint: at most one
// execution per fingerprint is ever in flight, and concurrent requesters
// join the pending result instead of re-running the body. Rule bodies run
// on their own goroutines and suspend cooperatively at nested-request call
// sites, releasing their worker slot while they wait. Cancellation is
// reference counted: an entry is torn down only when its last live waiter
// goes away, and entries shared with other in-flight roots keep running.
package scheduler

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vk/forgectl/internal/ctxlog"
	"github.com/vk/forgectl/internal/digest"
	"github.com/vk/forgectl/internal/fingerprint"
	"github.com/vk/forgectl/internal/rulegraph"
)

// Options configures a Session.
type Options struct {
	// Workers bounds the number of rule bodies executing simultaneously.
	// Suspended bodies do not count against it. Defaults to 10.
	Workers int
}

// Session drives execution of root requests against a compiled graph and
// owns the per-fingerprint entry cache for its lifetime.
type Session struct {
	id      string
	graph   *rulegraph.Graph
	slots   *semaphore.Weighted
	baseCtx context.Context

	mu      sync.Mutex
	entries map[fingerprint.Fingerprint]*entry
	// dying holds evicted entries whose body has not yet unwound. A new
	// entry for the same fingerprint drains its predecessor before running,
	// keeping at most one execution per fingerprint in flight.
	dying map[fingerprint.Fingerprint]*entry
}

// NewSession creates a session over a compiled graph. ctx supplies the
// session-wide logger and outlives any single root request.
func NewSession(ctx context.Context, g *rulegraph.Graph, opts Options) *Session {
	workers := opts.Workers
	if workers <= 0 {
		workers = 10
	}
	s := &Session{
		id:      uuid.NewString(),
		graph:   g,
		slots:   semaphore.NewWeighted(int64(workers)),
		baseCtx: ctx,
		entries: make(map[fingerprint.Fingerprint]*entry),
		dying:   make(map[fingerprint.Fingerprint]*entry),
	}
	ctxlog.FromContext(ctx).Debug("Session created.", "session", s.id, "workers", workers)
	return s
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Len returns the number of cached entries.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Execute runs a root request: it resolves the compiled entry node for the
// requested output type and the dynamic types of params, then executes it
// with memoization. The result is either the produced value or a terminal
// error carrying the failing rule chain.
func (s *Session) Execute(ctx context.Context, output reflect.Type, params ...any) (any, error) {
	ps := rulegraph.ParamSetOf(params...)
	id, ok := s.graph.Lookup(output, ps)
	if !ok {
		return nil, fmt.Errorf("no compiled root for %s with params %s", output, ps)
	}
	scope := make(map[reflect.Type]any, len(params))
	for _, p := range params {
		scope[reflect.TypeOf(p)] = p
	}
	return s.request(ctx, id, scope, nil)
}

// Run is the typed convenience wrapper over Execute.
func Run[T any](ctx context.Context, s *Session, params ...any) (T, error) {
	v, err := s.Execute(ctx, reflect.TypeOf((*T)(nil)).Elem(), params...)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

type entryState int32

const (
	statePending entryState = iota
	stateRunning
	stateReady
	stateFailed
)

// entry is a value-level instance of a rule graph node: a RuleGraphNode
// bound to concrete parameter values, identified by fingerprint.
type entry struct {
	fp     fingerprint.Fingerprint
	node   rulegraph.NodeID
	scope  map[reflect.Type]any
	state  atomic.Int32
	done   chan struct{}
	value  any
	err    error
	cancel context.CancelFunc
	// prev is the evicted predecessor for the same fingerprint, drained
	// before this entry's body starts. Nil once drained.
	prev *entry

	// Guarded by the session mutex.
	waiters    int
	dependents map[fingerprint.Fingerprint]struct{}
	digests    []digest.Digest
}

func (e *entry) terminal() bool {
	st := entryState(e.state.Load())
	return st == stateReady || st == stateFailed
}

// request performs the synchronized insert-or-join for one node. requester,
// when non-nil, is the entry awaiting this one; the recorded edge is what
// invalidation walks.
func (s *Session) request(ctx context.Context, id rulegraph.NodeID, scope map[reflect.Type]any, requester *entry) (any, error) {
	n := s.graph.Node(id)
	if n.Kind == rulegraph.KindParam {
		v, ok := scope[n.Output]
		if !ok {
			return nil, fmt.Errorf("missing parameter value for %s", n.Output)
		}
		return v, nil
	}

	usedVals := make([]any, 0, n.Used.Len())
	for _, t := range n.Used.Types() {
		v, ok := scope[t]
		if !ok {
			return nil, fmt.Errorf("missing parameter value for %s required by rule %q", t, n.Rule.Name)
		}
		usedVals = append(usedVals, v)
	}
	fp, err := fingerprint.Of(n.Rule.Name, usedVals...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	e, ok := s.entries[fp]
	if !ok {
		runCtx, cancel := context.WithCancel(s.baseCtx)
		e = &entry{
			fp:         fp,
			node:       id,
			scope:      scope,
			done:       make(chan struct{}),
			cancel:     cancel,
			dependents: make(map[fingerprint.Fingerprint]struct{}),
			digests:    fingerprint.CollectDigests(usedVals...),
		}
		e.prev = s.dying[fp]
		s.entries[fp] = e
		go s.run(runCtx, e)
	}
	e.waiters++
	if requester != nil {
		e.dependents[requester.fp] = struct{}{}
	}
	s.mu.Unlock()

	select {
	case <-e.done:
		s.mu.Lock()
		e.waiters--
		s.mu.Unlock()
		if e.err != nil {
			return nil, e.err
		}
		return e.value, nil
	case <-ctx.Done():
		s.abandon(e)
		return nil, ctx.Err()
	}
}

// abandon drops one waiter. The last waiter leaving a non-terminal entry
// cancels and evicts it; terminal entries stay cached, the work is done.
func (s *Session) abandon(e *entry) {
	s.mu.Lock()
	e.waiters--
	evict := e.waiters <= 0 && !e.terminal()
	if evict {
		// The body may not have observed cancellation yet; park the entry
		// in dying so a re-request of the same fingerprint drains it before
		// starting a second execution.
		delete(s.entries, e.fp)
		s.dying[e.fp] = e
	}
	s.mu.Unlock()
	if evict {
		e.cancel()
	}
}

// run drives one entry through Pending -> Running -> Ready|Failed.
func (s *Session) run(ctx context.Context, e *entry) {
	n := s.graph.Node(e.node)
	logger := ctxlog.FromContext(ctx).With("session", s.id, "rule", n.Rule.Name, "fingerprint", e.fp.Short())

	finish := func(v any, err error) {
		if err != nil {
			e.err = err
			e.state.Store(int32(stateFailed))
			logger.Debug("Node failed.", "error", err)
		} else {
			e.value = v
			e.state.Store(int32(stateReady))
			logger.Debug("Node ready.")
		}
		close(e.done)
		s.mu.Lock()
		if s.dying[e.fp] == e {
			delete(s.dying, e.fp)
		}
		s.mu.Unlock()
	}

	// An evicted predecessor still unwinding holds the fingerprint's single
	// execution; wait for it to finish before doing any work.
	if e.prev != nil {
		select {
		case <-e.prev.done:
			e.prev = nil
		case <-ctx.Done():
			finish(nil, s.wrapError(n, e, ctx.Err()))
			return
		}
	}

	// Inputs resolve concurrently before the body takes a worker slot; the
	// entry stays Pending while its dependencies are in flight.
	inputs, err := s.resolveInputs(ctx, e, n)
	if err != nil {
		finish(nil, s.wrapError(n, e, err))
		return
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		finish(nil, s.wrapError(n, e, err))
		return
	}
	e.state.Store(int32(stateRunning))
	logger.Debug("Node running.")

	tc := &taskContext{ctx: ctx, sess: s, e: e, node: n}
	v, err := n.Rule.Body(tc, inputs)
	s.slots.Release(1)

	if err != nil {
		finish(nil, s.wrapError(n, e, err))
		return
	}
	finish(v, nil)
}

// resolveInputs computes the values for the rule's declared inputs, one per
// compiled input edge, all independent and therefore concurrent.
func (s *Session) resolveInputs(ctx context.Context, e *entry, n *rulegraph.Node) ([]any, error) {
	inputs := make([]any, len(n.Inputs))
	if len(n.Inputs) == 0 {
		return inputs, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, dep := range n.Inputs {
		i, dep := i, dep
		g.Go(func() error {
			v, err := s.request(gctx, dep, e.scope, e)
			if err != nil {
				return err
			}
			inputs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func (s *Session) wrapError(n *rulegraph.Node, e *entry, err error) error {
	rendered := make([]string, 0, n.Used.Len())
	for _, t := range n.Used.Types() {
		rendered = append(rendered, fmt.Sprintf("%s=%v", t, e.scope[t]))
	}
	return &ExecutionError{Rule: n.Rule.Name, Params: rendered, Err: err}
}
