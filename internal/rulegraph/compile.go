package rulegraph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/vk/forgectl/internal/ctxlog"
	"github.com/vk/forgectl/internal/rule"
)

// Compile seals the registry's contents into an immutable rule graph. It
// runs exactly once per process: every root in roots is resolved down to raw
// parameters via memoized goal-directed search, and the first unsatisfiable,
// ambiguous, or cyclic goal aborts compilation before any execution begins.
func Compile(ctx context.Context, reg *rule.Registry, roots []Root) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	if !reg.Sealed() {
		return nil, fmt.Errorf("registry must be sealed before compilation")
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no roots to compile")
	}

	c := &compiler{
		reg:     reg,
		memo:    make(map[goalKey]NodeID),
		fails:   make(map[goalKey]error),
		onStack: make(map[goalKey]int),
		dedupe:  make(map[string]NodeID),
	}

	rootIDs := make([]NodeID, len(roots))
	for i, r := range roots {
		id, _, err := c.resolve(goal{output: r.Output, params: r.Params}, "root")
		if err != nil {
			return nil, err
		}
		rootIDs[i] = id
	}

	c.computeUsed()
	g := c.compact(roots, rootIDs)
	logger.Debug("Rule graph compiled.", "roots", len(roots), "nodes", g.Len())
	return g, nil
}

type goal struct {
	output reflect.Type
	params ParamSet
}

type goalKey struct {
	output reflect.Type
	params string
}

func (g goal) key() goalKey {
	return goalKey{output: g.output, params: g.params.Key()}
}

func (g goal) String() string {
	return fmt.Sprintf("%s%s", g.output, g.params)
}

type compiler struct {
	reg   *rule.Registry
	nodes []Node

	// memo and fails cache sub-goal outcomes by (requested type, param set);
	// this cache bounds the otherwise exponential re-search.
	memo  map[goalKey]NodeID
	fails map[goalKey]error

	// onStack maps each in-flight goal to its stack depth; stack holds the
	// goals in resolution order for cycle reporting.
	onStack map[goalKey]int
	stack   []goal

	// dedupe guarantees at most one node per (rule, param set) pair.
	dedupe map[string]NodeID
}

// depFloorNone marks an outcome that depended on no in-flight goal and is
// therefore valid in any resolution context.
const depFloorNone = math.MaxInt

// resolve finds the witness for one goal. Alongside the result it returns
// the outcome's dependency floor: the lowest stack depth of any in-flight
// goal whose presence on the stack shaped the outcome (a candidate rejected
// for cycling through it). A failure whose floor reaches below the current
// frame is a property of this resolution path, not of the goal — caching it
// would poison later resolutions of the same goal from acyclic contexts and
// make compilation depend on root order. Failures are cached only when
// floored at or above their own frame (a floor at the frame itself is a
// genuine self-cycle, present in every context). A success is always
// memoized: the first witness found for a goal is the goal's witness, and
// every later resolution reuses it.
func (c *compiler) resolve(g goal, requester string) (NodeID, int, error) {
	key := g.key()
	if id, ok := c.memo[key]; ok {
		return id, depFloorNone, nil
	}
	if err, ok := c.fails[key]; ok {
		return 0, depFloorNone, err
	}
	if atDepth, inFlight := c.onStack[key]; inFlight {
		return 0, atDepth, &CycleError{Path: c.cyclePath(g)}
	}

	depth := len(c.stack)
	c.onStack[key] = depth
	c.stack = append(c.stack, g)
	defer func() {
		delete(c.onStack, key)
		c.stack = c.stack[:len(c.stack)-1]
	}()

	// A type the caller committed to supplying resolves trivially to a
	// parameter node.
	if g.params.Contains(g.output) {
		id := c.addParamNode(g.output, g.params)
		c.memo[key] = id
		return id, depFloorNone, nil
	}

	candidates := c.reg.ProducersOf(g.output)
	if c.reg.IsUnion(g.output) {
		for _, member := range c.reg.MembersOf(g.output) {
			candidates = append(candidates, c.reg.ProducersOf(member)...)
		}
	}

	var (
		viableIDs   []NodeID
		viableNames []string
		attempts    []error
		cycleErr    *CycleError
	)
	floor := depFloorNone
	for _, cand := range candidates {
		id, candFloor, err := c.tryCandidate(cand, g.params)
		if candFloor < floor {
			floor = candFloor
		}
		if err != nil {
			var ambiguous *AmbiguousRuleError
			if errors.As(err, &ambiguous) {
				// Ambiguity is never a disqualification signal; it is fatal
				// wherever it appears.
				return 0, floor, err
			}
			var cycle *CycleError
			if errors.As(err, &cycle) && cycleErr == nil {
				cycleErr = cycle
			}
			attempts = append(attempts, fmt.Errorf("%s: %w", cand, err))
			continue
		}
		viableIDs = append(viableIDs, id)
		viableNames = append(viableNames, cand.String())
	}

	cacheable := floor >= depth

	switch len(viableIDs) {
	case 0:
		if cycleErr != nil {
			if cacheable {
				c.fails[key] = cycleErr
				return 0, depFloorNone, cycleErr
			}
			return 0, floor, cycleErr
		}
		err := &NoRuleFoundError{Output: g.output, Params: g.params, Requester: requester, Attempts: attempts}
		if cacheable {
			c.fails[key] = err
			return 0, depFloorNone, err
		}
		return 0, floor, err
	case 1:
		c.memo[key] = viableIDs[0]
		return viableIDs[0], depFloorNone, nil
	default:
		err := &AmbiguousRuleError{Output: g.output, Params: g.params, Candidates: viableNames}
		if cacheable {
			c.fails[key] = err
			return 0, depFloorNone, err
		}
		return 0, floor, err
	}
}

// tryCandidate resolves every declared input and nested-request edge of one
// candidate rule, accumulating the lowest dependency floor its sub-goals
// reported. Any unsatisfiable edge disqualifies the candidate.
func (c *compiler) tryCandidate(cand *rule.Rule, params ParamSet) (NodeID, int, error) {
	floor := depFloorNone
	inputs := make([]NodeID, len(cand.Params))
	for i, in := range cand.Params {
		id, inFloor, err := c.resolve(goal{output: in, params: params}, cand.Name)
		if inFloor < floor {
			floor = inFloor
		}
		if err != nil {
			return 0, floor, fmt.Errorf("input %s: %w", in, err)
		}
		inputs[i] = id
	}

	gets := make([]GetEdge, len(cand.Gets))
	for i, gc := range cand.Gets {
		edge := GetEdge{Constraint: gc}
		// The subject acts as an additional parameter available only within
		// this sub-resolution.
		if c.reg.IsUnion(gc.Subject) {
			members := c.reg.MembersOf(gc.Subject)
			if len(members) == 0 {
				return 0, floor, fmt.Errorf("%s: union base %s has no registered members", gc, gc.Subject)
			}
			for _, m := range members {
				id, mFloor, err := c.resolve(goal{output: gc.Product, params: params.With(m)}, cand.Name)
				if mFloor < floor {
					floor = mFloor
				}
				if err != nil {
					return 0, floor, fmt.Errorf("%s member %s: %w", gc, m, err)
				}
				edge.Members = append(edge.Members, MemberEdge{Subject: m, Node: id})
			}
		} else {
			id, sFloor, err := c.resolve(goal{output: gc.Product, params: params.With(gc.Subject)}, cand.Name)
			if sFloor < floor {
				floor = sFloor
			}
			if err != nil {
				return 0, floor, fmt.Errorf("%s: %w", gc, err)
			}
			edge.Members = []MemberEdge{{Subject: gc.Subject, Node: id}}
		}
		gets[i] = edge
	}

	return c.addRuleNode(cand, params, inputs, gets), floor, nil
}

func (c *compiler) cyclePath(repeat goal) []string {
	path := make([]string, 0, len(c.stack)+1)
	seenStart := false
	for _, g := range c.stack {
		if g.key() == repeat.key() {
			seenStart = true
		}
		if seenStart {
			path = append(path, g.String())
		}
	}
	return append(path, repeat.String())
}

func (c *compiler) addParamNode(t reflect.Type, params ParamSet) NodeID {
	key := "param|" + canonicalTypeName(t)
	if id, ok := c.dedupe[key]; ok {
		return id
	}
	id := NodeID(len(c.nodes))
	c.nodes = append(c.nodes, Node{
		ID:     id,
		Kind:   KindParam,
		Output: t,
		Params: params,
	})
	c.dedupe[key] = id
	return id
}

func (c *compiler) addRuleNode(r *rule.Rule, params ParamSet, inputs []NodeID, gets []GetEdge) NodeID {
	key := "rule|" + r.Name + "|" + params.Key()
	if id, ok := c.dedupe[key]; ok {
		return id
	}
	id := NodeID(len(c.nodes))
	c.nodes = append(c.nodes, Node{
		ID:     id,
		Kind:   KindRule,
		Output: r.Output,
		Params: params,
		Rule:   r,
		Inputs: inputs,
		Gets:   gets,
	})
	c.dedupe[key] = id
	return id
}

// computeUsed narrows each node's parameter scope to the subset its subtree
// actually consumes. Fingerprints are taken over this subset, so unrelated
// root parameters never force distinct cache entries.
func (c *compiler) computeUsed() {
	done := make(map[NodeID]bool)
	var visit func(id NodeID) ParamSet
	visit = func(id NodeID) ParamSet {
		n := &c.nodes[id]
		if done[id] {
			return n.Used
		}
		done[id] = true
		switch n.Kind {
		case KindParam:
			n.Used = NewParamSet(n.Output)
		case KindRule:
			used := ParamSet{}
			for _, in := range n.Inputs {
				for _, t := range visit(in).Types() {
					used = used.With(t)
				}
			}
			for _, edge := range n.Gets {
				for _, m := range edge.Members {
					// The subject is supplied mid-body by the caller, not
					// drawn from this node's scope.
					for _, t := range visit(m.Node).Without(m.Subject).Types() {
						used = used.With(t)
					}
				}
			}
			n.Used = used
		}
		return n.Used
	}
	for id := range c.nodes {
		visit(NodeID(id))
	}
}

// compact rewrites the arena to contain only nodes reachable from the roots,
// renumbered in deterministic DFS preorder. Nodes created for candidates
// that were ultimately rejected are dropped here.
func (c *compiler) compact(roots []Root, rootIDs []NodeID) *Graph {
	mapping := make(map[NodeID]NodeID)
	var order []NodeID

	var visit func(id NodeID)
	visit = func(id NodeID) {
		if _, ok := mapping[id]; ok {
			return
		}
		mapping[id] = NodeID(len(order))
		order = append(order, id)
		n := &c.nodes[id]
		for _, in := range n.Inputs {
			visit(in)
		}
		for _, edge := range n.Gets {
			for _, m := range edge.Members {
				visit(m.Node)
			}
		}
	}
	for _, id := range rootIDs {
		visit(id)
	}

	g := &Graph{
		nodes: make([]Node, len(order)),
		roots: append([]Root(nil), roots...),
		index: make(map[rootKey]NodeID, len(roots)),
	}
	for newID, oldID := range order {
		n := c.nodes[oldID]
		n.ID = NodeID(newID)
		if n.Kind == KindRule {
			inputs := make([]NodeID, len(n.Inputs))
			for i, in := range n.Inputs {
				inputs[i] = mapping[in]
			}
			n.Inputs = inputs
			gets := make([]GetEdge, len(n.Gets))
			for i, edge := range n.Gets {
				members := make([]MemberEdge, len(edge.Members))
				for j, m := range edge.Members {
					members[j] = MemberEdge{Subject: m.Subject, Node: mapping[m.Node]}
				}
				gets[i] = GetEdge{Constraint: edge.Constraint, Members: members}
			}
			n.Gets = gets
		}
		g.nodes[newID] = n
	}
	for i, r := range roots {
		g.index[rootKey{output: r.Output, params: r.Params.Key()}] = mapping[rootIDs[i]]
	}
	return g
}
