package rulegraph

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgectl/internal/rule"
)

type analyzer interface {
	analyze() string
}

type sourceAnalyzer struct{ Path string }

func (sourceAnalyzer) analyze() string { return "source" }

type binaryAnalyzer struct{ Path string }

func (binaryAnalyzer) analyze() string { return "binary" }

func intToString(_ rule.TaskContext, x int) (string, error) {
	return strconv.Itoa(x), nil
}

func stringToBool(_ rule.TaskContext, s string) (bool, error) {
	return s != "", nil
}

func newChainRegistry(t *testing.T) *rule.Registry {
	t.Helper()
	reg := rule.New()
	require.NoError(t, reg.Register(
		rule.MustFromFunc("int-to-string", intToString),
		rule.MustFromFunc("string-to-bool", stringToBool),
	))
	reg.Seal()
	return reg
}

func boolRoot() Root {
	return Root{Output: rule.Type[bool](), Params: NewParamSet(rule.Type[int]())}
}

func TestCompile_TwoNodeChain(t *testing.T) {
	g, err := Compile(context.Background(), newChainRegistry(t), []Root{boolRoot()})
	require.NoError(t, err)

	// string-to-bool -> int-to-string -> Param(int).
	require.Equal(t, 3, g.Len())

	rootID, ok := g.Lookup(rule.Type[bool](), NewParamSet(rule.Type[int]()))
	require.True(t, ok)

	root := g.Node(rootID)
	assert.Equal(t, KindRule, root.Kind)
	assert.Equal(t, "string-to-bool", root.Rule.Name)
	require.Len(t, root.Inputs, 1)

	mid := g.Node(root.Inputs[0])
	assert.Equal(t, "int-to-string", mid.Rule.Name)
	require.Len(t, mid.Inputs, 1)

	leaf := g.Node(mid.Inputs[0])
	assert.Equal(t, KindParam, leaf.Kind)
	assert.Equal(t, rule.Type[int](), leaf.Output)
}

func TestCompile_Deterministic(t *testing.T) {
	g1, err := Compile(context.Background(), newChainRegistry(t), []Root{boolRoot()})
	require.NoError(t, err)
	g2, err := Compile(context.Background(), newChainRegistry(t), []Root{boolRoot()})
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(g1.Dot(), g2.Dot()))
}

func TestCompile_RequiresSealedRegistry(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.Register(rule.MustFromFunc("r", intToString)))

	_, err := Compile(context.Background(), reg, []Root{{Output: rule.Type[string](), Params: NewParamSet(rule.Type[int]())}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
}

func TestCompile_ParamResolvesTrivially(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.Register(rule.MustFromFunc("unused", intToString)))
	reg.Seal()

	g, err := Compile(context.Background(), reg, []Root{
		{Output: rule.Type[int](), Params: NewParamSet(rule.Type[int]())},
	})
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	assert.Equal(t, KindParam, g.Node(0).Kind)
}

func TestCompile_NoRuleFound(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.Register(rule.MustFromFunc("string-to-bool", stringToBool)))
	reg.Seal()

	_, err := Compile(context.Background(), reg, []Root{boolRoot()})
	require.Error(t, err)

	var nrf *NoRuleFoundError
	require.ErrorAs(t, err, &nrf)
	assert.Equal(t, rule.Type[bool](), nrf.Output)
	// The unsatisfied inner type and its requester are named.
	assert.Contains(t, err.Error(), "string")
	assert.Contains(t, err.Error(), "string-to-bool")
}

func TestCompile_AmbiguousRuleNamesAllCandidates(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.Register(
		rule.MustFromFunc("int-to-string", intToString),
		rule.MustFromFunc("check-empty", stringToBool),
		rule.MustFromFunc("check-upper", func(_ rule.TaskContext, s string) (bool, error) {
			return s == "X", nil
		}),
	))
	reg.Seal()

	_, err := Compile(context.Background(), reg, []Root{boolRoot()})
	require.Error(t, err)

	var amb *AmbiguousRuleError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 2)
	assert.Contains(t, err.Error(), "check-empty")
	assert.Contains(t, err.Error(), "check-upper")
}

func TestCompile_CycleReported(t *testing.T) {
	type tokenA struct{ V string }
	type tokenB struct{ V string }

	reg := rule.New()
	require.NoError(t, reg.Register(
		rule.MustFromFunc("a-from-b", func(_ rule.TaskContext, b tokenB) (tokenA, error) {
			return tokenA{}, nil
		}),
		rule.MustFromFunc("b-from-a", func(_ rule.TaskContext, a tokenA) (tokenB, error) {
			return tokenB{}, nil
		}),
	))
	reg.Seal()

	_, err := Compile(context.Background(), reg, []Root{
		{Output: rule.Type[tokenA](), Params: NewParamSet(rule.Type[int]())},
	})
	require.Error(t, err)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.GreaterOrEqual(t, len(cycle.Path), 3)
}

func TestCompile_UnionMembersGetDistinctBranches(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.RegisterUnion(rule.Type[analyzer](), rule.Type[sourceAnalyzer]()))
	require.NoError(t, reg.RegisterUnion(rule.Type[analyzer](), rule.Type[binaryAnalyzer]()))

	require.NoError(t, reg.Register(
		rule.MustFromFunc("analyze-source", func(_ rule.TaskContext, a sourceAnalyzer) (string, error) {
			return a.analyze(), nil
		}),
		rule.MustFromFunc("analyze-binary", func(_ rule.TaskContext, a binaryAnalyzer) (string, error) {
			return a.analyze(), nil
		}),
		rule.MustFromFunc("summarize", func(tc rule.TaskContext, x int) (bool, error) {
			return true, nil
		}, rule.GetConstraint{Product: rule.Type[string](), Subject: rule.Type[analyzer]()}),
	))
	reg.Seal()

	g, err := Compile(context.Background(), reg, []Root{boolRoot()})
	require.NoError(t, err)

	rootID, ok := g.Lookup(rule.Type[bool](), NewParamSet(rule.Type[int]()))
	require.True(t, ok)
	root := g.Node(rootID)
	require.Len(t, root.Gets, 1)
	require.Len(t, root.Gets[0].Members, 2)

	srcID, ok := root.Gets[0].Member(rule.Type[sourceAnalyzer]())
	require.True(t, ok)
	assert.Equal(t, "analyze-source", g.Node(srcID).Rule.Name)

	binID, ok := root.Gets[0].Member(rule.Type[binaryAnalyzer]())
	require.True(t, ok)
	assert.Equal(t, "analyze-binary", g.Node(binID).Rule.Name)
}

func TestCompile_UnionDirectRequestWithTwoProducersIsAmbiguous(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.RegisterUnion(rule.Type[analyzer](), rule.Type[sourceAnalyzer]()))
	require.NoError(t, reg.RegisterUnion(rule.Type[analyzer](), rule.Type[binaryAnalyzer]()))

	require.NoError(t, reg.Register(
		rule.MustFromFunc("mk-source", func(_ rule.TaskContext, x int) (sourceAnalyzer, error) {
			return sourceAnalyzer{}, nil
		}),
		rule.MustFromFunc("mk-binary", func(_ rule.TaskContext, x int) (binaryAnalyzer, error) {
			return binaryAnalyzer{}, nil
		}),
	))
	reg.Seal()

	_, err := Compile(context.Background(), reg, []Root{
		{Output: rule.Type[analyzer](), Params: NewParamSet(rule.Type[int]())},
	})
	require.Error(t, err)

	var amb *AmbiguousRuleError
	require.ErrorAs(t, err, &amb)
	assert.Contains(t, err.Error(), "mk-source")
	assert.Contains(t, err.Error(), "mk-binary")
}

func TestCompile_UsedParamsNarrowed(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.Register(rule.MustFromFunc("int-to-string", intToString)))
	reg.Seal()

	// The float64 root param is in scope but never consumed.
	g, err := Compile(context.Background(), reg, []Root{
		{Output: rule.Type[string](), Params: NewParamSet(rule.Type[int](), rule.Type[float64]())},
	})
	require.NoError(t, err)

	id, ok := g.Lookup(rule.Type[string](), NewParamSet(rule.Type[int](), rule.Type[float64]()))
	require.True(t, ok)
	n := g.Node(id)
	assert.True(t, n.Used.Contains(rule.Type[int]()))
	assert.False(t, n.Used.Contains(rule.Type[float64]()))
}

func TestCompile_SharedSubgoalIsSingleNode(t *testing.T) {
	// Two roots that both reach int-to-string must share one node.
	reg := newChainRegistry(t)
	g, err := Compile(context.Background(), reg, []Root{
		boolRoot(),
		{Output: rule.Type[string](), Params: NewParamSet(rule.Type[int]())},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
}

func TestCompile_PathLocalCycleDoesNotPoisonOtherRoots(t *testing.T) {
	type buildTag struct{ Name string }

	newReg := func() *rule.Registry {
		reg := rule.New()
		require.NoError(t, reg.Register(
			rule.MustFromFunc("int-to-string", intToString),
			rule.MustFromFunc("string-to-bool", stringToBool),
			rule.MustFromFunc("tag-to-string", func(_ rule.TaskContext, tag buildTag) (string, error) {
				return tag.Name, nil
			}),
			rule.MustFromFunc("tag-from-bool", func(_ rule.TaskContext, b bool) (buildTag, error) {
				return buildTag{Name: strconv.FormatBool(b)}, nil
			}),
		))
		reg.Seal()
		return reg
	}
	tagRoot := Root{Output: rule.Type[buildTag](), Params: NewParamSet(rule.Type[int]())}

	// Resolving bool{int} rejects tag-to-string for cycling back through the
	// in-flight bool goal. That rejection belongs to the resolution path:
	// buildTag{int} itself is satisfiable (tag-from-bool <- string-to-bool <-
	// int-to-string) and must compile no matter which root is resolved first.
	for _, roots := range [][]Root{
		{boolRoot(), tagRoot},
		{tagRoot, boolRoot()},
	} {
		g, err := Compile(context.Background(), newReg(), roots)
		require.NoError(t, err)
		for _, r := range roots {
			_, ok := g.Lookup(r.Output, r.Params)
			assert.True(t, ok)
		}
		id, ok := g.Lookup(rule.Type[buildTag](), NewParamSet(rule.Type[int]()))
		require.True(t, ok)
		assert.Equal(t, "tag-from-bool", g.Node(id).Rule.Name)
	}
}

func TestCompile_FailureIsMemoized(t *testing.T) {
	reg := rule.New()
	require.NoError(t, reg.Register(rule.MustFromFunc("string-to-bool", stringToBool)))
	reg.Seal()

	_, err1 := Compile(context.Background(), reg, []Root{boolRoot()})
	_, err2 := Compile(context.Background(), reg, []Root{boolRoot()})
	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, err1.Error(), err2.Error())
}

func TestParamSet(t *testing.T) {
	s := NewParamSet(rule.Type[string](), rule.Type[int](), rule.Type[string]())
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(rule.Type[int]()))

	s2 := s.With(rule.Type[bool]())
	assert.Equal(t, 2, s.Len(), "With must not mutate the receiver")
	assert.Equal(t, 3, s2.Len())

	s3 := s2.Without(rule.Type[int]())
	assert.False(t, s3.Contains(rule.Type[int]()))
	assert.Equal(t, 3, s2.Len(), "Without must not mutate the receiver")

	// Key ordering is canonical regardless of construction order.
	a := NewParamSet(rule.Type[int](), rule.Type[string]())
	b := NewParamSet(rule.Type[string](), rule.Type[int]())
	assert.Equal(t, a.Key(), b.Key())
}

func TestCompile_ErrorsAreTyped(t *testing.T) {
	reg := rule.New()
	reg.Seal()
	_, err := Compile(context.Background(), reg, []Root{boolRoot()})
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*AmbiguousRuleError)))
	assert.True(t, errors.As(err, new(*NoRuleFoundError)))
}
