package fingerprint

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/forgectl/internal/digest"
)

type coords struct {
	X, Y int
}

type labeled struct {
	Name string
	Tags map[string]string
}

type selfIdentified struct {
	id string
}

func (s selfIdentified) Fingerprint() []byte { return []byte(s.id) }

func TestCheckHashable(t *testing.T) {
	ok := []reflect.Type{
		reflect.TypeOf(0),
		reflect.TypeOf(""),
		reflect.TypeOf(coords{}),
		reflect.TypeOf([]coords{}),
		reflect.TypeOf(map[string][]int{}),
		reflect.TypeOf(&labeled{}),
		reflect.TypeOf(cty.NilVal),
		reflect.TypeOf(selfIdentified{}),
		reflect.TypeOf(digest.Digest{}),
	}
	for _, typ := range ok {
		assert.NoError(t, CheckHashable(typ), typ.String())
	}

	bad := []reflect.Type{
		reflect.TypeOf(func() {}),
		reflect.TypeOf(make(chan int)),
		reflect.TypeOf(map[string]any{}),
		reflect.TypeOf(struct{ F func() }{}),
	}
	for _, typ := range bad {
		assert.Error(t, CheckHashable(typ), typ.String())
	}
}

func TestCheckHashable_UnexportedFieldNeedsFingerprinter(t *testing.T) {
	type hidden struct {
		visible string //nolint:unused
		Public  int
	}
	assert.Error(t, CheckHashable(reflect.TypeOf(hidden{})))
	assert.NoError(t, CheckHashable(reflect.TypeOf(selfIdentified{})))
}

func TestOf_StableAndDiscriminating(t *testing.T) {
	a, err := Of("ruleA", 5, "x")
	require.NoError(t, err)
	b, err := Of("ruleA", 5, "x")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Of("ruleA", 6, "x")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Of("ruleB", 5, "x")
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestOf_MapOrderIndependent(t *testing.T) {
	v1 := labeled{Name: "n", Tags: map[string]string{"a": "1", "b": "2", "c": "3"}}
	v2 := labeled{Name: "n", Tags: map[string]string{"c": "3", "b": "2", "a": "1"}}

	a, err := Of("r", v1)
	require.NoError(t, err)
	b, err := Of("r", v2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOf_Fingerprinter(t *testing.T) {
	a, err := Of("r", selfIdentified{id: "one"})
	require.NoError(t, err)
	b, err := Of("r", selfIdentified{id: "two"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOf_CtyValues(t *testing.T) {
	a, err := Of("r", cty.StringVal("hello"))
	require.NoError(t, err)
	b, err := Of("r", cty.StringVal("hello"))
	require.NoError(t, err)
	c, err := Of("r", cty.StringVal("bye"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCollectDigests(t *testing.T) {
	d1 := digest.FromBytes([]byte("one"))
	d2 := digest.FromBytes([]byte("two"))

	type wrapper struct {
		D    digest.Digest
		More []digest.Digest
	}
	got := CollectDigests(wrapper{D: d1, More: []digest.Digest{d2}}, "unrelated", 42)
	assert.ElementsMatch(t, []digest.Digest{d1, d2}, got)

	assert.Empty(t, CollectDigests("nothing", coords{X: 1}))
}
