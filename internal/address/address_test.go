package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	cases := []string{
		"//src/go/lib:lib",
		"//src/go/lib:other",
		"//tools:gen#proto",
		"//tools:gen@platform=linux",
		"//tools:gen#proto@arch=arm64,platform=linux",
	}
	for _, raw := range cases {
		addr, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, addr.String(), raw)

		again, err := Parse(addr.String())
		require.NoError(t, err)
		assert.True(t, addr.Equal(again))
	}
}

func TestParse_DefaultName(t *testing.T) {
	addr, err := Parse("//src/go/lib")
	require.NoError(t, err)
	assert.Equal(t, "src/go/lib", addr.SpecPath)
	assert.Equal(t, "lib", addr.Name)
	assert.Equal(t, "//src/go/lib:lib", addr.String())
}

func TestParseRelative_Sibling(t *testing.T) {
	addr, err := ParseRelative(":helper", "src/go/lib")
	require.NoError(t, err)
	assert.Equal(t, Address{SpecPath: "src/go/lib", Name: "helper"}, addr)

	_, err = ParseRelative(":helper", "")
	require.Error(t, err)
}

func TestParse_QualifierOrderIsCanonical(t *testing.T) {
	a, err := Parse("//t:x@b=2,a=1")
	require.NoError(t, err)
	b, err := Parse("//t:x@a=1,b=2")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, "//t:x@a=1,b=2", a.String())
}

func TestParse_Malformed(t *testing.T) {
	bad := []string{
		"",
		"src/lib:x",
		"///src:x",
		"//:x",
		"//src/../etc:x",
		"//src:",
		"//src:na me",
		"//src:x#",
		"//src:x@keyonly",
		"//src:x@=v",
	}
	for _, raw := range bad {
		_, err := Parse(raw)
		require.Error(t, err, raw)
		var pe *ParseError
		assert.ErrorAs(t, err, &pe, raw)
	}
}

func TestEqual_Structural(t *testing.T) {
	a := New("src/lib", "x").WithParams(Param{Key: "k", Value: "v"})
	b := New("src/lib", "x").WithParams(Param{Key: "k", Value: "v"})
	c := New("src/lib", "x")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(a.WithGenerated("g")))
}

func TestFingerprint_CoversAllComponents(t *testing.T) {
	a := New("src/lib", "x")
	assert.NotEqual(t, a.Fingerprint(), a.WithGenerated("g").Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), a.WithParams(Param{Key: "k", Value: "v"}).Fingerprint())
}
