package rulegraph

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestDot_Golden(t *testing.T) {
	g, err := Compile(context.Background(), newChainRegistry(t), []Root{boolRoot()})
	require.NoError(t, err)

	gold := goldie.New(t)
	gold.Assert(t, "chain", []byte(g.Dot()))
}
