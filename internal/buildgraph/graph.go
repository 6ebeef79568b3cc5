package buildgraph

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/vk/forgectl/internal/address"
	"github.com/vk/forgectl/internal/digest"
	"github.com/vk/forgectl/internal/rule"
	"github.com/vk/forgectl/internal/rulegraph"
	"github.com/vk/forgectl/internal/scheduler"
)

// Graph is the addressable view of a workspace: it resolves addresses to
// targets and walks dependency closures by issuing root requests against a
// scheduler session. All caching lives in the session's entry store.
type Graph struct {
	sess *scheduler.Session
	root string
}

// New creates a graph over a session whose compiled rule graph includes the
// roots from Roots. root is the workspace root directory.
func New(sess *scheduler.Session, root string) *Graph {
	return &Graph{sess: sess, root: root}
}

// Session exposes the underlying session, mainly so callers can feed
// Invalidate with changed digests.
func (g *Graph) Session() *scheduler.Session {
	return g.sess
}

// specRequest stats and hashes the spec file for one declaring path. The
// digest taken here is what keys the memoized parse, so re-reading an
// unchanged file is free.
func (g *Graph) specRequest(path string) (SpecRequest, error) {
	filename := filepath.Join(g.root, filepath.FromSlash(path), SpecFileName)
	d, err := digest.FromFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			name := path
			if i := strings.LastIndexByte(path, '/'); i >= 0 {
				name = path[i+1:]
			}
			return SpecRequest{}, &ResolveError{
				Address: address.New(path, name),
				Reason:  "no " + SpecFileName + " in " + path,
			}
		}
		return SpecRequest{}, err
	}
	return SpecRequest{Path: path, Digest: d}, nil
}

// Family returns every target declared by the spec file at path.
func (g *Graph) Family(ctx context.Context, path string) (*Family, error) {
	req, err := g.specRequest(path)
	if err != nil {
		return nil, err
	}
	return scheduler.Run[*Family](ctx, g.sess, req)
}

// Resolve returns the target at addr. Generated and parameter qualifiers
// select a variant of the declared target: the returned copy carries the
// qualified address.
func (g *Graph) Resolve(ctx context.Context, addr address.Address) (*Target, error) {
	fam, err := g.Family(ctx, addr.SpecPath)
	if err != nil {
		return nil, err
	}
	t := fam.Find(addr.Name)
	if t == nil {
		available := make([]string, len(fam.Targets))
		for i, other := range fam.Targets {
			available[i] = other.Address.Name
		}
		sort.Strings(available)
		return nil, &ResolveError{
			Address:   addr,
			Reason:    "no target named " + addr.Name,
			Available: available,
		}
	}
	if addr.Generated != "" || len(addr.Params) > 0 {
		variant := *t
		variant.Address = addr
		return &variant, nil
	}
	return t, nil
}

// InferredDeps computes the inferred dependency addresses of t via the
// inference union.
func (g *Graph) InferredDeps(ctx context.Context, t *Target) (InferredDeps, error) {
	return scheduler.Run[InferredDeps](ctx, g.sess, t)
}

// TransitiveClosure returns every target reachable from the given addresses
// through explicit and inferred dependencies, sorted by address. A
// dependency naming a nonexistent target fails the whole walk.
func (g *Graph) TransitiveClosure(ctx context.Context, addrs ...address.Address) ([]*Target, error) {
	visited := make(map[string]*Target)
	frontier := append([]address.Address(nil), addrs...)
	for len(frontier) > 0 {
		addr := frontier[0]
		frontier = frontier[1:]
		if _, ok := visited[addr.String()]; ok {
			continue
		}
		t, err := g.Resolve(ctx, addr)
		if err != nil {
			return nil, err
		}
		visited[addr.String()] = t

		inferred, err := g.InferredDeps(ctx, t)
		if err != nil {
			return nil, err
		}
		frontier = append(frontier, t.Deps...)
		frontier = append(frontier, inferred.Addresses...)
	}

	out := make([]*Target, 0, len(visited))
	for _, t := range visited {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

// InstallRules registers the build-graph rules and the built-in inference
// plugin. Callers register additional inferencers via RegisterInferencer
// before sealing.
func InstallRules(reg *rule.Registry, root string) error {
	if err := reg.Register(newParseSpecRule(root)); err != nil {
		return err
	}
	if err := reg.Register(newInferredDepsRule(reg)); err != nil {
		return err
	}
	return RegisterInferencer(reg,
		reflect.TypeOf(AddressLiteralRequest{}), newAddressLiteralRule())
}

// Roots returns the entry points a compiled graph must carry for this
// package's operations.
func Roots() []rulegraph.Root {
	return []rulegraph.Root{
		{
			Output: rule.Type[*Family](),
			Params: rulegraph.NewParamSet(rule.Type[SpecRequest]()),
		},
		{
			Output: rule.Type[InferredDeps](),
			Params: rulegraph.NewParamSet(rule.Type[*Target]()),
		},
	}
}
