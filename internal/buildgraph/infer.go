package buildgraph

import (
	"reflect"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/forgectl/internal/address"
	"github.com/vk/forgectl/internal/rule"
)

// InferenceRequest is the union base for dependency inference plugins.
// Backends register a member type per analysis they support; the engine
// instantiates one request per member for every target whose inferred
// dependencies are demanded. A member is a struct carrying the target under
// analysis, rebound via WithTarget.
type InferenceRequest interface {
	WithTarget(t *Target) InferenceRequest
}

// CandidateRef is one reference found by a plugin, with every address that
// could satisfy it.
type CandidateRef struct {
	Ref        string
	Candidates []address.Address
}

// CandidateDeps is a plugin's analysis result for one target.
type CandidateDeps struct {
	Refs []CandidateRef
}

// InferredDeps is the aggregated, disambiguated inference result for one
// target.
type InferredDeps struct {
	Addresses []address.Address
}

var inferenceRequestType = rule.Type[InferenceRequest]()

// RegisterInferencer wires one inference plugin into the registry: member
// joins the InferenceRequest union and producer computes CandidateDeps from
// it.
func RegisterInferencer(reg *rule.Registry, member reflect.Type, producer *rule.Rule) error {
	if err := reg.RegisterUnion(inferenceRequestType, member); err != nil {
		return err
	}
	return reg.Register(producer)
}

// newInferredDepsRule builds the aggregation rule: it fans one request per
// registered plugin out over the union, merges the candidates, and surfaces
// any reference with more than one unresolved candidate as an explicit
// ambiguity. A candidate set already pinned down by an explicit dependency
// counts as disambiguated by the target's author.
func newInferredDepsRule(reg *rule.Registry) *rule.Rule {
	return rule.MustFromFunc("infer-deps", func(tc rule.TaskContext, t *Target) (InferredDeps, error) {
		members := reg.MembersOf(inferenceRequestType)
		reqs := make([]rule.Request, 0, len(members))
		for _, m := range members {
			req := reflect.Zero(m).Interface().(InferenceRequest).WithTarget(t)
			reqs = append(reqs, rule.Request{Product: rule.Type[CandidateDeps](), Subject: req})
		}
		results, err := tc.MultiGet(rule.CollectAll, reqs...)
		if err != nil {
			return InferredDeps{}, err
		}

		explicit := make(map[string]bool, len(t.Deps))
		for _, d := range t.Deps {
			explicit[d.String()] = true
		}

		seen := make(map[string]bool)
		var out []address.Address
		for _, res := range results {
			for _, ref := range res.(CandidateDeps).Refs {
				switch len(ref.Candidates) {
				case 0:
					continue
				case 1:
					addr := ref.Candidates[0]
					key := addr.String()
					if seen[key] || explicit[key] || addr.Equal(t.Address) {
						continue
					}
					seen[key] = true
					out = append(out, addr)
				default:
					disambiguated := false
					for _, c := range ref.Candidates {
						if explicit[c.String()] {
							disambiguated = true
							break
						}
					}
					if disambiguated {
						continue
					}
					return InferredDeps{}, &AmbiguousDependencyError{
						Target:     t.Address,
						Ref:        ref.Ref,
						Candidates: ref.Candidates,
					}
				}
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
		return InferredDeps{Addresses: out}, nil
	}, rule.GetConstraint{Product: rule.Type[CandidateDeps](), Subject: inferenceRequestType})
}

// AddressLiteralRequest is the built-in inference plugin: it scans every
// field value for strings shaped like address literals.
type AddressLiteralRequest struct {
	Target *Target
}

// WithTarget implements InferenceRequest.
func (r AddressLiteralRequest) WithTarget(t *Target) InferenceRequest {
	r.Target = t
	return r
}

func newAddressLiteralRule() *rule.Rule {
	return rule.MustFromFunc("infer-address-literals", func(_ rule.TaskContext, req AddressLiteralRequest) (CandidateDeps, error) {
		var refs []CandidateRef
		for _, f := range req.Target.Fields {
			collectAddressLiterals(f.Value, req.Target.Address.SpecPath, &refs)
		}
		return CandidateDeps{Refs: refs}, nil
	})
}

func collectAddressLiterals(v cty.Value, base string, refs *[]CandidateRef) {
	if v.IsNull() {
		return
	}
	if v.Type() == cty.String {
		s := v.AsString()
		if !strings.HasPrefix(s, "//") && !strings.HasPrefix(s, ":") {
			return
		}
		addr, err := address.ParseRelative(s, base)
		if err != nil {
			// Not every //-prefixed string is an address; leave malformed
			// ones to the backend that owns the field.
			return
		}
		*refs = append(*refs, CandidateRef{Ref: s, Candidates: []address.Address{addr}})
		return
	}
	if v.CanIterateElements() {
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			collectAddressLiterals(elem, base, refs)
		}
	}
}
