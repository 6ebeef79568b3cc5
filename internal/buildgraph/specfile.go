package buildgraph

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/forgectl/internal/address"
	"github.com/vk/forgectl/internal/ctxlog"
	"github.com/vk/forgectl/internal/digest"
	"github.com/vk/forgectl/internal/rule"
)

// SpecRequest keys one spec-file parse: the declaring path plus the file's
// content digest. The digest flows into the memoized entry's fingerprint,
// so the cached Family is evicted exactly when this file's content changes.
type SpecRequest struct {
	Path   string
	Digest digest.Digest
}

// specFileRoot decodes the top-level blocks of a spec file.
type specFileRoot struct {
	Targets []*targetBlock `hcl:"target,block"`
}

type targetBlock struct {
	Type string   `hcl:"type,label"`
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// newParseSpecRule builds the rule that parses one spec file into a Family.
// root is the workspace root directory the declaring paths are relative to.
func newParseSpecRule(root string) *rule.Rule {
	return rule.MustFromFunc("parse-spec-file", func(tc rule.TaskContext, req SpecRequest) (*Family, error) {
		logger := ctxlog.FromContext(tc.Context())
		filename := filepath.Join(root, filepath.FromSlash(req.Path), SpecFileName)

		src, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("reading spec file %s: %w", filename, err)
		}
		if digest.FromBytes(src) != req.Digest {
			return nil, fmt.Errorf("spec file %s changed while it was being read", filename)
		}

		parser := hclparse.NewParser()
		file, diags := parser.ParseHCL(src, filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", filename, diags)
		}
		var decoded specFileRoot
		if diags := gohcl.DecodeBody(file.Body, nil, &decoded); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", filename, diags)
		}

		fam := &Family{Path: req.Path, Origin: req.Digest}
		seen := make(map[string]bool, len(decoded.Targets))
		for _, blk := range decoded.Targets {
			if !address.ValidName(blk.Name) {
				return nil, fmt.Errorf("%s: invalid target name %q", filename, blk.Name)
			}
			if seen[blk.Name] {
				return nil, fmt.Errorf("%s: duplicate target name %q", filename, blk.Name)
			}
			seen[blk.Name] = true

			target, err := decodeTarget(blk, req)
			if err != nil {
				return nil, fmt.Errorf("%s: target %q: %w", filename, blk.Name, err)
			}
			fam.Targets = append(fam.Targets, target)
		}

		logger.Debug("Spec file parsed.", "path", req.Path, "targets", len(fam.Targets))
		return fam, nil
	})
}

func decodeTarget(blk *targetBlock, req SpecRequest) (*Target, error) {
	attrs, diags := blk.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("decoding attributes: %w", diags)
	}

	// JustAttributes returns a map; declaration order comes back from the
	// source ranges.
	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	target := &Target{
		Address: address.New(req.Path, blk.Name),
		Type:    blk.Type,
		Origin:  req.Digest,
	}
	for _, attr := range ordered {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating field %q: %w", attr.Name, diags)
		}
		if attr.Name == "deps" {
			deps, err := decodeDeps(val, req.Path)
			if err != nil {
				return nil, err
			}
			target.Deps = deps
			continue
		}
		target.Fields = append(target.Fields, Field{Name: attr.Name, Value: val})
	}
	return target, nil
}

func decodeDeps(val cty.Value, base string) ([]address.Address, error) {
	if !val.CanIterateElements() {
		return nil, fmt.Errorf("field \"deps\" must be a list of address strings")
	}
	var deps []address.Address
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		if elem.Type() != cty.String {
			return nil, fmt.Errorf("field \"deps\" must contain only strings, got %s", elem.Type().FriendlyName())
		}
		addr, err := address.ParseRelative(elem.AsString(), base)
		if err != nil {
			return nil, err
		}
		deps = append(deps, addr)
	}
	return deps, nil
}
