// Package rule provides the rule and union registries: the registration
// surface every backend collaborator uses at process start, before the
// registry is sealed and compiled into a rule graph.
package rule

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/vk/forgectl/internal/fingerprint"
)

// Registry holds all registered rules and unions for a single engine
// instance. It is mutable until Seal is called, immutable after.
type Registry struct {
	mu       sync.Mutex
	sealed   bool
	rules    []*Rule
	byName   map[string]*Rule
	byOutput map[reflect.Type][]*Rule
	unions   map[reflect.Type][]reflect.Type
}

// New creates an empty, unsealed Registry.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]*Rule),
		byOutput: make(map[reflect.Type][]*Rule),
		unions:   make(map[reflect.Type][]reflect.Type),
	}
}

// Register records rule signatures. Hashability of every declared type is
// validated here; a duplicate rule name is rejected. Two rules producing the
// same output from the same inputs are accepted — that ambiguity is detected
// at compile time, where full context is available.
func (r *Registry) Register(rules ...*Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry is sealed; no registration accepted")
	}
	for _, rl := range rules {
		if err := r.validate(rl); err != nil {
			return err
		}
		r.rules = append(r.rules, rl)
		r.byName[rl.Name] = rl
		r.byOutput[rl.Output] = append(r.byOutput[rl.Output], rl)
	}
	return nil
}

func (r *Registry) validate(rl *Rule) error {
	if rl.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if _, exists := r.byName[rl.Name]; exists {
		return fmt.Errorf("rule %q already registered", rl.Name)
	}
	if rl.Output == nil {
		return fmt.Errorf("rule %q has no output type", rl.Name)
	}
	if rl.Body == nil {
		return fmt.Errorf("rule %q has no body", rl.Name)
	}
	if err := fingerprint.CheckHashable(rl.Output); err != nil && rl.Output.Kind() != reflect.Interface {
		return fmt.Errorf("rule %q output: %w", rl.Name, err)
	}
	for _, p := range rl.Params {
		if err := fingerprint.CheckHashable(p); err != nil {
			return fmt.Errorf("rule %q param: %w", rl.Name, err)
		}
	}
	for _, g := range rl.Gets {
		if g.Product == nil || g.Subject == nil {
			return fmt.Errorf("rule %q declares an incomplete %s", rl.Name, g)
		}
		// An interface subject is a union base; its members are checked
		// when they are registered.
		if g.Subject.Kind() != reflect.Interface {
			if err := fingerprint.CheckHashable(g.Subject); err != nil {
				return fmt.Errorf("rule %q subject of %s: %w", rl.Name, g, err)
			}
		}
	}
	return nil
}

// RegisterUnion records that member may stand in for the abstract base type.
// Registering the identical pair twice is a no-op.
func (r *Registry) RegisterUnion(base, member reflect.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry is sealed; no registration accepted")
	}
	if base == nil || base.Kind() != reflect.Interface {
		return fmt.Errorf("union base must be an interface type, got %v", base)
	}
	if member == nil {
		return fmt.Errorf("union %s: nil member", base)
	}
	if !member.Implements(base) {
		return fmt.Errorf("union member %s does not implement base %s", member, base)
	}
	if err := fingerprint.CheckHashable(member); err != nil {
		return fmt.Errorf("union member %s: %w", member, err)
	}
	for _, m := range r.unions[base] {
		if m == member {
			return nil
		}
	}
	r.unions[base] = append(r.unions[base], member)
	return nil
}

// Seal freezes the registry. All registration calls fail afterwards.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Rules returns all rules in registration order.
func (r *Registry) Rules() []*Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// ProducersOf returns the rules whose declared output is t, in registration
// order. Ordering affects diagnostics only, never tie-breaking.
func (r *Registry) ProducersOf(t reflect.Type) []*Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Rule, len(r.byOutput[t]))
	copy(out, r.byOutput[t])
	return out
}

// IsUnion reports whether t is a registered union base.
func (r *Registry) IsUnion(t reflect.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.unions[t]
	return ok
}

// MembersOf returns the registered members of base in registration order.
func (r *Registry) MembersOf(base reflect.Type) []reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reflect.Type, len(r.unions[base]))
	copy(out, r.unions[base])
	return out
}
