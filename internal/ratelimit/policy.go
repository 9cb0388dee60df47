package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNegativeLimit is returned for policies with a limit below zero.
	ErrNegativeLimit = errors.New("limit must not be negative")
	// ErrInvalidWindow is returned for policies whose window is not a positive
	// whole number of seconds.
	ErrInvalidWindow = errors.New("window must be a positive whole number of seconds")
	// ErrEmptyPath is returned when a rule has no path.
	ErrEmptyPath = errors.New("rule path must not be empty")
)

// Policy is the number of requests a client may make to an endpoint within a window.
// A zero Limit denies every request.
type Policy struct {
	Limit  int64
	Window time.Duration
}

// NewPolicy builds a policy from a limit and a window length in seconds.
func NewPolicy(limit int64, windowSeconds int64) Policy {
	return Policy{Limit: limit, Window: time.Duration(windowSeconds) * time.Second}
}

// WindowSeconds returns the window length in whole seconds.
func (p Policy) WindowSeconds() int64 {
	return int64(p.Window / time.Second)
}

// Validate reports whether the policy can be enforced.
// Invalid policies must be rejected when the configuration is loaded.
func (p Policy) Validate() error {
	if p.Limit < 0 {
		return ErrNegativeLimit
	}

	if p.Window < time.Second || p.Window%time.Second != 0 {
		return ErrInvalidWindow
	}

	return nil
}

// Rule binds a policy to a configured endpoint path.
type Rule struct {
	Path   string
	Policy Policy
}

// stem is the rule path without its final segment: "/api/v1/auth/login" -> "/api/v1/auth".
func (r Rule) stem() string {
	idx := strings.LastIndex(r.Path, "/")
	if idx == -1 {
		return r.Path
	}

	return r.Path[:idx]
}

// PolicyTable resolves request paths to policies. It is immutable once built.
type PolicyTable struct {
	rules  []Rule
	exact  map[string]Policy
	stems  []string
	byStem []Policy
	def    Policy
}

// Resolve returns the policy for a normalized request path.
//
// Resolution order:
//  1. exact match on a configured rule path
//  2. the first rule, in table order, whose stem is a prefix of the path
//  3. the default policy
//
// Rules whose stem is empty (single segment paths such as "/login") only take
// part in exact matching.
func (t *PolicyTable) Resolve(path string) Policy {
	if p, ok := t.exact[path]; ok {
		return p
	}

	for i, stem := range t.stems {
		if strings.HasPrefix(path, stem) {
			return t.byStem[i]
		}
	}

	return t.def
}

// Default returns the policy applied to unmatched paths.
func (t *PolicyTable) Default() Policy {
	return t.def
}

// Rules returns a copy of the configured rules in table order.
func (t *PolicyTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)

	return out
}

// PolicyBuilder helps construct a PolicyTable.
type PolicyBuilder struct {
	rules []Rule
	def   Policy
	errs  []error
}

// NewPolicyBuilder creates a builder whose default policy is 100 requests per minute.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{def: NewPolicy(100, 60)}
}

// AddRule appends a rule. Order matters for prefix matching.
func (b *PolicyBuilder) AddRule(path string, limit int64, window time.Duration) *PolicyBuilder {
	p := Policy{Limit: limit, Window: window}

	if path == "" {
		b.errs = append(b.errs, fmt.Errorf("rule %d: %w", len(b.rules), ErrEmptyPath))
	} else if err := p.Validate(); err != nil {
		b.errs = append(b.errs, fmt.Errorf("rule %q: %w", path, err))
	}

	b.rules = append(b.rules, Rule{Path: path, Policy: p})

	return b
}

// Default sets the policy for unmatched paths.
func (b *PolicyBuilder) Default(limit int64, window time.Duration) *PolicyBuilder {
	b.def = Policy{Limit: limit, Window: window}

	return b
}

// Build validates all policies and returns the table.
func (b *PolicyBuilder) Build() (*PolicyTable, error) {
	errs := b.errs
	if err := b.def.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("default policy: %w", err))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	t := &PolicyTable{
		rules: make([]Rule, 0, len(b.rules)),
		exact: make(map[string]Policy, len(b.rules)),
		def:   b.def,
	}

	for _, r := range b.rules {
		t.rules = append(t.rules, r)

		// The first rule for a path wins, like prefix matching.
		if _, dup := t.exact[r.Path]; !dup {
			t.exact[r.Path] = r.Policy
		}

		if stem := r.stem(); stem != "" {
			t.stems = append(t.stems, stem)
			t.byStem = append(t.byStem, r.Policy)
		}
	}

	return t, nil
}
