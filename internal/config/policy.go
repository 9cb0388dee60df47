// Package config loads the static endpoint policy table.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/serroba/admission-go/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// RuleSpec is one entry of the policy file.
type RuleSpec struct {
	Path          string `yaml:"path"`
	Limit         int64  `yaml:"limit"`
	WindowSeconds int64  `yaml:"window_seconds"`
}

// DefaultSpec is the policy applied to unmatched paths.
type DefaultSpec struct {
	Limit         int64 `yaml:"limit"`
	WindowSeconds int64 `yaml:"window_seconds"`
}

// PolicyFile is the on-disk shape of the policy table.
//
//	default:
//	  limit: 100
//	  window_seconds: 60
//	rules:
//	  - path: /api/v1/auth/login
//	    limit: 5
//	    window_seconds: 60
type PolicyFile struct {
	Default *DefaultSpec `yaml:"default"`
	Rules   []RuleSpec   `yaml:"rules"`
}

// DefaultRules is the table used when no policy file is configured.
func DefaultRules() []RuleSpec {
	return []RuleSpec{
		{Path: "/api/v1/auth/login", Limit: 5, WindowSeconds: 60},
		{Path: "/api/v1/auth/register", Limit: 3, WindowSeconds: 300},
		{Path: "/api/v1/qwen/chat", Limit: 50, WindowSeconds: 60},
		{Path: "/api/v1/users/me", Limit: 100, WindowSeconds: 60},
	}
}

// Parse decodes a policy file. Unknown fields are rejected.
func Parse(r io.Reader) (*PolicyFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f PolicyFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}

		return nil, fmt.Errorf("decode policy file: %w", err)
	}

	return &f, nil
}

// LoadPolicy builds the policy table.
//
// With an empty path the built-in rules are used. The default policy is taken from
// the file when it has one, otherwise from the given limit and window. Any invalid
// policy is an error; callers treat it as fatal at startup.
func LoadPolicy(path string, defaultLimit, defaultWindowSeconds int64) (*ratelimit.PolicyTable, error) {
	f := &PolicyFile{Rules: DefaultRules()}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}

		if f, err = Parse(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return f.Table(defaultLimit, defaultWindowSeconds)
}

// Table validates the file and converts it to a policy table.
func (f *PolicyFile) Table(defaultLimit, defaultWindowSeconds int64) (*ratelimit.PolicyTable, error) {
	b := ratelimit.NewPolicyBuilder()

	if f.Default != nil {
		defaultLimit, defaultWindowSeconds = f.Default.Limit, f.Default.WindowSeconds
	}

	b.Default(defaultLimit, seconds(defaultWindowSeconds))

	for _, r := range f.Rules {
		p := r.Path
		if p != "" {
			p = ratelimit.NormalizePath(p)
		}

		b.AddRule(p, r.Limit, seconds(r.WindowSeconds))
	}

	table, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	return table, nil
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
