/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package taskconfig loads the targets of a status update file.
//
// The file is a YAML mapping from target name to target. A top-level
// "options" key is not a target: its values are defaults for every target
// that leaves the same option unset.
//
//	options:
//	  owner: octocat
//	  repo: hello-world
//	build:
//	  state: pending
//	  context: build
//	test:
//	  updates:
//	    - state: success
//	      context: test
//	      description:
//	        command: ./scripts/summary.sh
package taskconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chainguard-dev/github-update-status/pkg/githubstatus"
)

const defaultsKey = "options"

// Named is a target and the name it was declared under.
type Named struct {
	Name   string
	Target *githubstatus.Target
}

// Config is a parsed file.
type Config struct {
	defaults githubstatus.Options
	names    []string
	targets  map[string]*githubstatus.Target
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses a config document.
func Parse(b []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	cfg := &Config{targets: map[string]*githubstatus.Target{}}
	if len(doc.Content) == 0 {
		return cfg, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of target names", root.Line)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		name := key.Value

		if name == defaultsKey {
			if err := value.Decode(&cfg.defaults); err != nil {
				return nil, fmt.Errorf("options: %w", err)
			}
			continue
		}
		if _, ok := cfg.targets[name]; ok {
			return nil, fmt.Errorf("line %d: target %q is declared twice", key.Line, name)
		}
		if value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: target %q must be a mapping", value.Line, name)
		}
		t := new(githubstatus.Target)
		if err := value.Decode(t); err != nil {
			return nil, fmt.Errorf("target %q: %w", name, err)
		}
		cfg.names = append(cfg.names, name)
		cfg.targets[name] = t
	}

	for _, t := range cfg.targets {
		inherit(&t.Options, cfg.defaults)
	}
	return cfg, nil
}

func inherit(o *githubstatus.Options, defaults githubstatus.Options) {
	if !o.Owner.IsSet() {
		o.Owner = defaults.Owner
	}
	if !o.Repo.IsSet() {
		o.Repo = defaults.Repo
	}
	if !o.Token.IsSet() {
		o.Token = defaults.Token
	}
	if !o.CommitSHA.IsSet() {
		o.CommitSHA = defaults.CommitSHA
	}
}

// Names returns the target names in file order.
func (c *Config) Names() []string {
	return append([]string(nil), c.names...)
}

// Get returns the named target.
func (c *Config) Get(name string) (*githubstatus.Target, bool) {
	t, ok := c.targets[name]
	return t, ok
}

// Select returns the named targets in the order given, or every target in
// file order when no names are given.
func (c *Config) Select(names ...string) ([]Named, error) {
	if len(names) == 0 {
		names = c.names
	}
	out := make([]Named, 0, len(names))
	for _, name := range names {
		t, ok := c.targets[name]
		if !ok {
			return nil, fmt.Errorf("no target named %q (have %v)", name, c.names)
		}
		out = append(out, Named{Name: name, Target: t})
	}
	return out, nil
}
