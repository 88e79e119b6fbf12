/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package resolve

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// producerSpec is the mapping form of a Value:
//
//	state: {command: "./ci/state.sh"}
//	sha:   {command: [git, rev-parse, HEAD~1], dir: ../other}
//	token: {env: CI_GITHUB_TOKEN}
type producerSpec struct {
	Command yaml.Node `yaml:"command"`
	Env     string    `yaml:"env"`
	Dir     string    `yaml:"dir"`
}

// UnmarshalYAML implements yaml.Unmarshaler. A string scalar is a literal,
// null leaves the value unset, any other scalar is kept as an invalid
// (non-string) literal, and a mapping declares a producer.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!null":
			*v = Value{}
		case "!!str":
			*v = Literal(node.Value)
		default:
			*v = Invalid(fmt.Sprintf("%s %q", node.ShortTag(), node.Value))
		}
		return nil

	case yaml.MappingNode:
		var spec producerSpec
		if err := node.Decode(&spec); err != nil {
			return err
		}
		hasCommand := spec.Command.Kind != 0
		switch {
		case hasCommand && spec.Env != "":
			return fmt.Errorf("line %d: a value may declare either command or env, not both", node.Line)
		case spec.Env != "":
			*v = Env(nil, spec.Env)
			return nil
		case hasCommand:
			return v.decodeCommand(&spec)
		default:
			return fmt.Errorf("line %d: value mapping needs a command or env key", node.Line)
		}

	case yaml.SequenceNode:
		*v = Invalid(fmt.Sprintf("sequence at line %d", node.Line))
		return nil

	default:
		return fmt.Errorf("line %d: unsupported value", node.Line)
	}
}

func (v *Value) decodeCommand(spec *producerSpec) error {
	switch spec.Command.Kind {
	case yaml.ScalarNode:
		if spec.Command.Value == "" {
			return errors.New("command must not be empty")
		}
		*v = Shell(spec.Dir, spec.Command.Value)
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := spec.Command.Decode(&argv); err != nil {
			return fmt.Errorf("line %d: command: %w", spec.Command.Line, err)
		}
		if len(argv) == 0 {
			return errors.New("command must not be empty")
		}
		*v = Command(spec.Dir, argv...)
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list", spec.Command.Line)
	}
}
