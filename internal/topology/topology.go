// Package topology models the compose deployment descriptor and checks
// the cross-process contracts it must satisfy: service dependencies
// resolve, the database volume persists, and every process agrees on
// the broker hostname and the database connection shape.
package topology

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env holds a service's environment. Compose allows both the mapping
// form (KEY: value) and the list form (KEY=value); both decode here.
type Env map[string]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Env) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		*e = m
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		m := make(map[string]string, len(list))
		for _, item := range list {
			key, val, _ := strings.Cut(item, "=")
			m[key] = val
		}
		*e = m
		return nil
	default:
		return fmt.Errorf("environment must be a mapping or a list, got %v", value.Kind)
	}
}

// DependsOn holds a service's dependencies. Compose allows both a plain
// list of names and a mapping with per-dependency conditions; only the
// names matter here.
type DependsOn []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DependsOn) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*d = list
		return nil
	case yaml.MappingNode:
		var m map[string]yaml.Node
		if err := value.Decode(&m); err != nil {
			return err
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		*d = names
		return nil
	default:
		return fmt.Errorf("depends_on must be a list or a mapping, got %v", value.Kind)
	}
}

// Service is one compose service definition.
type Service struct {
	Image       string    `yaml:"image,omitempty"`
	Build       string    `yaml:"build,omitempty"`
	Command     string    `yaml:"command,omitempty"`
	Environment Env       `yaml:"environment,omitempty"`
	Ports       []string  `yaml:"ports,omitempty"`
	Volumes     []string  `yaml:"volumes,omitempty"`
	DependsOn   DependsOn `yaml:"depends_on,omitempty"`
	Restart     string    `yaml:"restart,omitempty"`
}

// Volume is one top-level named volume definition.
type Volume struct {
	Driver string `yaml:"driver,omitempty"`
}

// Topology is a parsed compose descriptor.
type Topology struct {
	Services map[string]Service `yaml:"services"`
	Volumes  map[string]Volume  `yaml:"volumes,omitempty"`
}

// Load reads and parses a compose descriptor from path.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology descriptor: %w", err)
	}
	return Parse(data)
}

// Parse parses a compose descriptor.
func Parse(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse topology descriptor: %w", err)
	}
	if len(t.Services) == 0 {
		return nil, fmt.Errorf("topology declares no services")
	}
	return &t, nil
}
