package playbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParsePlaybook parses a single playbook from YAML.
func ParsePlaybook(data []byte) (*Playbook, error) {
	var p Playbook
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse playbook: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParsePlaybooks parses one or more playbooks. The document may be a single
// playbook, a list, or a mapping with a "playbooks" key. Multi-document
// streams are supported.
func ParsePlaybooks(data []byte) ([]*Playbook, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var out []*Playbook
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse playbooks: %w", err)
		}
		pbs, err := decodeNode(&node)
		if err != nil {
			return nil, err
		}
		out = append(out, pbs...)
	}

	for _, p := range out {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeNode(node *yaml.Node) ([]*Playbook, error) {
	doc := node
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}

	switch doc.Kind {
	case yaml.SequenceNode:
		var pbs []*Playbook
		if err := doc.Decode(&pbs); err != nil {
			return nil, fmt.Errorf("failed to parse playbooks: %w", err)
		}
		return pbs, nil
	case yaml.MappingNode:
		var wrapper struct {
			Playbooks []*Playbook `yaml:"playbooks"`
		}
		if err := doc.Decode(&wrapper); err == nil && len(wrapper.Playbooks) > 0 {
			return wrapper.Playbooks, nil
		}
		var p Playbook
		if err := doc.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to parse playbook: %w", err)
		}
		return []*Playbook{&p}, nil
	}
	return nil, nil
}

// LoadFile reads playbooks from a YAML file.
func LoadFile(path string) ([]*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	pbs, err := ParsePlaybooks(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pbs, nil
}

// LoadPath loads playbooks from a file or every .yaml/.yml file in a directory.
func LoadPath(path string) ([]*Playbook, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	var out []*Playbook
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		pbs, err := LoadFile(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, pbs...)
	}
	return out, nil
}
