package config

import (
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Write renders a commented YAML config file. Sections listed in sections
// take their values from p, all others carry defaults. Unset values are
// written as null so the file documents every parameter.
func Write(w io.Writer, p *Params, sections ...string) error {
	defaults := Defaults()
	root := &yaml.Node{Kind: yaml.MappingNode}
	var current *yaml.Node
	for _, o := range options {
		if o.name == "config" {
			continue
		}
		if current == nil || root.Content[len(root.Content)-2].Value != o.section {
			current = &yaml.Node{Kind: yaml.MappingNode}
			root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: o.section}, current)
		}
		src := &defaults
		if p != nil && slices.Contains(sections, o.section) {
			src = p
		}
		value := o.value(src).String()
		node := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
		if value == "" {
			node.Tag = "!!null"
			node.Value = "null"
		} else if _, ok := o.value(src).(*stringValue); ok {
			node.Tag = "!!str"
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: o.name, HeadComment: o.usage}
		current.Content = append(current.Content, key, node)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return enc.Close()
}

// WriteFile writes a config file at path, see Write.
func WriteFile(path string, p *Params, sections ...string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, p, sections...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
