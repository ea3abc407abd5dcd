package tofu

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrGraphFile indicates a malformed graph description.
var ErrGraphFile = errors.New("tofu: invalid graph file")

// GraphFile is the YAML form of a task graph.
type GraphFile struct {
	Nodes []NodeSpec `yaml:"nodes"`
	Edges []EdgeSpec `yaml:"edges"`
}

// NodeSpec names a node and the plugin and properties it is created with.
type NodeSpec struct {
	Name       string     `yaml:"name"`
	Plugin     string     `yaml:"plugin"`
	Properties Properties `yaml:"properties,omitempty"`
}

// EdgeSpec connects the node named From to input Input of the node named To.
type EdgeSpec struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Input int    `yaml:"input,omitempty"`
}

// ParseGraphYAML decodes a graph description.
func ParseGraphYAML(data []byte) (GraphFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return GraphFile{}, fmt.Errorf("%w: empty document", ErrGraphFile)
	}
	var file GraphFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return GraphFile{}, fmt.Errorf("%w: %v", ErrGraphFile, err)
	}
	return file, nil
}

// Build instantiates every node through pm and connects them. Node ids are the
// names given in the file.
func (f GraphFile) Build(pm *PluginManager) (*TaskGraph, error) {
	g := NewTaskGraph()
	byName := make(map[string]*Node, len(f.Nodes))
	for i, spec := range f.Nodes {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: node %d has no name", ErrGraphFile, i)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate node %s", ErrGraphFile, name)
		}
		node, err := pm.GetTask(spec.Plugin, spec.Properties)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		node.id = name
		if err := g.AddNode(node); err != nil {
			return nil, err
		}
		byName[name] = node
	}

	for _, e := range f.Edges {
		src, ok := byName[e.From]
		if !ok {
			return nil, fmt.Errorf("%w: edge from unknown node %q", ErrGraphFile, e.From)
		}
		dst, ok := byName[e.To]
		if !ok {
			return nil, fmt.Errorf("%w: edge to unknown node %q", ErrGraphFile, e.To)
		}
		if err := g.ConnectNodesFull(src, dst, e.Input); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ReadGraphFile loads and builds the graph described in path.
func ReadGraphFile(path string, pm *PluginManager) (*TaskGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tofu: read %s: %w", path, err)
	}
	file, err := ParseGraphYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file.Build(pm)
}

// DescribeGraph converts g into its file form with current property values.
func DescribeGraph(g *TaskGraph) (GraphFile, error) {
	if g == nil {
		return GraphFile{}, ErrNilGraph
	}
	nodes, order, edges := g.snapshot()
	var file GraphFile
	for _, id := range order {
		n := nodes[id]
		file.Nodes = append(file.Nodes, NodeSpec{
			Name:       id,
			Plugin:     n.plugin,
			Properties: n.task.Properties().Values(),
		})
	}
	for _, e := range edges {
		file.Edges = append(file.Edges, EdgeSpec{From: e.From.id, To: e.To.id, Input: e.Input})
	}
	return file, nil
}

// WriteYAML encodes g as a graph file.
func (g *TaskGraph) WriteYAML(w io.Writer) error {
	if w == nil {
		return ErrNilWriter
	}
	file, err := DescribeGraph(g)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return err
	}
	return enc.Close()
}
