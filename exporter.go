package tofu

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrNilWriter indicates that a nil writer was provided to an exporter.
var ErrNilWriter = errors.New("tofu: nil writer")

// DOTOption configures ExportDOT.
type DOTOption func(*dotConfig)

type dotConfig struct {
	graphName  string
	rankDir    string
	properties bool
}

// DOTWithGraphName overrides the DOT graph identifier, the graph id by default.
func DOTWithGraphName(name string) DOTOption {
	return func(cfg *dotConfig) {
		if name != "" {
			cfg.graphName = name
		}
	}
}

// DOTWithRankDir sets the rank direction, "LR" by default.
func DOTWithRankDir(rankDir string) DOTOption {
	return func(cfg *dotConfig) {
		if rankDir != "" {
			cfg.rankDir = rankDir
		}
	}
}

// DOTWithProperties adds every node's property values below its plugin name.
func DOTWithProperties() DOTOption {
	return func(cfg *dotConfig) {
		cfg.properties = true
	}
}

// ExportDOT renders the graph in Graphviz DOT format. Nodes are labelled with
// their plugin name; edges into multi-input nodes carry the port number.
func (g *TaskGraph) ExportDOT(w io.Writer, opts ...DOTOption) error {
	if w == nil {
		return ErrNilWriter
	}
	analysis, err := analyzeGraph(g)
	if err != nil {
		return err
	}

	cfg := dotConfig{graphName: g.id, rankDir: "LR"}
	if cfg.graphName == "" {
		cfg.graphName = "tofu"
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ids := make([]string, 0, len(analysis.nodes))
	for id := range analysis.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", dotQuoteIdentifier(cfg.graphName))
	fmt.Fprintf(&b, "    rankdir=%s;\n", cfg.rankDir)
	for _, id := range ids {
		node := analysis.nodes[id]
		label := node.plugin
		if cfg.properties {
			label += propertyLines(node.task.Properties())
		}
		fmt.Fprintf(&b, "    %s [label=%s];\n", dotQuoteIdentifier(id), dotQuoteIdentifier(label))
	}
	for _, id := range ids {
		inputs := analysis.inputs[id]
		for port, src := range inputs {
			fmt.Fprintf(&b, "    %s -> %s", dotQuoteIdentifier(src.id), dotQuoteIdentifier(id))
			if len(inputs) > 1 {
				fmt.Fprintf(&b, " [label=\"%d\"]", port)
			}
			b.WriteString(";\n")
		}
	}
	b.WriteString("}\n")

	_, err = io.WriteString(w, b.String())
	return err
}

// propertyLines renders name=value pairs in declaration order, one per line.
func propertyLines(props *PropertySet) string {
	var b strings.Builder
	values := props.Values()
	for _, name := range props.Names() {
		fmt.Fprintf(&b, "\n%s=%v", name, values[name])
	}
	return b.String()
}

// dotQuoteIdentifier quotes s as a DOT string, escaping quotes, backslashes
// and newlines.
func dotQuoteIdentifier(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
