package tofu

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var graphCounter atomic.Uint64

var (
	// ErrNilGraph indicates a nil graph was supplied.
	ErrNilGraph = errors.New("tofu: nil graph")
	// ErrNilNode indicates a nil node was supplied.
	ErrNilNode = errors.New("tofu: nil node")
	// ErrNodeExists indicates a different node with the same id is already in the graph.
	ErrNodeExists = errors.New("tofu: node already exists")
	// ErrSelfLoop indicates a node was connected to itself.
	ErrSelfLoop = errors.New("tofu: node cannot feed itself")
	// ErrInputOutOfRange indicates a connection to an input port the task does not have.
	ErrInputOutOfRange = errors.New("tofu: input port out of range")
	// ErrInputConnected indicates an input port already has a producer.
	ErrInputConnected = errors.New("tofu: input port already connected")
)

// Edge connects the output of From to input port Input of To.
type Edge struct {
	From  *Node
	To    *Node
	Input int
}

// TaskGraph holds nodes and the connections between them.
type TaskGraph struct {
	mu    sync.Mutex
	id    string
	nodes map[string]*Node
	order []string
	edges []Edge
}

// NewTaskGraph constructs an empty graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		id:    fmt.Sprintf("graph-%d", graphCounter.Add(1)),
		nodes: make(map[string]*Node),
	}
}

// ID returns the graph identifier.
func (g *TaskGraph) ID() string {
	return g.id
}

// AddNode places n in the graph. Adding the same node twice is a no-op.
func (g *TaskGraph) AddNode(n *Node) error {
	if g == nil {
		return ErrNilGraph
	}
	if n == nil {
		return ErrNilNode
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(n)
}

func (g *TaskGraph) addNodeLocked(n *Node) error {
	if err := g.checkIDLocked(n); err != nil {
		return err
	}
	if _, ok := g.nodes[n.id]; ok {
		return nil
	}
	g.nodes[n.id] = n
	g.order = append(g.order, n.id)
	return nil
}

func (g *TaskGraph) checkIDLocked(n *Node) error {
	if existing, ok := g.nodes[n.id]; ok && existing != n {
		return fmt.Errorf("%w: %s", ErrNodeExists, n.id)
	}
	return nil
}

// ConnectNodes feeds the output of src into the first input of dst.
func (g *TaskGraph) ConnectNodes(src, dst *Node) error {
	return g.ConnectNodesFull(src, dst, 0)
}

// ConnectNodesFull feeds the output of src into input port input of dst,
// adding either node to the graph if necessary.
func (g *TaskGraph) ConnectNodesFull(src, dst *Node, input int) error {
	if g == nil {
		return ErrNilGraph
	}
	if src == nil || dst == nil {
		return ErrNilNode
	}
	if src == dst {
		return fmt.Errorf("%w: %s", ErrSelfLoop, src.id)
	}
	if input < 0 || input >= dst.task.NumInputs() {
		return fmt.Errorf("%w: %s has %d inputs, got %d", ErrInputOutOfRange, dst.id, dst.task.NumInputs(), input)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.edges {
		if e.To == dst && e.Input == input {
			return fmt.Errorf("%w: %s input %d fed by %s", ErrInputConnected, dst.id, input, e.From.id)
		}
	}
	// Both ids are checked before either node is added.
	if src.id == dst.id {
		return fmt.Errorf("%w: %s", ErrNodeExists, dst.id)
	}
	if err := g.checkIDLocked(src); err != nil {
		return err
	}
	if err := g.checkIDLocked(dst); err != nil {
		return err
	}
	_ = g.addNodeLocked(src)
	_ = g.addNodeLocked(dst)
	g.edges = append(g.edges, Edge{From: src, To: dst, Input: input})
	return nil
}

// Node looks up a node by id.
func (g *TaskGraph) Node(id string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *TaskGraph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Edges returns the connections in the order they were made.
func (g *TaskGraph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Edge(nil), g.edges...)
}

// Predecessors returns the producers of n ordered by input port.
func (g *TaskGraph) Predecessors(n *Node) []*Node {
	edges := g.Edges()
	incoming := make([]Edge, 0, 2)
	for _, e := range edges {
		if e.To == n {
			incoming = append(incoming, e)
		}
	}
	sort.Slice(incoming, func(i, j int) bool { return incoming[i].Input < incoming[j].Input })
	nodes := make([]*Node, len(incoming))
	for i, e := range incoming {
		nodes[i] = e.From
	}
	return nodes
}

// Successors returns the consumers of n in connection order.
func (g *TaskGraph) Successors(n *Node) []*Node {
	var nodes []*Node
	for _, e := range g.Edges() {
		if e.From == n {
			nodes = append(nodes, e.To)
		}
	}
	return nodes
}

// Validate ensures the graph is non-empty, acyclic and fully connected.
func (g *TaskGraph) Validate() error {
	_, err := analyzeGraph(g)
	return err
}

func (g *TaskGraph) snapshot() (map[string]*Node, []string, []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes := make(map[string]*Node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n
	}
	return nodes, append([]string(nil), g.order...), append([]Edge(nil), g.edges...)
}
