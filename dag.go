package tofu

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleDetected indicates the graph contains a cycle.
	ErrCycleDetected = errors.New("tofu: cycle detected")
	// ErrUnconnectedInput indicates a node input port without a producer.
	ErrUnconnectedInput = errors.New("tofu: unconnected input")
	// ErrEmptyGraph indicates a graph without nodes.
	ErrEmptyGraph = errors.New("tofu: graph has no nodes")
)

type analysis struct {
	nodes      map[string]*Node
	inputs     map[string][]*Node
	indegree   map[string]int
	dependents map[string][]string
	order      []*Node
}

func analyzeGraph(g *TaskGraph) (*analysis, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	nodes, ids, edges := g.snapshot()
	if len(nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	inputs := make(map[string][]*Node, len(nodes))
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))

	for _, id := range ids {
		inputs[id] = make([]*Node, nodes[id].task.NumInputs())
		indegree[id] = 0
	}

	for _, e := range edges {
		inputs[e.To.id][e.Input] = e.From
		dependents[e.From.id] = append(dependents[e.From.id], e.To.id)
		indegree[e.To.id]++
	}

	for _, id := range ids {
		for port, src := range inputs[id] {
			if src == nil {
				return nil, fmt.Errorf("%w: %s input %d", ErrUnconnectedInput, id, port)
			}
		}
	}

	order := make([]*Node, 0, len(nodes))
	queue := make([]*Node, 0, len(nodes))
	remaining := make(map[string]int, len(indegree))

	for _, id := range ids {
		remaining[id] = indegree[id]
		if indegree[id] == 0 {
			queue = append(queue, nodes[id])
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		for _, depID := range dependents[n.id] {
			remaining[depID]--
			if remaining[depID] == 0 {
				queue = append(queue, nodes[depID])
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCycleDetected
	}

	return &analysis{
		nodes:      nodes,
		inputs:     inputs,
		indegree:   indegree,
		dependents: dependents,
		order:      order,
	}, nil
}
