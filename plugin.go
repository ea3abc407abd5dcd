package tofu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrUnknownPlugin indicates no factory is registered under the requested name.
	ErrUnknownPlugin = errors.New("tofu: unknown plugin")
	// ErrPluginExists indicates a plugin name collision within a manager.
	ErrPluginExists = errors.New("tofu: plugin already registered")
	// ErrNilTask indicates a factory or caller supplied a nil task.
	ErrNilTask = errors.New("tofu: task must not be nil")
)

// Task is a processing step. Process receives one stream per input port and
// returns the stream delivered to every successor. Implementations must not
// modify their inputs.
type Task interface {
	Properties() *PropertySet
	NumInputs() int
	Process(ctx context.Context, inputs []Stream) (Stream, error)
}

// Factory constructs a fresh task instance.
type Factory func() Task

var nodeCounter atomic.Uint64

// Node is a task instance placed, or about to be placed, in a TaskGraph.
type Node struct {
	id     string
	plugin string
	task   Task
}

// NewNode wraps task as a node. Nodes created through a PluginManager carry the
// plugin name; custom tasks may use any label.
func NewNode(plugin string, task Task) (*Node, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	return &Node{
		id:     fmt.Sprintf("%s-%d", plugin, nodeCounter.Add(1)),
		plugin: plugin,
		task:   task,
	}, nil
}

// ID returns the node identifier, unique within the process unless renamed by a graph file.
func (n *Node) ID() string {
	return n.id
}

// Plugin returns the plugin name the node was created from.
func (n *Node) Plugin() string {
	return n.plugin
}

// Task returns the wrapped task.
func (n *Node) Task() Task {
	return n.task
}

// SetProperty assigns a single property.
func (n *Node) SetProperty(name string, value any) error {
	if err := n.task.Properties().Set(name, value); err != nil {
		return fmt.Errorf("%s: %w", n.id, err)
	}
	return nil
}

// SetProperties assigns every property in props.
func (n *Node) SetProperties(props Properties) error {
	if err := n.task.Properties().Apply(props); err != nil {
		return fmt.Errorf("%s: %w", n.id, err)
	}
	return nil
}

// Property returns the current value of a property.
func (n *Node) Property(name string) (any, bool) {
	return n.task.Properties().Get(name)
}

// HasProperty reports whether the node's task exposes name.
func (n *Node) HasProperty(name string) bool {
	return n.task.Properties().Has(name)
}

// PluginManager maintains the known task factories.
type PluginManager struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewPluginManager returns an empty manager.
func NewPluginManager() *PluginManager {
	return &PluginManager{factories: make(map[string]Factory)}
}

// Register installs a factory under name.
func (pm *PluginManager) Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("tofu: plugin name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("tofu: factory is required for %s", name)
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrPluginExists, name)
	}
	pm.factories[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (pm *PluginManager) MustRegister(name string, factory Factory) {
	if err := pm.Register(name, factory); err != nil {
		panic(err)
	}
}

// GetTask instantiates the named plugin and applies props, which may be nil.
func (pm *PluginManager) GetTask(name string, props Properties) (*Node, error) {
	pm.mu.RLock()
	factory, ok := pm.factories[name]
	pm.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	node, err := NewNode(name, factory())
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", name, err)
	}
	if len(props) > 0 {
		if err := node.SetProperties(props); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Names returns the registered plugin names in sorted order.
func (pm *PluginManager) Names() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	names := make([]string, 0, len(pm.factories))
	for name := range pm.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
