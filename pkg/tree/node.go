// Package tree is an in-process hierarchical data tree: nodes with typed
// attributes, an optional value, children, actions and subscriptions.
// Listeners attached to a node are told about subscriptions and value
// changes so that the owner of the node can react to demand and writes.
package tree

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotWritable  = errors.New("node is not writable")
	ErrTypeMismatch = errors.New("value does not match node type")
	ErrNoAction     = errors.New("node has no action")
	ErrNotFound     = errors.New("node not found")
)

// Permission is the access level of a writable value or an action
type Permission int

const (
	PermissionNone Permission = iota
	PermissionRead
	PermissionWrite
	PermissionConfig
)

func (p Permission) String() string {
	switch p {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionConfig:
		return "config"
	}
	return "none"
}

// Handle identifies one subscription
type Handle = uuid.UUID

// ValuePair is delivered to a listener when a node value changes
type ValuePair struct {
	Current  Value
	Previous Value
	External bool // set by Write, false for SetValue
}

// Listener observes one node
type Listener interface {
	OnSubscribe(n *Node, h Handle)
	OnUnsubscribe(n *Node, h Handle)
	OnValue(n *Node, pair ValuePair)
}

// Node is one element of the tree. All methods are safe for concurrent use;
// callbacks run on the caller's goroutine after the node lock is released.
type Node struct {
	name   string
	parent *Node

	mu           sync.RWMutex
	attributes   map[string]Value
	children     map[string]*Node
	valueType    ValueType
	value        Value
	writable     Permission
	serializable bool
	action       *Action
	listener     Listener
	subs         map[Handle]func(Value)
}

// NewRoot creates a detached root node
func NewRoot(name string) *Node {
	return newNode(name, nil)
}

func newNode(name string, parent *Node) *Node {
	return &Node{
		name:         name,
		parent:       parent,
		attributes:   make(map[string]Value),
		children:     make(map[string]*Node),
		serializable: true,
	}
}

// Name returns the node name, unique among its siblings
func (n *Node) Name() string {
	return n.name
}

// Parent returns the parent node, nil for a root or a removed node
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Path returns the slash separated path from the root
func (n *Node) Path() string {
	parent := n.Parent()
	if parent == nil {
		return "/" + n.name
	}
	return strings.TrimSuffix(parent.Path(), "/") + "/" + n.name
}

// CreateChild returns the named child, creating it when absent
func (n *Node) CreateChild(name string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.children[name]; ok {
		return c
	}
	c := newNode(name, n)
	n.children[name] = c
	return c
}

// Child returns the named child or nil
func (n *Node) Child(name string) *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.children[name]
}

// HasChild reports whether the named child exists
func (n *Node) HasChild(name string) bool {
	return n.Child(name) != nil
}

// Children returns the children sorted by name
func (n *Node) Children() []*Node {
	n.mu.RLock()
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	n.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// RemoveChild detaches the named child and returns it, nil when absent
func (n *Node) RemoveChild(name string) *Node {
	n.mu.Lock()
	c, ok := n.children[name]
	delete(n.children, name)
	n.mu.Unlock()
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.parent = nil
	c.mu.Unlock()
	return c
}

// ClearChildren detaches every child
func (n *Node) ClearChildren() {
	for _, c := range n.Children() {
		n.RemoveChild(c.name)
	}
}

// Find resolves a slash separated path relative to n
func (n *Node) Find(path string) (*Node, error) {
	cur := n
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		next := cur.Child(part)
		if next == nil {
			return nil, ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

// SetAttribute stores a configuration attribute
func (n *Node) SetAttribute(key string, v Value) {
	n.mu.Lock()
	n.attributes[key] = v
	n.mu.Unlock()
}

// Attribute returns a configuration attribute
func (n *Node) Attribute(key string) (Value, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.attributes[key]
	return v, ok
}

// RemoveAttribute deletes a configuration attribute
func (n *Node) RemoveAttribute(key string) {
	n.mu.Lock()
	delete(n.attributes, key)
	n.mu.Unlock()
}

// Attributes returns a copy of every attribute
func (n *Node) Attributes() map[string]Value {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]Value, len(n.attributes))
	for k, v := range n.attributes {
		out[k] = v
	}
	return out
}

// SetValueType declares the type of the node value
func (n *Node) SetValueType(t ValueType) {
	n.mu.Lock()
	n.valueType = t
	n.mu.Unlock()
}

// ValueType returns the declared value type
func (n *Node) ValueType() ValueType {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.valueType
}

// SetWritable sets the permission required to Write the value
func (n *Node) SetWritable(p Permission) {
	n.mu.Lock()
	n.writable = p
	n.mu.Unlock()
}

// Writable returns the write permission, PermissionNone when read-only
func (n *Node) Writable() Permission {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.writable
}

// Value returns the current value
func (n *Node) Value() Value {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value
}

// SetValue stores a value on behalf of the node owner. Subscribers and the
// listener are notified; the listener sees External false.
func (n *Node) SetValue(v Value) {
	n.store(v, false)
}

// Write stores a value on behalf of an external client
func (n *Node) Write(v Value) error {
	n.mu.RLock()
	writable, t := n.writable, n.valueType
	n.mu.RUnlock()
	if writable < PermissionWrite {
		return ErrNotWritable
	}
	if !t.Accepts(v) {
		return ErrTypeMismatch
	}
	n.store(v, true)
	return nil
}

func (n *Node) store(v Value, external bool) {
	n.mu.Lock()
	prev := n.value
	n.value = v
	listener := n.listener
	subs := make([]func(Value), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	if listener != nil {
		listener.OnValue(n, ValuePair{Current: v, Previous: prev, External: external})
	}
}

// SetListener attaches the node observer, replacing any previous one
func (n *Node) SetListener(l Listener) {
	n.mu.Lock()
	n.listener = l
	n.mu.Unlock()
}

// Listener returns the attached observer
func (n *Node) Listener() Listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.listener
}

// Subscribe registers fn for value changes and returns its handle. fn is
// not called with the current value.
func (n *Node) Subscribe(fn func(Value)) Handle {
	h := uuid.New()
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[Handle]func(Value))
	}
	n.subs[h] = fn
	listener := n.listener
	n.mu.Unlock()

	if listener != nil {
		listener.OnSubscribe(n, h)
	}
	return h
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
func (n *Node) Unsubscribe(h Handle) {
	n.mu.Lock()
	_, ok := n.subs[h]
	delete(n.subs, h)
	listener := n.listener
	n.mu.Unlock()

	if ok && listener != nil {
		listener.OnUnsubscribe(n, h)
	}
}

// Subscriptions returns the number of live subscriptions
func (n *Node) Subscriptions() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// SetSerializable marks whether the node is kept by Snapshot
func (n *Node) SetSerializable(s bool) {
	n.mu.Lock()
	n.serializable = s
	n.mu.Unlock()
}

// Serializable reports whether the node is kept by Snapshot
func (n *Node) Serializable() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.serializable
}
