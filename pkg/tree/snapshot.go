package tree

// Snapshot is a copy of a subtree: attributes, value and children. Nodes
// marked non-serializable are left out.
type Snapshot struct {
	Name       string
	Attributes map[string]Value
	ValueType  ValueType
	Value      Value
	Writable   Permission
	Children   []*Snapshot
}

// Snapshot copies n and its serializable descendants
func (n *Node) Snapshot() *Snapshot {
	n.mu.RLock()
	s := &Snapshot{
		Name:       n.name,
		Attributes: make(map[string]Value, len(n.attributes)),
		ValueType:  n.valueType,
		Value:      n.value,
		Writable:   n.writable,
	}
	for k, v := range n.attributes {
		s.Attributes[k] = v
	}
	n.mu.RUnlock()

	for _, c := range n.Children() {
		if c.Serializable() {
			s.Children = append(s.Children, c.Snapshot())
		}
	}
	return s
}

// Restore creates the snapshot as the named child of n, merging into an
// existing child of that name. Listeners and actions are not part of a
// snapshot; the new owner attaches its own.
func (n *Node) Restore(name string, s *Snapshot) *Node {
	child := n.CreateChild(name)
	child.mu.Lock()
	for k, v := range s.Attributes {
		child.attributes[k] = v
	}
	child.valueType = s.ValueType
	child.value = s.Value
	child.writable = s.Writable
	child.mu.Unlock()

	for _, c := range s.Children {
		child.Restore(c.Name, c)
	}
	return child
}
