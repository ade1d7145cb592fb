package tree

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is returned by Invoke for a parameter of the wrong type
var ErrInvalidParameter = errors.New("invalid action parameter")

// Parameter describes one action input
type Parameter struct {
	Name    string
	Type    ValueType
	Default Value // Null when there is none
}

// Action is an operation an operator can invoke on a node
type Action struct {
	Permission Permission
	Params     []Parameter
	Handler    func(Params) error
}

// Params holds the values an action was invoked with
type Params map[string]Value

// Str returns a string parameter, "" when absent
func (p Params) Str(name string) string {
	return p[name].AsString()
}

// Num returns a numeric parameter, 0 when absent
func (p Params) Num(name string) float64 {
	return p[name].AsNumber()
}

// Bool returns a boolean parameter, false when absent
func (p Params) Bool(name string) bool {
	return p[name].AsBool()
}

// Param returns the named parameter declaration
func (a *Action) Param(name string) (Parameter, bool) {
	for _, p := range a.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// SetAction makes n invokable. Action nodes are never serialized.
func (n *Node) SetAction(a *Action) {
	n.mu.Lock()
	n.action = a
	n.serializable = false
	n.mu.Unlock()
}

// Action returns the node action, nil when there is none
func (n *Node) Action() *Action {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.action
}

// Invoke runs the node action. Missing parameters take their defaults and
// every supplied value is checked against its declared type.
func (n *Node) Invoke(params Params) error {
	a := n.Action()
	if a == nil {
		return ErrNoAction
	}
	full := make(Params, len(a.Params))
	for _, p := range a.Params {
		v, ok := params[p.Name]
		if !ok || v.IsNull() {
			full[p.Name] = p.Default
			continue
		}
		if !p.Type.Accepts(v) {
			return fmt.Errorf("%w: %s expects %s, got %s", ErrInvalidParameter, p.Name, p.Type, v.Kind())
		}
		full[p.Name] = v
	}
	return a.Handler(full)
}
