// Package suite holds the hierarchical test structure produced by test
// discovery: named groups of capturable states, organized as a tree.
package suite

import "strings"

// Suite is a node in the suite tree. A suite is either a container (it has
// child suites) or a leaf (it has states to capture); discovery never
// produces a node that is both.
type Suite struct {
	Name     string
	URL      string // navigation target for this suite's states
	Parent   *Suite
	Children []*Suite
	States   []string
}

// New creates a detached suite node.
func New(name string) *Suite {
	return &Suite{Name: name}
}

// NewRoot creates an unnamed root container. The root is never removed by
// filtering and does not contribute to full names.
func NewRoot() *Suite {
	return &Suite{}
}

// FullName returns the dotted path of named ancestors, e.g. "header.hover".
func (s *Suite) FullName() string {
	var parts []string
	for n := s; n != nil; n = n.Parent {
		if n.Name != "" {
			parts = append(parts, n.Name)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// HasStates reports whether this node is a leaf with capturable states.
func (s *Suite) HasStates() bool {
	return len(s.States) > 0
}

// AddChild appends child and takes ownership of its parent pointer.
func (s *Suite) AddChild(child *Suite) {
	child.Parent = s
	s.Children = append(s.Children, child)
}

// AddState appends a named state to this node.
func (s *Suite) AddState(name string) {
	s.States = append(s.States, name)
}

// RemoveChild detaches child from this node. Unknown children are ignored.
func (s *Suite) RemoveChild(child *Suite) {
	for i, c := range s.Children {
		if c == child {
			s.Children = append(s.Children[:i], s.Children[i+1:]...)
			child.Parent = nil
			return
		}
	}
}

// Walk visits s and its descendants depth-first. Returning false from the
// visitor stops descent into that node's children.
func (s *Suite) Walk(visit func(*Suite) bool) {
	if !visit(s) {
		return
	}
	for _, c := range s.Children {
		c.Walk(visit)
	}
}
