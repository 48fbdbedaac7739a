package suite

import "regexp"

// Grep prunes the tree rooted at root so that it retains exactly the leaf
// suites whose full name matches pattern, plus the containers needed to
// reach them. The root itself is never removed. Applying the same pattern
// twice is a no-op.
func Grep(root *Suite, pattern *regexp.Regexp) {
	if root == nil || pattern == nil {
		return
	}
	grepNode(root, pattern)
}

func grepNode(node *Suite, pattern *regexp.Regexp) {
	if node.HasStates() {
		if !pattern.MatchString(node.FullName()) && node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
		return
	}

	// Matching removes children mid-traversal, so recurse over a snapshot.
	children := make([]*Suite, len(node.Children))
	copy(children, node.Children)
	for _, child := range children {
		grepNode(child, pattern)
	}

	if len(node.Children) == 0 && !node.HasStates() && node.Parent != nil {
		node.Parent.RemoveChild(node)
	}
}
