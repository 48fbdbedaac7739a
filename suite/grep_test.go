package suite

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grepTree builds leaves a.b, a.c and d.b under an unnamed root.
func grepTree() *Suite {
	root := NewRoot()

	a := New("a")
	ab := New("b")
	ab.AddState("default")
	ac := New("c")
	ac.AddState("default")
	a.AddChild(ab)
	a.AddChild(ac)

	d := New("d")
	db := New("b")
	db.AddState("default")
	d.AddChild(db)

	root.AddChild(a)
	root.AddChild(d)
	return root
}

func leafNames(root *Suite) []string {
	var names []string
	root.Walk(func(s *Suite) bool {
		if s.HasStates() {
			names = append(names, s.FullName())
		}
		return true
	})
	return names
}

func TestGrepKeepsMatchingLeavesAndTheirContainers(t *testing.T) {
	root := grepTree()

	Grep(root, regexp.MustCompile(`\.b$`))

	assert.Equal(t, []string{"a.b", "d.b"}, leafNames(root))

	// The container "a" survives because it still holds a matching leaf.
	require.Len(t, root.Children, 2)
	assert.Equal(t, "a", root.Children[0].Name)
	assert.Len(t, root.Children[0].Children, 1)
}

func TestGrepRemovesEmptiedContainers(t *testing.T) {
	root := grepTree()

	Grep(root, regexp.MustCompile(`^a\.c$`))

	assert.Equal(t, []string{"a.c"}, leafNames(root))
	require.Len(t, root.Children, 1)
	assert.Equal(t, "a", root.Children[0].Name)
}

func TestGrepNeverRemovesRoot(t *testing.T) {
	root := grepTree()

	Grep(root, regexp.MustCompile(`^nothing matches this$`))

	assert.Empty(t, leafNames(root))
	assert.Empty(t, root.Children)
	assert.Nil(t, root.Parent)
}

func TestGrepIsIdempotent(t *testing.T) {
	root := grepTree()
	pattern := regexp.MustCompile(`\.b$`)

	Grep(root, pattern)
	first := leafNames(root)
	Grep(root, pattern)

	assert.Equal(t, first, leafNames(root))
}

func TestGrepNilPatternIsNoOp(t *testing.T) {
	root := grepTree()

	Grep(root, nil)

	assert.Equal(t, []string{"a.b", "a.c", "d.b"}, leafNames(root))
}
