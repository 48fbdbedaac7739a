package suite

import "sort"

// Collection is the flattened, run-ready view of a filtered suite tree: the
// ordered top-level suites plus the set of browser ids that are skipped
// globally for this run. The orchestrator owns it for the duration of one
// run and hands it to the runner by reference.
type Collection struct {
	suites  []*Suite
	skipped map[string]struct{}
}

// NewCollection creates a collection over the given top-level suites.
func NewCollection(topLevel []*Suite) *Collection {
	return &Collection{
		suites:  topLevel,
		skipped: make(map[string]struct{}),
	}
}

// TopLevel returns the ordered top-level suites.
func (c *Collection) TopLevel() []*Suite {
	return c.suites
}

// SkipBrowsers marks the given browser ids as skipped for every suite in
// the collection. Skipped browsers stay out of execution; the tree itself
// is not modified.
func (c *Collection) SkipBrowsers(ids []string) {
	for _, id := range ids {
		c.skipped[id] = struct{}{}
	}
}

// IsSkipped reports whether the browser id is skipped for this run.
func (c *Collection) IsSkipped(id string) bool {
	_, ok := c.skipped[id]
	return ok
}

// SkippedBrowsers returns the skipped browser ids in sorted order.
func (c *Collection) SkippedBrowsers() []string {
	ids := make([]string, 0, len(c.skipped))
	for id := range c.skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Leaves returns every suite with states, depth-first across the top-level
// suites, in discovery order.
func (c *Collection) Leaves() []*Suite {
	var leaves []*Suite
	for _, s := range c.suites {
		s.Walk(func(n *Suite) bool {
			if n.HasStates() {
				leaves = append(leaves, n)
			}
			return true
		})
	}
	return leaves
}

// StateCount returns the total number of states across all leaves.
func (c *Collection) StateCount() int {
	n := 0
	for _, leaf := range c.Leaves() {
		n += len(leaf.States)
	}
	return n
}
