package calltree

import (
	"sort"

	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/model"
)

// Tree is the aggregated call tree of a thread. Nodes are call-node
// indices of the call-node table the tree was built from. Nodes with zero
// total time are never surfaced as roots or children.
//
// Children lists are computed and sorted on first access, so a Tree must
// not be navigated from multiple goroutines without synchronization.
type Tree struct {
	thread  *model.Thread
	table   *callnode.Table
	weights WeightSource
	opts    options

	self      []float64
	total     []float64
	category  []int32
	rootTotal float64
	rootCount int

	roots    []int32
	children [][]int32
	sorted   []bool
}

type options struct {
	categories []model.Category
	jsOnly     bool
}

type Option func(*options)

// WithCategories sets the category names used for display data.
func WithCategories(c []model.Category) Option {
	return func(o *options) { o.categories = c }
}

// WithJSOnlyView marks the tree as displayed in a JS-only view:
// native nodes are dimmed.
func WithJSOnlyView(v bool) Option {
	return func(o *options) { o.jsOnly = v }
}

// Build aggregates the samples of the thread into a call tree.
// info must have been computed from the same thread.
func Build(thread *model.Thread, info *callnode.Info, weights WeightSource, opts ...Option) *Tree {
	table := info.Table
	t := &Tree{
		thread:   thread,
		table:    table,
		weights:  weights,
		self:     make([]float64, table.Length),
		total:    make([]float64, table.Length),
		category: make([]int32, table.Length),
		children: make([][]int32, table.Length),
		sorted:   make([]bool, table.Length),
	}
	for _, o := range opts {
		o(&t.opts)
	}

	samples := thread.Samples
	for i, stack := range samples.Stack {
		if stack == model.None {
			continue
		}
		t.self[info.StackIndexToCallNode[stack]] += weights.weight(samples, i)
	}

	for i := range t.category {
		t.category[i] = model.None
	}
	for stack, node := range info.StackIndexToCallNode {
		if t.category[node] == model.None {
			t.category[node] = thread.FrameTable.Category[thread.StackTable.Frame[stack]]
		}
	}

	// Children always have greater indices than their parents.
	for node := table.Length - 1; node >= 0; node-- {
		t.total[node] += t.self[node]
		if t.total[node] == 0 {
			continue
		}
		if p := table.Prefix[node]; p != model.None {
			t.total[p] += t.total[node]
			t.children[p] = append(t.children[p], int32(node))
		} else {
			t.rootTotal += t.total[node]
			t.rootCount++
			t.roots = append(t.roots, int32(node))
		}
	}
	t.sortNodes(t.roots)

	return t
}

func (t *Tree) sortNodes(nodes []int32) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if t.total[a] != t.total[b] {
			return t.total[a] > t.total[b]
		}
		return a < b
	})
}

// Roots returns the root nodes sorted by descending total time,
// ties broken by ascending call-node index.
func (t *Tree) Roots() []int32 { return t.roots }

// Children returns the children of node with non-zero total time, in the
// same order as Roots.
func (t *Tree) Children(node int32) []int32 {
	if !t.sorted[node] {
		t.sortNodes(t.children[node])
		t.sorted[node] = true
	}
	return t.children[node]
}

func (t *Tree) HasChildren(node int32) bool { return len(t.children[node]) > 0 }

// Parent returns the parent of node, or model.None for a root.
func (t *Tree) Parent(node int32) int32 { return t.table.Prefix[node] }

func (t *Tree) Depth(node int32) int { return int(t.table.Depth[node]) }

func (t *Tree) SelfTime(node int32) float64 { return t.self[node] }

func (t *Tree) TotalTime(node int32) float64 { return t.total[node] }

// RootTotal is the sum of the total time of all roots, which equals the
// summed weight of all samples with a stack.
func (t *Tree) RootTotal() float64 { return t.rootTotal }

func (t *Tree) RootCount() int { return t.rootCount }

func (t *Tree) CallNodeTable() *callnode.Table { return t.table }

func (t *Tree) Thread() *model.Thread { return t.thread }

// Walk visits the displayed nodes depth first, in display order.
// If fn returns false, the children of the node are skipped.
func (t *Tree) Walk(fn func(node int32) bool) {
	stack := nodeStackFromPool()
	defer nodeStackPool.Put(stack)
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack.push(t.roots[i])
	}
	for {
		node, ok := stack.pop()
		if !ok {
			return
		}
		if !fn(node) {
			continue
		}
		children := t.Children(node)
		for i := len(children) - 1; i >= 0; i-- {
			stack.push(children[i])
		}
	}
}

// HeaviestPath follows the heaviest child from the heaviest root, at most
// maxDepth levels deep, and returns the path of the node it stops at.
// A non-positive maxDepth means no limit.
func (t *Tree) HeaviestPath(maxDepth int) callnode.Path {
	if len(t.roots) == 0 {
		return nil
	}
	node := t.roots[0]
	for maxDepth <= 0 || t.Depth(node) < maxDepth-1 {
		children := t.Children(node)
		if len(children) == 0 {
			break
		}
		node = children[0]
	}
	return t.table.PathOf(node)
}

// ExpandedToDepth returns the paths of the nodes less than depth levels
// deep that have children, in display order. Expanding them shows the
// tree depth levels deep.
func (t *Tree) ExpandedToDepth(depth int) []callnode.Path {
	var paths []callnode.Path
	t.Walk(func(node int32) bool {
		if t.Depth(node) >= depth || !t.HasChildren(node) {
			return false
		}
		paths = append(paths, t.table.PathOf(node))
		return true
	})
	return paths
}
