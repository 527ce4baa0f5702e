package callnode

import (
	"fmt"
	"sync"

	"github.com/dolthub/swiss"

	"github.com/grafana/profiletree/pkg/model"
)

// Table is the derived call-node table: one row per distinct
// (parent call node, function) pair reachable from the stack table.
// Prefix[i] is either model.None or strictly less than i.
type Table struct {
	Prefix []int32
	Func   []int32
	Depth  []int32
	Length int

	childrenOnce sync.Once
	children     [][]int32
}

type Info struct {
	Table *Table
	// StackIndexToCallNode maps every stack table row to its call node.
	StackIndexToCallNode []int32
}

// Compute collapses the stack table of the thread into a call-node table.
// Stacks that differ only by frames of the same function at the same call
// path map to the same call node.
func Compute(thread *model.Thread) *Info {
	stacks := thread.StackTable
	frames := thread.FrameTable
	n := stacks.Length

	t := &Table{
		Prefix: make([]int32, 0, n),
		Func:   make([]int32, 0, n),
		Depth:  make([]int32, 0, n),
	}
	stackToNode := make([]int32, n)
	index := swiss.NewMap[uint64, int32](uint32(max(n, 1)))

	for i := 0; i < n; i++ {
		prefix := stacks.Prefix[i]
		parent := model.None
		if prefix != model.None {
			if int(prefix) >= i {
				panic(fmt.Sprintf("stack table is not topologically ordered: prefix %d of stack %d", prefix, i))
			}
			parent = stackToNode[prefix]
		}
		fn := frames.Func[stacks.Frame[i]]
		k := model.PairKey(parent, fn)
		node, ok := index.Get(k)
		if !ok {
			node = int32(t.Length)
			var depth int32
			if parent != model.None {
				depth = t.Depth[parent] + 1
			}
			t.Prefix = append(t.Prefix, parent)
			t.Func = append(t.Func, fn)
			t.Depth = append(t.Depth, depth)
			t.Length++
			index.Put(k, node)
		}
		stackToNode[i] = node
	}

	return &Info{Table: t, StackIndexToCallNode: stackToNode}
}

// CallNodeForStack returns the call node of the stack, or model.None
// for a null stack.
func (i *Info) CallNodeForStack(stack int32) int32 {
	if stack == model.None {
		return model.None
	}
	return i.StackIndexToCallNode[stack]
}

// Children returns the direct children of node in creation order,
// or the roots when node is model.None. Zero-weight nodes are included:
// the call tree is responsible for pruning.
func (t *Table) Children(node int32) []int32 {
	t.childrenOnce.Do(t.buildChildren)
	return t.children[node+1]
}

func (t *Table) buildChildren() {
	// Slot 0 holds the roots.
	children := make([][]int32, t.Length+1)
	for i, p := range t.Prefix {
		children[p+1] = append(children[p+1], int32(i))
	}
	t.children = children
}

// PathOf returns the function path from the root to node.
func (t *Table) PathOf(node int32) Path {
	if node == model.None {
		return nil
	}
	p := make(Path, t.Depth[node]+1)
	for i := node; i != model.None; i = t.Prefix[i] {
		p[t.Depth[i]] = t.Func[i]
	}
	return p
}

// Resolve finds the call node for the function path by walking the
// prefix/func pairs from the root. It returns model.None if the path
// does not exist in the table.
func (t *Table) Resolve(path Path) int32 {
	node := model.None
	for _, fn := range path {
		next := model.None
		for _, c := range t.Children(node) {
			if t.Func[c] == fn {
				next = c
				break
			}
		}
		if next == model.None {
			return model.None
		}
		node = next
	}
	return node
}

// IsAncestor reports whether a is an ancestor of node, or node itself.
func (t *Table) IsAncestor(a, node int32) bool {
	if a == model.None {
		return true
	}
	for n := node; n != model.None && t.Depth[n] >= t.Depth[a]; n = t.Prefix[n] {
		if n == a {
			return true
		}
	}
	return false
}
