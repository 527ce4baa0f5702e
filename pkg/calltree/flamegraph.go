package calltree

import (
	"container/heap"
	"sort"

	"github.com/samber/lo"
)

const otherName = "other"

// FlameGraph is the level encoding of a call tree: Levels[d] holds four
// values per node at depth d: x offset (delta encoded against the end of
// the previous node of the level), total, self, and the index of the
// node name in Names. Names[0] is the synthetic "total" root.
type FlameGraph struct {
	Names   []string
	Levels  [][]float64
	Total   float64
	MaxSelf float64
}

type flameNode struct {
	node    int32 // -1 for the root and for "other" nodes.
	root    bool
	xOffset float64
	level   int
	self    float64
	total   float64
	name    string
}

// FlameGraph builds the flame graph of the tree. When maxNodes is
// positive, nodes whose total is below the maxNodes-th largest total are
// folded into an "other" node of their parent. Siblings are ordered by
// name, as flame graphs are.
func (t *Tree) FlameGraph(maxNodes int64) *FlameGraph {
	minVal := t.minValue(maxNodes)
	names := []string{}
	nameIndex := map[string]int{}
	var levels []*stack[float64]
	var maxSelf float64

	s := new(stack[flameNode])
	s.push(flameNode{node: -1, root: true, total: t.rootTotal, name: "total"})
	for {
		current, ok := s.pop()
		if !ok {
			break
		}
		if current.self > maxSelf {
			maxSelf = current.self
		}
		i, ok := nameIndex[current.name]
		if !ok {
			i = len(names)
			nameIndex[current.name] = i
			names = append(names, current.name)
		}
		if current.level == len(levels) {
			levels = append(levels, new(stack[float64]))
		}
		level := levels[current.level]
		level.push(current.xOffset)
		level.push(current.total)
		level.push(current.self)
		level.push(float64(i))
		current.xOffset += current.self

		var children []int32
		if current.root {
			children = t.roots
		} else if current.node >= 0 {
			children = t.Children(current.node)
		}
		children = append([]int32(nil), children...)
		sort.SliceStable(children, func(i, j int) bool {
			return t.thread.FuncName(t.table.Func[children[i]]) < t.thread.FuncName(t.table.Func[children[j]])
		})

		var otherTotal float64
		pending := make([]flameNode, 0, len(children)+1)
		for _, c := range children {
			if t.total[c] >= minVal {
				pending = append(pending, flameNode{
					node:    c,
					xOffset: current.xOffset,
					level:   current.level + 1,
					self:    t.self[c],
					total:   t.total[c],
					name:    t.thread.FuncName(t.table.Func[c]),
				})
				current.xOffset += t.total[c]
			} else {
				otherTotal += t.total[c]
			}
		}
		if otherTotal != 0 {
			pending = append(pending, flameNode{
				node:    -1,
				xOffset: current.xOffset,
				level:   current.level + 1,
				self:    otherTotal,
				total:   otherTotal,
				name:    otherName,
			})
		}
		// The stack is LIFO: push right to left so that nodes of a level
		// are emitted left to right.
		for j := len(pending) - 1; j >= 0; j-- {
			s.push(pending[j])
		}
	}

	// Nodes of a level are emitted depth first, left to right,
	// so every level is already ordered by x offset.
	result := lo.Map(levels, func(l *stack[float64], _ int) []float64 {
		return *l
	})
	for _, l := range result {
		prev := float64(0)
		for i := 0; i < len(l); i += 4 {
			l[i] -= prev
			prev += l[i] + l[i+1]
		}
	}
	return &FlameGraph{
		Names:   names,
		Levels:  result,
		Total:   t.rootTotal,
		MaxSelf: maxSelf,
	}
}

// minValue returns the minimum total a node has to have to be among the
// maxNodes heaviest nodes.
func (t *Tree) minValue(maxNodes int64) float64 {
	if maxNodes < 1 || maxNodes >= int64(len(t.total)) {
		return 0
	}
	h := make(minHeap, 0, maxNodes)
	for _, v := range t.total {
		if v == 0 {
			continue
		}
		if h.Len() >= int(maxNodes) {
			if v > h[0] {
				heap.Pop(&h)
			} else {
				continue
			}
		}
		heap.Push(&h, v)
	}
	if h.Len() < int(maxNodes) {
		return 0
	}
	return h[0]
}

type minHeap []float64

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) { *h = append(*h, x.(float64)) }

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
