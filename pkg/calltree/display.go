package calltree

import (
	"fmt"
	"strconv"

	"github.com/xlab/treeprint"

	"github.com/grafana/profiletree/pkg/model"
)

// DisplayData is the per-node aggregate shown by the presentation layer.
type DisplayData struct {
	Name         string
	Lib          string
	Category     string
	Self         float64
	Total        float64
	TotalPercent float64
	Depth        int
	IsJS         bool
	// Dimmed is set for native nodes in a JS-only view: they are kept for
	// context but do not belong to the JS call path.
	Dimmed bool
}

func (t *Tree) NodeData(node int32) DisplayData {
	fn := t.table.Func[node]
	isJS := t.thread.FuncTable.IsJS[fn]
	d := DisplayData{
		Name:  t.thread.FuncName(fn),
		Lib:   t.thread.ResourceName(fn),
		Self:  t.self[node],
		Total: t.total[node],
		Depth: t.Depth(node),
		IsJS:  isJS,
	}
	if c := t.category[node]; c >= 0 && int(c) < len(t.opts.categories) {
		d.Category = t.opts.categories[c].Name
	}
	if t.rootTotal != 0 {
		d.TotalPercent = 100 * d.Total / t.rootTotal
	}
	d.Dimmed = t.opts.jsOnly && !isJS
	return d
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (t *Tree) nodeLabel(node int32) string {
	d := t.NodeData(node)
	return fmt.Sprintf("%s: self %s total %s", d.Name, formatValue(d.Self), formatValue(d.Total))
}

// String renders the tree in display order.
func (t *Tree) String() string { return t.Render(0) }

// Render renders the nodes at most maxDepth levels deep. A non-positive
// maxDepth means no limit.
func (t *Tree) Render(maxDepth int) string {
	tree := treeprint.New()
	branches := map[int32]treeprint.Tree{model.None: tree}
	t.Walk(func(node int32) bool {
		parent := branches[t.Parent(node)]
		expand := t.HasChildren(node) && (maxDepth <= 0 || t.Depth(node) < maxDepth-1)
		if expand {
			branches[node] = parent.AddBranch(t.nodeLabel(node))
		} else {
			parent.AddNode(t.nodeLabel(node))
		}
		return expand
	})
	return tree.String()
}
