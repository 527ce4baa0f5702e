package transform

import (
	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/model"
)

// FilterThreadToPrefix keeps the part of every stack below the call node
// at path. The frames of the path except the last are removed, so the
// focused function becomes the only root. Samples outside the subtree
// lose their stack.
//
// With a JS or C++ implementation, path is matched against the stack
// with frames of other implementations skipped. Such frames are dropped
// above the focused function and kept below it.
func FilterThreadToPrefix(thread *model.Thread, path callnode.Path, impl ImplementationKind) *model.Thread {
	if len(path) == 0 {
		return thread
	}
	n := int32(len(path))
	counts := impl.matcher(thread.FuncTable)
	stacks := thread.StackTable
	b := model.NewStackTableBuilder(stacks.Length)
	depth := make([]int32, stacks.Length)
	matched := make([]bool, stacks.Length)
	stackMap := make([]int32, stacks.Length)
	for i := 0; i < stacks.Length; i++ {
		pd, pm, pNew := int32(0), true, model.None
		if p := stacks.Prefix[i]; p != model.None {
			pd, pm, pNew = depth[p], matched[p], stackMap[p]
		}
		frame := stacks.Frame[i]
		fn := thread.FrameTable.Func[frame]
		if !counts(fn) {
			depth[i], matched[i] = pd, pm
			if pNew != model.None {
				stackMap[i] = b.Append(pNew, frame)
			} else {
				stackMap[i] = model.None
			}
			continue
		}
		depth[i] = pd + 1
		switch {
		case !pm:
			matched[i], stackMap[i] = false, model.None
		case pd < n:
			matched[i] = path[pd] == fn
			stackMap[i] = model.None
			if matched[i] && pd == n-1 {
				stackMap[i] = b.Append(model.None, frame)
			}
		default:
			matched[i] = true
			stackMap[i] = b.Append(pNew, frame)
		}
	}
	return remapSamples(thread, b.Build(), stackMap)
}

// FilterThreadToPostfix keeps the samples whose stack ends with the
// functions of path, given leaf first. The stack of a kept sample is cut
// right above its last matched frame, so the last function of path
// becomes the leaf. The stack table itself is not changed.
func FilterThreadToPostfix(thread *model.Thread, path callnode.Path, impl ImplementationKind) *model.Thread {
	if len(path) == 0 {
		return thread
	}
	counts := impl.matcher(thread.FuncTable)
	stacks := thread.StackTable
	const unknown = -2
	cache := make([]int32, stacks.Length)
	for i := range cache {
		cache[i] = unknown
	}
	match := func(leaf int32) int32 {
		k := 0
		for s := leaf; s != model.None; s = stacks.Prefix[s] {
			fn := thread.StackFunc(s)
			if !counts(fn) {
				continue
			}
			if fn != path[k] {
				return model.None
			}
			if k++; k == len(path) {
				return s
			}
		}
		return model.None
	}
	old := thread.Samples.Stack
	s := make([]int32, len(old))
	for i, stack := range old {
		if stack == model.None {
			s[i] = model.None
			continue
		}
		if cache[stack] == unknown {
			cache[stack] = match(stack)
		}
		s[i] = cache[stack]
	}
	return thread.WithSamples(thread.Samples.WithStacks(s))
}
