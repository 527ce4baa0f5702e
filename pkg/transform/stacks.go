package transform

import (
	"github.com/grafana/profiletree/pkg/model"
)

// remapSamples returns a thread whose samples point at stackMap[s]
// instead of s. The stack table is replaced by stacks when it is not nil.
func remapSamples(thread *model.Thread, stacks *model.StackTable, stackMap []int32) *model.Thread {
	old := thread.Samples.Stack
	s := make([]int32, len(old))
	for i, stack := range old {
		if stack == model.None {
			s[i] = model.None
			continue
		}
		s[i] = stackMap[stack]
	}
	samples := thread.Samples.WithStacks(s)
	if stacks == nil {
		return thread.WithSamples(samples)
	}
	return thread.WithStacks(stacks, samples)
}

// spliceFrames rebuilds the stack table without the frames keep rejects.
// A stack A -> B -> C where B is rejected becomes A -> C. Samples whose
// every frame is rejected end up without a stack.
func spliceFrames(thread *model.Thread, keep func(frame int32) bool) *model.Thread {
	stacks := thread.StackTable
	b := model.NewStackTableBuilder(stacks.Length)
	stackMap := make([]int32, stacks.Length)
	for i := 0; i < stacks.Length; i++ {
		prefix := model.None
		if p := stacks.Prefix[i]; p != model.None {
			prefix = stackMap[p]
		}
		frame := stacks.Frame[i]
		if keep(frame) {
			stackMap[i] = b.Append(prefix, frame)
		} else {
			stackMap[i] = prefix
		}
	}
	return remapSamples(thread, b.Build(), stackMap)
}

// MergeFunctionOut removes every frame of fn. The time spent in fn is
// attributed to its caller.
func MergeFunctionOut(thread *model.Thread, fn int32) *model.Thread {
	frames := thread.FrameTable
	return spliceFrames(thread, func(frame int32) bool {
		return frames.Func[frame] != fn
	})
}

// DropSamplesWithFunction drops every sample that has fn on its stack.
func DropSamplesWithFunction(thread *model.Thread, fn int32) *model.Thread {
	stacks := thread.StackTable
	stackMap := make([]int32, stacks.Length)
	for i := 0; i < stacks.Length; i++ {
		p := stacks.Prefix[i]
		switch {
		case p != model.None && stackMap[p] == model.None:
			stackMap[i] = model.None
		case thread.StackFunc(int32(i)) == fn:
			stackMap[i] = model.None
		default:
			stackMap[i] = int32(i)
		}
	}
	return remapSamples(thread, nil, stackMap)
}

// CollapseRecursion merges directly recursive calls of fn into the
// outermost one: A -> fn -> fn -> B becomes A -> fn -> B.
func CollapseRecursion(thread *model.Thread, fn int32) *model.Thread {
	stacks := thread.StackTable
	frames := thread.FrameTable
	b := model.NewStackTableBuilder(stacks.Length)
	out := b.Build()
	stackMap := make([]int32, stacks.Length)
	for i := 0; i < stacks.Length; i++ {
		prefix := model.None
		if p := stacks.Prefix[i]; p != model.None {
			prefix = stackMap[p]
		}
		frame := stacks.Frame[i]
		if frames.Func[frame] == fn && prefix != model.None && frames.Func[out.Frame[prefix]] == fn {
			stackMap[i] = prefix
			continue
		}
		stackMap[i] = b.Append(prefix, frame)
	}
	return remapSamples(thread, out, stackMap)
}
