package transform

import "github.com/grafana/profiletree/pkg/model"

// InvertCallstack reverses the stack of every sample: the leaf frame
// becomes the root. Inverting twice yields the original call paths.
func InvertCallstack(thread *model.Thread) *model.Thread {
	stacks := thread.StackTable
	b := model.NewStackTableBuilder(stacks.Length)
	inverted := make([]int32, stacks.Length)
	for i := range inverted {
		inverted[i] = model.None
	}
	var frames []int32
	old := thread.Samples.Stack
	s := make([]int32, len(old))
	for i, stack := range old {
		if stack == model.None {
			s[i] = model.None
			continue
		}
		if inverted[stack] == model.None {
			frames = frames[:0]
			for f := stack; f != model.None; f = stacks.Prefix[f] {
				frames = append(frames, stacks.Frame[f])
			}
			inverted[stack] = b.AppendPath(model.None, frames)
		}
		s[i] = inverted[stack]
	}
	return thread.WithStacks(b.Build(), thread.Samples.WithStacks(s))
}
