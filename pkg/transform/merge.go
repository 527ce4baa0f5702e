package transform

import (
	"fmt"

	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/model"
)

// MergeFunctions points every frame of a function in oldToNew at the
// function it maps to. Only the frame table is replaced; if no frame is
// affected, thread itself is returned.
func MergeFunctions(thread *model.Thread, oldToNew map[int32]int32) *model.Thread {
	if len(oldToNew) == 0 {
		return thread
	}
	var frames *model.FrameTable
	for i, fn := range thread.FrameTable.Func {
		n, ok := oldToNew[fn]
		if !ok || n == fn {
			continue
		}
		if frames == nil {
			frames = thread.FrameTable.Clone()
		}
		frames.Func[i] = n
	}
	if frames == nil {
		return thread
	}
	return thread.WithFrameTable(frames)
}

// AssignFunctionNames renames the functions at funcIndices. Names are
// interned into a copy of the string table, so the input thread and any
// thread sharing its strings are left untouched.
func AssignFunctionNames(thread *model.Thread, funcIndices []int32, names []string) *model.Thread {
	if len(funcIndices) != len(names) {
		panic(fmt.Sprintf("assign function names: %d functions, %d names", len(funcIndices), len(names)))
	}
	if len(funcIndices) == 0 {
		return thread
	}
	strings := thread.Strings.Clone()
	funcs := thread.FuncTable.Clone()
	for i, fn := range funcIndices {
		funcs.Name[fn] = strings.Intern(names[i])
	}
	return thread.WithFuncTable(funcs, strings)
}

// RewritePaths substitutes merged functions in every path. Paths without
// a merged function are returned as is, sharing their backing arrays.
func RewritePaths(paths []callnode.Path, oldToNew map[int32]int32) []callnode.Path {
	r := make([]callnode.Path, len(paths))
	for i, p := range paths {
		r[i], _ = p.Rewrite(oldToNew)
	}
	return r
}
