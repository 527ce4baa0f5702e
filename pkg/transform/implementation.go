package transform

import "github.com/grafana/profiletree/pkg/model"

// FilterThreadByImplementation removes the frames whose function does
// not belong to kind, splicing the remaining frames together. The
// combined implementation returns thread itself.
func FilterThreadByImplementation(thread *model.Thread, kind ImplementationKind) *model.Thread {
	if kind == ImplementationCombined {
		return thread
	}
	match := kind.matcher(thread.FuncTable)
	frames := thread.FrameTable
	return spliceFrames(thread, func(frame int32) bool {
		return match(frames.Func[frame])
	})
}
