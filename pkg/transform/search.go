package transform

import (
	"strings"

	"github.com/grafana/profiletree/pkg/model"
)

// FilterThreadToSearchString drops the stack of every sample that has no
// function whose name contains query, ignoring case. An empty query
// returns thread itself.
//
// Matches are computed once per stack row of the thread's own stack
// table, so the result never depends on another table's indices.
func FilterThreadToSearchString(thread *model.Thread, query string) *model.Thread {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return thread
	}
	const (
		unknown uint8 = iota
		no
		yes
	)
	funcMatch := make([]uint8, thread.FuncTable.Length)
	stacks := thread.StackTable
	stackMap := make([]int32, stacks.Length)
	for i := 0; i < stacks.Length; i++ {
		if p := stacks.Prefix[i]; p != model.None && stackMap[p] != model.None {
			stackMap[i] = int32(i)
			continue
		}
		fn := thread.StackFunc(int32(i))
		if funcMatch[fn] == unknown {
			funcMatch[fn] = no
			if strings.Contains(strings.ToLower(thread.FuncName(fn)), query) {
				funcMatch[fn] = yes
			}
		}
		stackMap[i] = model.None
		if funcMatch[fn] == yes {
			stackMap[i] = int32(i)
		}
	}
	return remapSamples(thread, nil, stackMap)
}
