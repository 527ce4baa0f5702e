package symbolication

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/grafana/profiletree/pkg/model"
	"github.com/grafana/profiletree/pkg/transform"
)

// Update is the result of one library request for one thread.
type Update struct {
	Generation uint64
	Thread     int
	// FuncIndices are renamed to Names.
	FuncIndices []int32
	Names       []string
	// OldToNew merges functions that resolved to the same name.
	OldToNew map[int32]int32
}

// ThreadUpdate is the accumulated change to one thread.
type ThreadUpdate struct {
	Names    map[int32]string
	OldToNew map[int32]int32
}

// Batch is the consolidated set of updates handed over by one flush.
type Batch struct {
	Generation uint64
	Threads    map[int]*ThreadUpdate
	// Updates is the number of updates merged into the batch.
	Updates int
}

func newBatch(generation uint64) *Batch {
	return &Batch{Generation: generation, Threads: make(map[int]*ThreadUpdate)}
}

func (b *Batch) Empty() bool { return b == nil || b.Updates == 0 }

// add merges u into the batch. Remaps compose in both directions: every
// target is followed through the batch until it is no longer remapped, so
// a->b then b->c and b->c then a->b both leave a and b mapped to c.
func (b *Batch) add(u Update) {
	if len(u.FuncIndices) != len(u.Names) {
		panic(fmt.Sprintf("symbolication update: %d functions, %d names", len(u.FuncIndices), len(u.Names)))
	}
	t, ok := b.Threads[u.Thread]
	if !ok {
		t = &ThreadUpdate{Names: make(map[int32]string), OldToNew: make(map[int32]int32)}
		b.Threads[u.Thread] = t
	}
	for i, fn := range u.FuncIndices {
		t.Names[fn] = u.Names[i]
	}
	for old, cur := range t.OldToNew {
		if n, ok := u.OldToNew[cur]; ok {
			t.OldToNew[old] = n
		}
	}
	for old, n := range u.OldToNew {
		t.OldToNew[old] = n
	}
	for old, n := range t.OldToNew {
		for steps := 0; steps < len(t.OldToNew); steps++ {
			next, ok := t.OldToNew[n]
			if !ok || next == n {
				break
			}
			n = next
		}
		t.OldToNew[old] = n
	}
	for old, n := range t.OldToNew {
		if old == n {
			delete(t.OldToNew, old)
		}
	}
	b.Updates++
}

// Apply renames and merges the functions of every thread of the batch and
// returns the new profile along with the function remap of each thread,
// which callers use to rewrite persisted call-node paths.
func (b *Batch) Apply(profile *model.Profile) (*model.Profile, map[int]map[int32]int32) {
	remaps := make(map[int]map[int32]int32, len(b.Threads))
	indices := lo.Keys(b.Threads)
	sort.Ints(indices)
	for _, i := range indices {
		if i < 0 || i >= len(profile.Threads) {
			continue
		}
		u := b.Threads[i]
		thread := profile.Threads[i]
		if len(u.Names) > 0 {
			funcs := lo.Keys(u.Names)
			sort.Slice(funcs, func(a, b int) bool { return funcs[a] < funcs[b] })
			names := lo.Map(funcs, func(fn int32, _ int) string { return u.Names[fn] })
			thread = transform.AssignFunctionNames(thread, funcs, names)
		}
		thread = transform.MergeFunctions(thread, u.OldToNew)
		if len(u.OldToNew) > 0 {
			remaps[i] = u.OldToNew
		}
		profile = profile.WithThread(i, thread)
	}
	return profile, remaps
}
