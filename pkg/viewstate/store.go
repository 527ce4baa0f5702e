// Package viewstate holds the per-thread state a profile viewer persists:
// committed ranges, transforms, search, selection and expansion. Call
// nodes are always kept as paths and resolved against the call-node
// table of the current filtered thread.
package viewstate

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"

	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/calltree"
	"github.com/grafana/profiletree/pkg/model"
	"github.com/grafana/profiletree/pkg/symbolication"
	"github.com/grafana/profiletree/pkg/transform"
)

type threadState struct {
	ranges         []transform.Range
	transforms     []transform.Filter
	implementation transform.ImplementationKind
	search         string
	inverted       bool
	preview        *transform.PreviewRange

	selected callnode.Path
	expanded *callnode.PathSet

	// Derived from the filtered thread, rebuilt when it changes.
	filtered *model.Thread
	info     *callnode.Info
	tree     *calltree.Tree
}

func newThreadState() *threadState {
	return &threadState{expanded: callnode.NewPathSet()}
}

// Store owns a profile and the view state of its threads. It implements
// symbolication.Applier. Trees returned by the Store must not be shared
// between goroutines.
type Store struct {
	logger log.Logger
	memo   *transform.Memo

	mu         sync.Mutex
	profile    *model.Profile
	generation uint64
	threads    []*threadState
}

func NewStore(logger log.Logger, profile *model.Profile, memo *transform.Memo) *Store {
	s := &Store{logger: logger, memo: memo}
	s.SetProfile(profile)
	return s
}

// SetProfile replaces the profile, resets the view state, and returns the
// new profile generation.
func (s *Store) SetProfile(p *model.Profile) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	s.generation++
	s.threads = make([]*threadState, len(p.Threads))
	for i := range s.threads {
		s.threads[i] = newThreadState()
	}
	s.memo.Purge()
	return s.generation
}

func (s *Store) Profile() *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Store) thread(i int) *threadState {
	if i < 0 || i >= len(s.threads) {
		panic(fmt.Sprintf("thread %d out of range [0, %d)", i, len(s.threads)))
	}
	return s.threads[i]
}

func (s *Store) update(i int, fn func(t *threadState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.thread(i))
}

// PushRange commits a range. Committed ranges narrow each other.
func (s *Store) PushRange(i int, start, end float64) {
	s.update(i, func(t *threadState) {
		t.ranges = append(t.ranges, transform.Range{Start: start, End: end})
		t.preview = nil
	})
}

// PopRange removes the most recently committed range.
func (s *Store) PopRange(i int) {
	s.update(i, func(t *threadState) {
		if len(t.ranges) > 0 {
			t.ranges = t.ranges[:len(t.ranges)-1]
		}
	})
}

func (s *Store) SetPreviewRange(i int, start, end float64) {
	s.update(i, func(t *threadState) {
		t.preview = &transform.PreviewRange{Start: start, End: end}
	})
}

func (s *Store) ClearPreviewRange(i int) {
	s.update(i, func(t *threadState) { t.preview = nil })
}

// PushTransform appends a call-path filter to the transform stack.
func (s *Store) PushTransform(i int, f transform.Filter) error {
	switch f.(type) {
	case transform.FocusPrefix, transform.FocusPostfix, transform.MergeFunction,
		transform.DropFunction, transform.CollapseDirectRecursion:
	default:
		return fmt.Errorf("%s is not a call-path transform", f)
	}
	s.update(i, func(t *threadState) { t.transforms = append(t.transforms, f) })
	return nil
}

// PopTransform removes the last transform.
func (s *Store) PopTransform(i int) {
	s.update(i, func(t *threadState) {
		if len(t.transforms) > 0 {
			t.transforms = t.transforms[:len(t.transforms)-1]
		}
	})
}

func (s *Store) SetImplementation(i int, kind transform.ImplementationKind) {
	s.update(i, func(t *threadState) { t.implementation = kind })
}

func (s *Store) SetSearch(i int, query string) {
	s.update(i, func(t *threadState) { t.search = query })
}

// SetInverted switches the thread between the regular and inverted
// tree. Selection and expansion are dropped since paths of one tree are
// meaningless in the other.
func (s *Store) SetInverted(i int, inverted bool) {
	s.update(i, func(t *threadState) {
		if t.inverted == inverted {
			return
		}
		t.inverted = inverted
		t.selected = nil
		t.expanded = callnode.NewPathSet()
	})
}

// Filters returns the filter list of the thread in pipeline order.
func (s *Store) Filters(i int) []transform.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread(i).filters()
}

func (t *threadState) filters() []transform.Filter {
	f := make([]transform.Filter, 0, len(t.ranges)+len(t.transforms)+4)
	for _, r := range t.ranges {
		f = append(f, r)
	}
	f = append(f, t.transforms...)
	if t.implementation != transform.ImplementationCombined {
		f = append(f, transform.Implementation{Kind: t.implementation})
	}
	if t.search != "" {
		f = append(f, transform.Search{Query: t.search})
	}
	if t.inverted {
		f = append(f, transform.Invert{})
	}
	if t.preview != nil {
		f = append(f, *t.preview)
	}
	return f
}

// FilteredThread runs the filter pipeline of thread i.
func (s *Store) FilteredThread(i int) *model.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filtered(i)
}

func (s *Store) filtered(i int) *model.Thread {
	t := s.thread(i)
	filtered := s.memo.Apply(s.profile.Threads[i], t.filters())
	if filtered != t.filtered {
		t.filtered, t.info, t.tree = filtered, nil, nil
	}
	return filtered
}

func (s *Store) CallNodeInfo(i int) *callnode.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callNodeInfo(i)
}

func (s *Store) callNodeInfo(i int) *callnode.Info {
	filtered := s.filtered(i)
	t := s.threads[i]
	if t.info == nil {
		t.info = callnode.Compute(filtered)
	}
	return t.info
}

// CallTree returns the call tree of the filtered thread i.
func (s *Store) CallTree(i int) *calltree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.callNodeInfo(i)
	t := s.threads[i]
	if t.tree == nil {
		t.tree = calltree.Build(t.filtered, info,
			calltree.FromThread(t.filtered, s.profile.Meta.Interval),
			calltree.WithCategories(s.profile.Meta.Categories),
			calltree.WithJSOnlyView(t.implementation == transform.ImplementationJS),
		)
	}
	return t.tree
}

func (s *Store) SelectCallNode(i int, path callnode.Path) {
	s.update(i, func(t *threadState) {
		t.selected = append(callnode.Path(nil), path...)
	})
}

func (s *Store) SelectedPath(i int) callnode.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread(i).selected
}

// SelectedCallNode resolves the selected path against the current
// call-node table. It returns model.None if nothing is selected or the
// path does not exist in the filtered thread.
func (s *Store) SelectedCallNode(i int) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.thread(i).selected
	if len(sel) == 0 {
		return model.None
	}
	return s.callNodeInfo(i).Table.Resolve(sel)
}

// Expand marks path and all its ancestors as expanded.
func (s *Store) Expand(i int, path callnode.Path) {
	s.update(i, func(t *threadState) {
		for p := path; len(p) > 0; p = p.Parent() {
			t.expanded.Add(p)
		}
	})
}

// ExpandToDepth expands every node of the current call tree less than
// depth levels deep.
func (s *Store) ExpandToDepth(i int, depth int) {
	paths := s.CallTree(i).ExpandedToDepth(depth)
	s.update(i, func(t *threadState) {
		for _, p := range paths {
			t.expanded.Add(p)
		}
	})
}

func (s *Store) Collapse(i int, path callnode.Path) {
	s.update(i, func(t *threadState) { t.expanded.Remove(path) })
}

func (s *Store) IsExpanded(i int, path callnode.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread(i).expanded.Has(path)
}

func (s *Store) ExpandedPaths(i int) []callnode.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread(i).expanded.Paths()
}

// ApplyBatch applies symbolication results to the profile and rewrites
// the persisted paths and transforms that refer to merged functions.
// Batches of another generation are ignored.
func (s *Store) ApplyBatch(b *symbolication.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Generation != s.generation {
		level.Debug(s.logger).Log("msg", "ignoring symbolication batch of a previous profile", "generation", b.Generation, "current", s.generation)
		return
	}
	profile, remaps := b.Apply(s.profile)
	s.profile = profile
	for i, remap := range remaps {
		t := s.threads[i]
		t.selected, _ = t.selected.Rewrite(remap)
		t.expanded = t.expanded.Rewrite(remap)
		t.transforms = lo.Map(t.transforms, func(f transform.Filter, _ int) transform.Filter {
			return rewriteFilter(f, remap)
		})
	}
	level.Debug(s.logger).Log("msg", "applied symbolication batch", "threads", len(b.Threads), "merged", len(remaps))
}

func rewriteFilter(f transform.Filter, remap map[int32]int32) transform.Filter {
	fn := func(v int32) int32 {
		if n, ok := remap[v]; ok {
			return n
		}
		return v
	}
	switch f := f.(type) {
	case transform.FocusPrefix:
		f.Path, _ = f.Path.Rewrite(remap)
		return f
	case transform.FocusPostfix:
		f.Path, _ = f.Path.Rewrite(remap)
		return f
	case transform.MergeFunction:
		f.Func = fn(f.Func)
		return f
	case transform.DropFunction:
		f.Func = fn(f.Func)
		return f
	case transform.CollapseDirectRecursion:
		f.Func = fn(f.Func)
		return f
	}
	return f
}

var _ symbolication.Applier = (*Store)(nil)
