package transform

import (
	"errors"
	"flag"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/grafana/profiletree/pkg/model"
)

// ApplyFilters runs the filters in pipeline order: ranges, then call-path
// filters in the order given, then the implementation filter, the search
// filter, inversion and finally the preview range. Only the last
// implementation, search and preview range filters are applied.
func ApplyFilters(thread *model.Thread, filters []Filter) *model.Thread {
	var m *Memo
	return m.Apply(thread, filters)
}

// pipeline orders the filters by stage.
func pipeline(filters []Filter) []Filter {
	var (
		ranges, callPaths  []Filter
		impl, search, prev Filter
		invert             bool
	)
	for _, f := range filters {
		switch stageOf(f) {
		case stageRange:
			ranges = append(ranges, f)
		case stageCallPath:
			callPaths = append(callPaths, f)
		case stageImplementation:
			impl = f
		case stageSearch:
			search = f
		case stageInvert:
			invert = true
		case stagePreviewRange:
			prev = f
		}
	}
	p := make([]Filter, 0, len(ranges)+len(callPaths)+4)
	p = append(p, ranges...)
	p = append(p, callPaths...)
	if impl != nil {
		p = append(p, impl)
	}
	if search != nil {
		p = append(p, search)
	}
	if invert {
		p = append(p, Invert{})
	}
	if prev != nil {
		p = append(p, prev)
	}
	return p
}

type MemoConfig struct {
	Size int `yaml:"size"`
}

func (cfg *MemoConfig) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.Size, "transform.memo-size", 256, "Number of filtered threads kept in memory.")
}

func (cfg *MemoConfig) Validate() error {
	if cfg.Size <= 0 {
		return errors.New("transform memo size must be positive")
	}
	return nil
}

type memoKey struct {
	input  *model.Thread
	filter string
}

// Memo caches the output of every filter stage by input thread and
// filter. Since threads are never modified, the same input and filter
// always yield the same output thread.
type Memo struct {
	cache *lru.Cache[memoKey, *model.Thread]
}

func NewMemo(cfg MemoConfig) (*Memo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := lru.New[memoKey, *model.Thread](cfg.Size)
	if err != nil {
		return nil, err
	}
	return &Memo{cache: c}, nil
}

// Apply is ApplyFilters with memoization. A nil Memo does not cache.
func (m *Memo) Apply(thread *model.Thread, filters []Filter) *model.Thread {
	for _, f := range pipeline(filters) {
		thread = m.apply(thread, f)
	}
	return thread
}

func (m *Memo) apply(thread *model.Thread, f Filter) *model.Thread {
	if m == nil {
		return apply(thread, f)
	}
	k := memoKey{input: thread, filter: f.String()}
	if t, ok := m.cache.Get(k); ok {
		return t
	}
	t := apply(thread, f)
	m.cache.Add(k, t)
	return t
}

// Purge drops every cached thread.
func (m *Memo) Purge() {
	if m != nil {
		m.cache.Purge()
	}
}

func (m *Memo) Len() int {
	if m == nil {
		return 0
	}
	return m.cache.Len()
}
