package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/grafana/profiletree/pkg/stringtable"
)

// Thread is an immutable bundle of the tables describing one profiled
// thread. Transforms never modify a Thread: they return a new one that
// shares the tables they did not change, so the pointer identity of a
// Thread identifies its content.
type Thread struct {
	Name        string
	ProcessType string
	TID         int64

	Samples       *SamplesTable
	Markers       *MarkersTable
	StackTable    *StackTable
	FrameTable    *FrameTable
	FuncTable     *FuncTable
	ResourceTable *ResourceTable
	Strings       *stringtable.Table
	Libs          Libs
}

func (t *Thread) clone() *Thread {
	c := *t
	return &c
}

func (t *Thread) WithSamples(s *SamplesTable) *Thread {
	c := t.clone()
	c.Samples = s
	return c
}

func (t *Thread) WithStacks(stacks *StackTable, samples *SamplesTable) *Thread {
	c := t.clone()
	c.StackTable = stacks
	c.Samples = samples
	return c
}

func (t *Thread) WithMarkers(m *MarkersTable) *Thread {
	c := t.clone()
	c.Markers = m
	return c
}

func (t *Thread) WithFrameTable(f *FrameTable) *Thread {
	c := t.clone()
	c.FrameTable = f
	return c
}

func (t *Thread) WithFuncTable(f *FuncTable, strings *stringtable.Table) *Thread {
	c := t.clone()
	c.FuncTable = f
	c.Strings = strings
	return c
}

// FuncName returns the name of the function fn.
func (t *Thread) FuncName(fn int32) string {
	return t.Strings.Lookup(t.FuncTable.Name[fn])
}

// ResourceName returns the name of the resource (library, host, ...) the
// function fn belongs to, or an empty string.
func (t *Thread) ResourceName(fn int32) string {
	r := t.FuncTable.Resource[fn]
	if r == None {
		return ""
	}
	return t.Strings.Lookup(t.ResourceTable.Name[r])
}

// StackFunc returns the function of the top frame of the stack.
func (t *Thread) StackFunc(stack int32) int32 {
	return t.FrameTable.Func[t.StackTable.Frame[stack]]
}

// FuncPathForStack returns the function indices of the stack,
// root first. dst is reused if it has enough capacity.
func (t *Thread) FuncPathForStack(dst []int32, stack int32) []int32 {
	dst = dst[:0]
	for s := stack; s != None; s = t.StackTable.Prefix[s] {
		dst = append(dst, t.StackFunc(s))
	}
	for i, j := 0, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}

// Validate checks the table invariants the transformation core relies on.
// The core itself treats violations as programming errors; Validate is
// meant for ingestion adapters.
func (t *Thread) Validate() error {
	if t.Samples == nil || t.StackTable == nil || t.FrameTable == nil || t.FuncTable == nil || t.Strings == nil {
		return errors.New("thread: missing table")
	}
	checks := []tableShape{
		{"samples", t.Samples.Length, t.Samples.columnsLen()},
		{"stacks", t.StackTable.Length, t.StackTable.columnsLen()},
		{"frames", t.FrameTable.Length, t.FrameTable.columnsLen()},
		{"funcs", t.FuncTable.Length, t.FuncTable.columnsLen()},
	}
	if t.ResourceTable != nil {
		checks = append(checks, tableShape{"resources", t.ResourceTable.Length, t.ResourceTable.columnsLen()})
	}
	if t.Markers != nil {
		checks = append(checks, tableShape{"markers", t.Markers.Length, t.Markers.columnsLen()})
	}
	for _, c := range checks {
		for _, n := range c.cols {
			if n != c.length {
				return fmt.Errorf("%s: column length %d does not match table length %d", c.name, n, c.length)
			}
		}
	}
	for i, p := range t.StackTable.Prefix {
		if p != None && (p < 0 || int(p) >= i) {
			return fmt.Errorf("stacks: prefix %d of stack %d is not topologically ordered", p, i)
		}
		if f := t.StackTable.Frame[i]; f < 0 || int(f) >= t.FrameTable.Length {
			return fmt.Errorf("stacks: frame %d of stack %d out of range", f, i)
		}
	}
	for i, fn := range t.FrameTable.Func {
		if fn < 0 || int(fn) >= t.FuncTable.Length {
			return fmt.Errorf("frames: func %d of frame %d out of range", fn, i)
		}
	}
	for i, n := range t.FuncTable.Name {
		if n < 0 || int(n) >= t.Strings.Len() {
			return fmt.Errorf("funcs: name %d of func %d out of range", n, i)
		}
		if r := t.FuncTable.Resource[i]; r != None && (t.ResourceTable == nil || int(r) >= t.ResourceTable.Length) {
			return fmt.Errorf("funcs: resource %d of func %d out of range", r, i)
		}
	}
	for i, s := range t.Samples.Stack {
		if s != None && (s < 0 || int(s) >= t.StackTable.Length) {
			return fmt.Errorf("samples: stack %d of sample %d out of range", s, i)
		}
	}
	if !isSorted(t.Samples.Time) {
		return errors.New("samples: not in time order")
	}
	for _, w := range t.Samples.Weight {
		if math.IsNaN(w) {
			return errors.New("samples: NaN weight")
		}
	}
	return nil
}

type tableShape struct {
	name   string
	length int
	cols   []int
}

// Meta holds profile-wide properties.
type Meta struct {
	// Interval is the sampling interval in milliseconds.
	Interval     float64
	StartTime    float64
	Categories   []Category
	Symbolicated bool
	Product      string
}

type Profile struct {
	Meta    Meta
	Threads []*Thread
	Libs    Libs
}

// WithThread returns a shallow copy of the profile where the thread
// at index i is replaced.
func (p *Profile) WithThread(i int, t *Thread) *Profile {
	c := *p
	c.Threads = make([]*Thread, len(p.Threads))
	copy(c.Threads, p.Threads)
	c.Threads[i] = t
	return &c
}
