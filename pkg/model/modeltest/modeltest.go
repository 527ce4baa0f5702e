// Package modeltest builds threads from a compact text notation for tests.
//
// Every sample is described by a space separated list of functions from
// the root to the leaf, e.g. "A B C". An empty string is a sample without
// a stack. Tokens have the form
//
//	name[#frame][@lib]
//
// A name ending in ".js" is a JS function. "#frame" creates a distinct
// frame for the same function. "@lib" attaches the function to a library
// resource; when name is a hex number ("0x1a@libxul.so") the function is
// an unsymbolicated address relative to the library start.
package modeltest

import (
	"strconv"
	"strings"

	"github.com/grafana/profiletree/pkg/model"
	"github.com/grafana/profiletree/pkg/stringtable"
)

// LibSpan is the address range reserved for every test library.
const LibSpan = 1 << 32

type Sample struct {
	Stack  string
	Time   float64
	Weight float64
}

// NewThread creates a thread with one sample per stack, at times 0, 1, 2...
func NewThread(stacks ...string) *model.Thread {
	samples := make([]Sample, len(stacks))
	for i, s := range stacks {
		samples[i] = Sample{Stack: s, Time: float64(i)}
	}
	return build(samples, false)
}

// NewWeightedThread creates a thread with an explicit weight column.
func NewWeightedThread(samples ...Sample) *model.Thread {
	return build(samples, true)
}

// NewTimedThread creates a thread with the given sample times.
func NewTimedThread(samples ...Sample) *model.Thread {
	return build(samples, false)
}

type builder struct {
	thread *model.Thread
	funcs  map[string]int32
	frames map[string]int32
	libs   map[string]int32
	stacks *model.StackTableBuilder
}

func build(samples []Sample, weighted bool) *model.Thread {
	b := &builder{
		thread: &model.Thread{
			Name:          "GeckoMain",
			ProcessType:   "default",
			Samples:       &model.SamplesTable{},
			Markers:       &model.MarkersTable{},
			FrameTable:    &model.FrameTable{},
			FuncTable:     &model.FuncTable{},
			ResourceTable: &model.ResourceTable{},
			Strings:       stringtable.New(),
		},
		funcs:  make(map[string]int32),
		frames: make(map[string]int32),
		libs:   make(map[string]int32),
		stacks: model.NewStackTableBuilder(len(samples)),
	}
	s := b.thread.Samples
	if weighted {
		s.Weight = make([]float64, 0, len(samples))
		s.WeightType = model.WeightTracingMs
	}
	for _, sample := range samples {
		stack := model.None
		for _, tok := range strings.Fields(sample.Stack) {
			stack = b.stacks.Append(stack, b.frame(tok))
		}
		s.Stack = append(s.Stack, stack)
		s.Time = append(s.Time, sample.Time)
		if weighted {
			s.Weight = append(s.Weight, sample.Weight)
		}
		s.Length++
	}
	b.thread.StackTable = b.stacks.Build()
	return b.thread
}

func (b *builder) frame(tok string) int32 {
	if f, ok := b.frames[tok]; ok {
		return f
	}
	name, lib := tok, ""
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name, lib = name[:i], name[i+1:]
	}
	if i := strings.IndexByte(name, '#'); i >= 0 {
		name = name[:i]
	}
	fn := b.function(name, lib)
	impl := model.ImplementationNative
	if b.thread.FuncTable.IsJS[fn] {
		impl = model.ImplementationInterpreter
	}
	f := b.thread.FrameTable.Append(fn, b.thread.FuncTable.Address[fn], model.None, impl, -1)
	b.frames[tok] = f
	return f
}

func (b *builder) function(name, lib string) int32 {
	key := name + "@" + lib
	if fn, ok := b.funcs[key]; ok {
		return fn
	}
	t := b.thread
	resource := model.None
	address := int64(-1)
	if lib != "" {
		var libIndex int32
		resource, libIndex = b.library(lib)
		if v, err := strconv.ParseUint(strings.TrimPrefix(name, "0x"), 16, 64); err == nil && strings.HasPrefix(name, "0x") {
			address = int64(t.Libs[libIndex].Start + v)
			name = lib + "!" + name
		}
	}
	isJS := strings.HasSuffix(name, ".js")
	fn := t.FuncTable.Append(t.Strings.Intern(name), resource, address, isJS, model.None, -1)
	b.funcs[key] = fn
	return fn
}

func (b *builder) library(name string) (resource, lib int32) {
	t := b.thread
	if r, ok := b.libs[name]; ok {
		return r, t.ResourceTable.Lib[r]
	}
	lib = int32(len(t.Libs))
	start := uint64(lib+1) * LibSpan
	t.Libs = append(t.Libs, model.Lib{
		Start:      start,
		End:        start + LibSpan,
		Name:       name,
		DebugName:  name,
		Path:       "/usr/lib/" + name,
		BreakpadID: strings.ToUpper(strconv.FormatUint(uint64(lib+1), 16)) + "0",
	})
	resource = t.ResourceTable.Append(model.ResourceLibrary, t.Strings.Intern(name), lib, model.None)
	b.libs[name] = resource
	return resource, lib
}

// FuncIndex returns the index of the first function with the given name,
// or model.None.
func FuncIndex(t *model.Thread, name string) int32 {
	h, ok := t.Strings.Index(name)
	if !ok {
		return model.None
	}
	for i, n := range t.FuncTable.Name {
		if n == h {
			return int32(i)
		}
	}
	return model.None
}

// FuncPath converts space separated function names into a path of
// function indices.
func FuncPath(t *model.Thread, names string) []int32 {
	fields := strings.Fields(names)
	p := make([]int32, len(fields))
	for i, name := range fields {
		p[i] = FuncIndex(t, name)
	}
	return p
}

// SamplePaths returns the root to leaf function names of every sample,
// in the notation accepted by NewThread.
func SamplePaths(t *model.Thread) []string {
	paths := make([]string, t.Samples.Length)
	var buf []int32
	for i, s := range t.Samples.Stack {
		if s == model.None {
			continue
		}
		buf = t.FuncPathForStack(buf, s)
		names := make([]string, len(buf))
		for j, fn := range buf {
			names[j] = t.FuncName(fn)
		}
		paths[i] = strings.Join(names, " ")
	}
	return paths
}
