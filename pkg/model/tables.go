package model

// FuncTable rows are distinct functions.
type FuncTable struct {
	Name          []int32 // String handle.
	Resource      []int32 // ResourceTable index or None.
	Address       []int64 // Raw address or -1.
	IsJS          []bool
	RelevantForJS []bool
	FileName      []int32 // String handle or None.
	LineNumber    []int32 // -1 when absent.
	Length        int
}

// Append adds a function row and returns its index.
func (t *FuncTable) Append(name, resource int32, address int64, isJS bool, fileName, line int32) int32 {
	t.Name = append(t.Name, name)
	t.Resource = append(t.Resource, resource)
	t.Address = append(t.Address, address)
	t.IsJS = append(t.IsJS, isJS)
	t.RelevantForJS = append(t.RelevantForJS, false)
	t.FileName = append(t.FileName, fileName)
	t.LineNumber = append(t.LineNumber, line)
	t.Length++
	return int32(t.Length - 1)
}

func (t *FuncTable) Clone() *FuncTable {
	return &FuncTable{
		Name:          cloneColumn(t.Name),
		Resource:      cloneColumn(t.Resource),
		Address:       cloneColumn(t.Address),
		IsJS:          cloneColumn(t.IsJS),
		RelevantForJS: cloneColumn(t.RelevantForJS),
		FileName:      cloneColumn(t.FileName),
		LineNumber:    cloneColumn(t.LineNumber),
		Length:        t.Length,
	}
}

func (t *FuncTable) columnsLen() []int {
	return []int{len(t.Name), len(t.Resource), len(t.Address), len(t.IsJS), len(t.RelevantForJS), len(t.FileName), len(t.LineNumber)}
}

type ResourceTable struct {
	Type   []ResourceType
	Name   []int32 // String handle.
	Lib    []int32 // Index into Thread.Libs or None.
	Host   []int32 // String handle or None.
	Length int
}

func (t *ResourceTable) Append(typ ResourceType, name, lib, host int32) int32 {
	t.Type = append(t.Type, typ)
	t.Name = append(t.Name, name)
	t.Lib = append(t.Lib, lib)
	t.Host = append(t.Host, host)
	t.Length++
	return int32(t.Length - 1)
}

func (t *ResourceTable) columnsLen() []int {
	return []int{len(t.Type), len(t.Name), len(t.Lib), len(t.Host)}
}

// FrameTable rows are distinct observed stack frames.
type FrameTable struct {
	Func           []int32 // FuncTable index.
	Address        []int64 // -1 when unknown.
	Category       []int32 // Index into Meta.Categories or None.
	Implementation []Implementation
	Line           []int32 // -1 when absent.
	Optimizations  []int32 // String handle or None.
	Length         int
}

func (t *FrameTable) Append(fn int32, address int64, category int32, impl Implementation, line int32) int32 {
	t.Func = append(t.Func, fn)
	t.Address = append(t.Address, address)
	t.Category = append(t.Category, category)
	t.Implementation = append(t.Implementation, impl)
	t.Line = append(t.Line, line)
	t.Optimizations = append(t.Optimizations, None)
	t.Length++
	return int32(t.Length - 1)
}

func (t *FrameTable) Clone() *FrameTable {
	return &FrameTable{
		Func:           cloneColumn(t.Func),
		Address:        cloneColumn(t.Address),
		Category:       cloneColumn(t.Category),
		Implementation: cloneColumn(t.Implementation),
		Line:           cloneColumn(t.Line),
		Optimizations:  cloneColumn(t.Optimizations),
		Length:         t.Length,
	}
}

func (t *FrameTable) columnsLen() []int {
	return []int{len(t.Func), len(t.Address), len(t.Category), len(t.Implementation), len(t.Line), len(t.Optimizations)}
}

// StackTable is a prefix tree of observed call stacks: row i is the stack
// made of the stack Prefix[i] with Frame[i] on top. Prefix[i] is either
// None or strictly less than i.
type StackTable struct {
	Prefix []int32
	Frame  []int32
	Length int
}

func (t *StackTable) Append(prefix, frame int32) int32 {
	t.Prefix = append(t.Prefix, prefix)
	t.Frame = append(t.Frame, frame)
	t.Length++
	return int32(t.Length - 1)
}

func (t *StackTable) columnsLen() []int {
	return []int{len(t.Prefix), len(t.Frame)}
}

// SamplesTable rows are captured samples in capture time order.
// Optional columns are nil when absent.
type SamplesTable struct {
	Stack          []int32   // StackTable index or None.
	Time           []float64 // Milliseconds.
	Responsiveness []float64
	RSS            []float64
	USS            []float64
	Weight         []float64
	WeightType     WeightType
	Length         int
}

// Slice returns the samples in [start, end) as a new table.
func (t *SamplesTable) Slice(start, end int) *SamplesTable {
	if start < 0 {
		start = 0
	}
	if end > t.Length {
		end = t.Length
	}
	if end < start {
		end = start
	}
	return &SamplesTable{
		Stack:          sliceColumn(t.Stack, start, end),
		Time:           sliceColumn(t.Time, start, end),
		Responsiveness: sliceColumn(t.Responsiveness, start, end),
		RSS:            sliceColumn(t.RSS, start, end),
		USS:            sliceColumn(t.USS, start, end),
		Weight:         sliceColumn(t.Weight, start, end),
		WeightType:     t.WeightType,
		Length:         end - start,
	}
}

// WithStacks returns a copy of the table that shares every column
// except Stack, which is replaced.
func (t *SamplesTable) WithStacks(stacks []int32) *SamplesTable {
	if len(stacks) != t.Length {
		panic("samples: stack column length mismatch")
	}
	c := *t
	c.Stack = stacks
	return &c
}

func (t *SamplesTable) columnsLen() []int {
	n := []int{len(t.Stack), len(t.Time)}
	for _, c := range [][]float64{t.Responsiveness, t.RSS, t.USS, t.Weight} {
		if c != nil {
			n = append(n, len(c))
		}
	}
	return n
}

type MarkersTable struct {
	Name     []int32 // String handle.
	Category []int32
	Start    []float64
	End      []float64 // NaN for instant markers.
	Length   int
}

func (t *MarkersTable) Append(name, category int32, start, end float64) {
	t.Name = append(t.Name, name)
	t.Category = append(t.Category, category)
	t.Start = append(t.Start, start)
	t.End = append(t.End, end)
	t.Length++
}

func (t *MarkersTable) columnsLen() []int {
	return []int{len(t.Name), len(t.Category), len(t.Start), len(t.End)}
}
