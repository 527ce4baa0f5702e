package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/model"
	"github.com/grafana/profiletree/pkg/model/modeltest"
)

func path(t *model.Thread, names string) callnode.Path {
	return modeltest.FuncPath(t, names)
}

func Test_FilterThreadByRange(t *testing.T) {
	thread := modeltest.NewThread("A", "B", "C", "D")
	for _, tc := range []struct {
		name       string
		start, end float64
		expected   []string
	}{
		{"middle", 1, 3, []string{"B", "C"}},
		{"fractional bounds", 0.5, 2.5, []string{"B", "C"}},
		{"everything", -1, 10, []string{"A", "B", "C", "D"}},
		{"empty", 2, 2, []string{}},
		{"inverted", 3, 1, []string{}},
		{"out of bounds", 10, 20, []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := FilterThreadByRange(thread, tc.start, tc.end)
			assert.Equal(t, len(tc.expected), r.Samples.Length)
			assert.Equal(t, tc.expected, modeltest.SamplePaths(r))
			require.NoError(t, r.Validate())
		})
	}
	assert.Equal(t, 4, thread.Samples.Length)
}

func Test_FilterThreadByRange_Markers(t *testing.T) {
	thread := modeltest.NewThread("A", "B", "C", "D")
	name := thread.Strings.Intern("marker")
	thread.Markers.Append(name, 0, 0.5, 0.7)
	thread.Markers.Append(name, 0, 2.5, 10)
	thread.Markers.Append(name, 0, 1, math.NaN())
	thread.Markers.Append(name, 0, 3, math.NaN())

	r := FilterThreadByRange(thread, 1, 3)
	assert.Equal(t, 2, r.Markers.Length)
	assert.Equal(t, []float64{2.5, 1}, r.Markers.Start)
	assert.Equal(t, 4, thread.Markers.Length)

	assert.Same(t, thread.Markers, FilterThreadByPreviewRange(thread, 1, 3).Markers)
}

func Test_FiltersPreserveSampleCount(t *testing.T) {
	thread := modeltest.NewThread("A B C", "A B D", "", "main a.js native b.js", "E B B F")
	a, b := modeltest.FuncIndex(thread, "A"), modeltest.FuncIndex(thread, "B")
	for _, f := range []Filter{
		FocusPrefix{Path: path(thread, "A B")},
		FocusPrefix{Path: path(thread, "a.js b.js"), Implementation: ImplementationJS},
		FocusPostfix{Path: path(thread, "C B")},
		Implementation{Kind: ImplementationJS},
		Implementation{Kind: ImplementationCPP},
		Search{Query: "b"},
		Invert{},
		MergeFunction{Func: b},
		DropFunction{Func: a},
		CollapseDirectRecursion{Func: b},
	} {
		t.Run(f.String(), func(t *testing.T) {
			r := apply(thread, f)
			assert.Equal(t, thread.Samples.Length, r.Samples.Length)
			assert.Len(t, r.Samples.Stack, thread.Samples.Length)
			assert.Equal(t, thread.Samples.Time, r.Samples.Time)
			require.NoError(t, r.Validate())
		})
	}
}

func Test_FilterThreadToPrefix(t *testing.T) {
	thread := modeltest.NewThread("A B C", "A B D", "A E", "B C", "A B")
	r := FilterThreadToPrefix(thread, path(thread, "A B"), ImplementationCombined)
	assert.Equal(t, []string{"B C", "B D", "", "", "B"}, modeltest.SamplePaths(r))

	assert.Same(t, thread, FilterThreadToPrefix(thread, nil, ImplementationCombined))
}

func Test_FilterThreadToPrefix_JS(t *testing.T) {
	thread := modeltest.NewThread(
		"main a.js native b.js",
		"main a.js c.js",
		"main a.js b.js native",
	)
	r := FilterThreadToPrefix(thread, path(thread, "a.js b.js"), ImplementationJS)
	assert.Equal(t, []string{"b.js", "", "b.js native"}, modeltest.SamplePaths(r))

	// Without the JS-only view the native frame breaks the path.
	r = FilterThreadToPrefix(thread, path(thread, "main a.js b.js"), ImplementationCombined)
	assert.Equal(t, []string{"", "", "b.js native"}, modeltest.SamplePaths(r))
}

func Test_FilterThreadToPostfix(t *testing.T) {
	thread := modeltest.NewThread("A B C", "D B C", "A C", "C B", "")
	r := FilterThreadToPostfix(thread, path(thread, "C B"), ImplementationCombined)
	assert.Equal(t, []string{"A B", "D B", "", "", ""}, modeltest.SamplePaths(r))
	assert.Same(t, thread.StackTable, r.StackTable)

	js := modeltest.NewThread("a.js native b.js native", "a.js c.js")
	r = FilterThreadToPostfix(js, path(js, "b.js a.js"), ImplementationJS)
	assert.Equal(t, []string{"a.js", ""}, modeltest.SamplePaths(r))
}

func Test_FilterThreadByImplementation(t *testing.T) {
	thread := modeltest.NewThread("main a.js native b.js", "main native", "c.js")
	assert.Same(t, thread, FilterThreadByImplementation(thread, ImplementationCombined))

	js := FilterThreadByImplementation(thread, ImplementationJS)
	assert.Equal(t, []string{"a.js b.js", "", "c.js"}, modeltest.SamplePaths(js))

	cpp := FilterThreadByImplementation(thread, ImplementationCPP)
	assert.Equal(t, []string{"main native", "main native", ""}, modeltest.SamplePaths(cpp))
	// Both samples share the spliced stack.
	assert.Equal(t, cpp.Samples.Stack[0], cpp.Samples.Stack[1])

	thread.FuncTable.RelevantForJS[modeltest.FuncIndex(thread, "native")] = true
	js = FilterThreadByImplementation(thread, ImplementationJS)
	assert.Equal(t, []string{"a.js native b.js", "native", "c.js"}, modeltest.SamplePaths(js))
}

func Test_FilterThreadToSearchString(t *testing.T) {
	thread := modeltest.NewThread("A foo B", "A C", "Foobar", "", "FOO")
	assert.Same(t, thread, FilterThreadToSearchString(thread, ""))
	assert.Same(t, thread, FilterThreadToSearchString(thread, "  "))

	r := FilterThreadToSearchString(thread, "fOo")
	assert.Equal(t, []string{"A foo B", "", "Foobar", "", "FOO"}, modeltest.SamplePaths(r))
	assert.Same(t, thread.StackTable, r.StackTable)

	r = FilterThreadToSearchString(thread, "nothing")
	assert.Equal(t, make([]string, 5), modeltest.SamplePaths(r))
}

func Test_FilterThreadToSearchString_FollowsStackTable(t *testing.T) {
	// The inverted thread has a different stack table with colliding
	// indices; results must follow the table that is searched.
	thread := modeltest.NewThread("A B", "C D")
	_ = FilterThreadToSearchString(thread, "d")
	inverted := InvertCallstack(thread)
	r := FilterThreadToSearchString(inverted, "d")
	assert.Equal(t, []string{"", "D C"}, modeltest.SamplePaths(r))
}

func Test_InvertCallstack(t *testing.T) {
	thread := modeltest.NewWeightedThread(
		modeltest.Sample{Stack: "A B C", Weight: 1},
		modeltest.Sample{Stack: "A B D", Time: 1, Weight: 2},
		modeltest.Sample{Stack: "", Time: 2, Weight: 4},
		modeltest.Sample{Stack: "A B C", Time: 3, Weight: 8},
	)
	inverted := InvertCallstack(thread)
	assert.Equal(t, []string{"C B A", "D B A", "", "C B A"}, modeltest.SamplePaths(inverted))
	assert.Equal(t, thread.Samples.Weight, inverted.Samples.Weight)
	require.NoError(t, inverted.Validate())

	restored := InvertCallstack(inverted)
	assert.Equal(t, modeltest.SamplePaths(thread), modeltest.SamplePaths(restored))
	assert.Equal(t, thread.Samples.Weight, restored.Samples.Weight)
}

func Test_CallPathStages(t *testing.T) {
	thread := modeltest.NewThread("A B C", "A B", "A D", "B", "E B B B F", "E B F B")
	b := modeltest.FuncIndex(thread, "B")

	merged := MergeFunctionOut(thread, b)
	assert.Equal(t, []string{"A C", "A", "A D", "", "E F", "E F"}, modeltest.SamplePaths(merged))

	dropped := DropSamplesWithFunction(thread, modeltest.FuncIndex(thread, "A"))
	assert.Equal(t, []string{"", "", "", "B", "E B B B F", "E B F B"}, modeltest.SamplePaths(dropped))

	collapsed := CollapseRecursion(thread, b)
	assert.Equal(t, []string{"A B C", "A B", "A D", "B", "E B F", "E B F B"}, modeltest.SamplePaths(collapsed))
}

func Test_ApplyFilters_Order(t *testing.T) {
	thread := modeltest.NewThread("A B C", "A D", "A C")
	r := ApplyFilters(thread, []Filter{Invert{}, Search{Query: "c"}, Range{Start: 0, End: 2}})
	assert.Equal(t, []string{"C B A", ""}, modeltest.SamplePaths(r))

	// Ranges narrow each other.
	r = ApplyFilters(thread, []Filter{Range{Start: 0, End: 3}, Range{Start: 1, End: 10}})
	assert.Equal(t, []string{"A D", "A C"}, modeltest.SamplePaths(r))

	// The last search wins.
	r = ApplyFilters(thread, []Filter{Search{Query: "c"}, Search{Query: "d"}})
	assert.Equal(t, []string{"", "A D", ""}, modeltest.SamplePaths(r))

	// Call-path filters run in the order given, before the preview range.
	r = ApplyFilters(thread, []Filter{
		PreviewRange{Start: 1, End: 3},
		FocusPrefix{Path: path(thread, "A")},
		MergeFunction{Func: modeltest.FuncIndex(thread, "D")},
	})
	assert.Equal(t, []string{"A", "A C"}, modeltest.SamplePaths(r))

	assert.Same(t, thread, ApplyFilters(thread, nil))
}

func Test_Pipeline(t *testing.T) {
	filters := []Filter{
		PreviewRange{Start: 0, End: 1},
		Invert{},
		Search{Query: "x"},
		Implementation{Kind: ImplementationJS},
		DropFunction{Func: 1},
		Range{Start: 0, End: 10},
		FocusPostfix{Path: callnode.Path{1}},
		Implementation{Kind: ImplementationCPP},
		Invert{},
	}
	var stages []stage
	for _, f := range pipeline(filters) {
		stages = append(stages, stageOf(f))
	}
	assert.Equal(t, []stage{stageRange, stageCallPath, stageCallPath, stageImplementation, stageSearch, stageInvert, stagePreviewRange}, stages)
	assert.Equal(t, Implementation{Kind: ImplementationCPP}, pipeline(filters)[3])
}

func Test_FilterKeys(t *testing.T) {
	keys := map[string]struct{}{}
	for _, f := range []Filter{
		Range{Start: 1, End: 2},
		PreviewRange{Start: 1, End: 2},
		FocusPrefix{Path: callnode.Path{1, 2}},
		FocusPrefix{Path: callnode.Path{1, 2}, Implementation: ImplementationJS},
		FocusPostfix{Path: callnode.Path{1, 2}},
		Implementation{Kind: ImplementationJS},
		Search{Query: "1"},
		Invert{},
		MergeFunction{Func: 1},
		DropFunction{Func: 1},
		CollapseDirectRecursion{Func: 1},
	} {
		assert.NotPanics(t, func() { stageOf(f) })
		keys[f.String()] = struct{}{}
	}
	assert.Len(t, keys, 11)
}

func Test_Memo(t *testing.T) {
	_, err := NewMemo(MemoConfig{})
	require.Error(t, err)

	m, err := NewMemo(MemoConfig{Size: 16})
	require.NoError(t, err)

	thread := modeltest.NewThread("A B C", "A D", "A C")
	filters := []Filter{Range{Start: 0, End: 2}, Search{Query: "c"}, Invert{}}
	r1 := m.Apply(thread, filters)
	r2 := m.Apply(thread, filters)
	assert.Same(t, r1, r2)
	assert.Equal(t, 3, m.Len())

	// A different input thread misses the cache.
	other := thread.WithSamples(thread.Samples)
	assert.NotSame(t, r1, m.Apply(other, filters))

	m.Purge()
	assert.Equal(t, 0, m.Len())
	assert.NotSame(t, r1, m.Apply(thread, filters))
	assert.Equal(t, modeltest.SamplePaths(r1), modeltest.SamplePaths(m.Apply(thread, filters)))
}

func Test_PathStability(t *testing.T) {
	thread := modeltest.NewThread("E", "A B C", "X", "A B D", "A Y B")
	p := path(thread, "A B D")
	for _, filters := range [][]Filter{
		nil,
		{Range{Start: 2, End: 5}},
		{Search{Query: "d"}},
		{MergeFunction{Func: modeltest.FuncIndex(thread, "X")}},
		{Implementation{Kind: ImplementationCPP}, DropFunction{Func: modeltest.FuncIndex(thread, "C")}},
	} {
		filtered := ApplyFilters(thread, filters)
		info := callnode.Compute(filtered)
		node := info.Table.Resolve(p)
		require.NotEqual(t, model.None, node)
		assert.Equal(t, p, info.Table.PathOf(node))
	}
}

func Test_MergeFunctions(t *testing.T) {
	thread := modeltest.NewThread("A B C", "A X C")
	b, x := modeltest.FuncIndex(thread, "B"), modeltest.FuncIndex(thread, "X")

	assert.Same(t, thread, MergeFunctions(thread, nil))
	assert.Same(t, thread, MergeFunctions(thread, map[int32]int32{b: b}))

	merged := MergeFunctions(thread, map[int32]int32{x: b})
	assert.Equal(t, []string{"A B C", "A B C"}, modeltest.SamplePaths(merged))
	assert.Equal(t, []string{"A B C", "A X C"}, modeltest.SamplePaths(thread))
	assert.Same(t, thread.StackTable, merged.StackTable)
	assert.Same(t, thread.FuncTable, merged.FuncTable)

	info := callnode.Compute(merged)
	assert.Equal(t, info.CallNodeForStack(merged.Samples.Stack[0]), info.CallNodeForStack(merged.Samples.Stack[1]))
}

func Test_AssignFunctionNames(t *testing.T) {
	thread := modeltest.NewThread("main@app 0x10@libxul.so 0x20@libxul.so")
	addr := modeltest.FuncIndex(thread, "libxul.so!0x10")
	require.NotEqual(t, model.None, addr)

	r := AssignFunctionNames(thread, []int32{addr}, []string{"nsThread::Run"})
	assert.Equal(t, "nsThread::Run", r.FuncName(addr))
	assert.Equal(t, "libxul.so!0x10", thread.FuncName(addr))
	assert.Equal(t, thread.FuncTable.Address, r.FuncTable.Address)
	assert.Equal(t, []string{"main nsThread::Run libxul.so!0x20"}, modeltest.SamplePaths(r))

	assert.Same(t, thread, AssignFunctionNames(thread, nil, nil))
	assert.Panics(t, func() { AssignFunctionNames(thread, []int32{addr}, nil) })
}

func Test_RewritePaths(t *testing.T) {
	paths := []callnode.Path{{1, 7, 3}, {1, 2, 3}, {4}, nil}
	r := RewritePaths(paths, map[int32]int32{7: 2})
	assert.Equal(t, []callnode.Path{{1, 2, 3}, {1, 2, 3}, {4}, nil}, r)
	assert.Equal(t, callnode.Path{1, 7, 3}, paths[0])
	assert.Same(t, &paths[1][0], &r[1][0])
	assert.Same(t, &paths[2][0], &r[2][0])
}
