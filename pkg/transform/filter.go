package transform

import (
	"fmt"
	"strconv"

	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/model"
)

// Filter is one entry of a filter list. The set of filters is closed:
// every kind is declared in this file.
type Filter interface {
	fmt.Stringer
	isFilter()
}

// ImplementationKind selects the frames an implementation filter keeps,
// and the path a call-path filter is matched against.
type ImplementationKind uint8

const (
	ImplementationCombined ImplementationKind = iota
	ImplementationJS
	ImplementationCPP
)

func (k ImplementationKind) String() string {
	switch k {
	case ImplementationJS:
		return "js"
	case ImplementationCPP:
		return "cpp"
	default:
		return "combined"
	}
}

// ParseImplementationKind accepts the values produced by String.
func ParseImplementationKind(s string) (ImplementationKind, error) {
	switch s {
	case "combined", "":
		return ImplementationCombined, nil
	case "js":
		return ImplementationJS, nil
	case "cpp":
		return ImplementationCPP, nil
	}
	return 0, fmt.Errorf("unknown implementation %q", s)
}

// matcher reports whether fn belongs to the implementation.
func (k ImplementationKind) matcher(funcs *model.FuncTable) func(fn int32) bool {
	switch k {
	case ImplementationJS:
		return func(fn int32) bool { return funcs.IsJS[fn] || funcs.RelevantForJS[fn] }
	case ImplementationCPP:
		return func(fn int32) bool { return !funcs.IsJS[fn] }
	default:
		return func(int32) bool { return true }
	}
}

// Range keeps the samples captured in [Start, End).
type Range struct{ Start, End float64 }

// FocusPrefix keeps the subtree under the call node at Path, which
// becomes the only root.
type FocusPrefix struct {
	Path           callnode.Path
	Implementation ImplementationKind
}

// FocusPostfix keeps the samples whose stack ends with Path. Path is a
// path of the inverted tree: leaf first.
type FocusPostfix struct {
	Path           callnode.Path
	Implementation ImplementationKind
}

// Implementation keeps only the frames of the given kind.
type Implementation struct{ Kind ImplementationKind }

// Search keeps the samples that have a function whose name contains Query.
type Search struct{ Query string }

// Invert reverses every stack.
type Invert struct{}

// MergeFunction removes Func from every stack; its time goes to the caller.
type MergeFunction struct{ Func int32 }

// DropFunction drops every sample with Func on the stack.
type DropFunction struct{ Func int32 }

// CollapseDirectRecursion collapses consecutive frames of Func into one.
type CollapseDirectRecursion struct{ Func int32 }

// PreviewRange is a transient range applied after every other filter.
type PreviewRange struct{ Start, End float64 }

func (Range) isFilter()                   {}
func (FocusPrefix) isFilter()             {}
func (FocusPostfix) isFilter()            {}
func (Implementation) isFilter()          {}
func (Search) isFilter()                  {}
func (Invert) isFilter()                  {}
func (MergeFunction) isFilter()           {}
func (DropFunction) isFilter()            {}
func (CollapseDirectRecursion) isFilter() {}
func (PreviewRange) isFilter()            {}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func (f Range) String() string { return "range:" + formatFloat(f.Start) + "-" + formatFloat(f.End) }
func (f FocusPrefix) String() string {
	return "focus-prefix:" + f.Implementation.String() + ":" + f.Path.String()
}
func (f FocusPostfix) String() string {
	return "focus-postfix:" + f.Implementation.String() + ":" + f.Path.String()
}
func (f Implementation) String() string { return "implementation:" + f.Kind.String() }
func (f Search) String() string         { return "search:" + f.Query }
func (Invert) String() string           { return "invert" }
func (f MergeFunction) String() string  { return "merge-function:" + strconv.Itoa(int(f.Func)) }
func (f DropFunction) String() string   { return "drop-function:" + strconv.Itoa(int(f.Func)) }
func (f CollapseDirectRecursion) String() string {
	return "collapse-direct-recursion:" + strconv.Itoa(int(f.Func))
}
func (f PreviewRange) String() string {
	return "preview-range:" + formatFloat(f.Start) + "-" + formatFloat(f.End)
}

type stage uint8

const (
	stageRange stage = iota
	stageCallPath
	stageImplementation
	stageSearch
	stageInvert
	stagePreviewRange
)

func stageOf(f Filter) stage {
	switch f.(type) {
	case Range:
		return stageRange
	case FocusPrefix, FocusPostfix, MergeFunction, DropFunction, CollapseDirectRecursion:
		return stageCallPath
	case Implementation:
		return stageImplementation
	case Search:
		return stageSearch
	case Invert:
		return stageInvert
	case PreviewRange:
		return stagePreviewRange
	}
	panic(fmt.Sprintf("unknown filter %T", f))
}

// apply runs a single filter.
func apply(thread *model.Thread, f Filter) *model.Thread {
	switch f := f.(type) {
	case Range:
		return FilterThreadByRange(thread, f.Start, f.End)
	case FocusPrefix:
		return FilterThreadToPrefix(thread, f.Path, f.Implementation)
	case FocusPostfix:
		return FilterThreadToPostfix(thread, f.Path, f.Implementation)
	case MergeFunction:
		return MergeFunctionOut(thread, f.Func)
	case DropFunction:
		return DropSamplesWithFunction(thread, f.Func)
	case CollapseDirectRecursion:
		return CollapseRecursion(thread, f.Func)
	case Implementation:
		return FilterThreadByImplementation(thread, f.Kind)
	case Search:
		return FilterThreadToSearchString(thread, f.Query)
	case Invert:
		return InvertCallstack(thread)
	case PreviewRange:
		return FilterThreadByPreviewRange(thread, f.Start, f.End)
	}
	panic(fmt.Sprintf("unknown filter %T", f))
}
