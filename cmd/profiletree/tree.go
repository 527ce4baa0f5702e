package main

import (
	"context"
	"fmt"

	"github.com/grafana/profiletree/pkg/model"
	"github.com/grafana/profiletree/pkg/transform"
	"github.com/grafana/profiletree/pkg/viewstate"
)

type viewParams struct {
	ranges         []string
	focus          []string
	focusInverted  []string
	merge          []string
	drop           []string
	collapse       []string
	implementation string
	search         string
	invert         bool
	maxDepth       int
}

func addViewParams(cmd commander) *viewParams {
	p := new(viewParams)
	cmd.Flag("range", "Committed range start-end in milliseconds. Repeat to narrow further.").StringsVar(&p.ranges)
	cmd.Flag("focus", "Focus on a call path, comma separated function names from the root.").StringsVar(&p.focus)
	cmd.Flag("focus-inverted", "Focus on an inverted call path, comma separated function names from the leaf.").StringsVar(&p.focusInverted)
	cmd.Flag("merge", "Merge a function into its callers.").StringsVar(&p.merge)
	cmd.Flag("drop", "Drop the samples containing a function.").StringsVar(&p.drop)
	cmd.Flag("collapse-recursion", "Collapse direct recursion of a function.").StringsVar(&p.collapse)
	cmd.Flag("impl", "Implementation filter.").Default("combined").EnumVar(&p.implementation, "combined", "js", "cpp")
	cmd.Flag("search", "Keep the samples with a function name matching the query.").StringVar(&p.search)
	cmd.Flag("invert", "Invert the call tree.").BoolVar(&p.invert)
	cmd.Flag("max-depth", "Maximum depth of the printed tree. 0 prints all levels.").Default("0").IntVar(&p.maxDepth)
	return p
}

// apply records the view parameters in the state of the first thread.
func (p *viewParams) apply(store *viewstate.Store) error {
	thread := store.Profile().Threads[0]
	impl, err := transform.ParseImplementationKind(p.implementation)
	if err != nil {
		return err
	}
	for _, r := range p.ranges {
		start, end, err := parseRange(r)
		if err != nil {
			return err
		}
		store.PushRange(0, start, end)
	}
	filters, err := p.transforms(thread, impl)
	if err != nil {
		return err
	}
	for _, f := range filters {
		if err = store.PushTransform(0, f); err != nil {
			return err
		}
	}
	store.SetImplementation(0, impl)
	store.SetSearch(0, p.search)
	store.SetInverted(0, p.invert)
	return nil
}

func (p *viewParams) transforms(thread *model.Thread, impl transform.ImplementationKind) ([]transform.Filter, error) {
	var filters []transform.Filter
	for _, names := range p.focus {
		path, err := funcPath(thread, names)
		if err != nil {
			return nil, err
		}
		filters = append(filters, transform.FocusPrefix{Path: path, Implementation: impl})
	}
	for _, names := range p.focusInverted {
		path, err := funcPath(thread, names)
		if err != nil {
			return nil, err
		}
		filters = append(filters, transform.FocusPostfix{Path: path, Implementation: impl})
	}
	for _, kind := range []struct {
		names []string
		make  func(fn int32) transform.Filter
	}{
		{p.merge, func(fn int32) transform.Filter { return transform.MergeFunction{Func: fn} }},
		{p.drop, func(fn int32) transform.Filter { return transform.DropFunction{Func: fn} }},
		{p.collapse, func(fn int32) transform.Filter { return transform.CollapseDirectRecursion{Func: fn} }},
	} {
		for _, name := range kind.names {
			fn, err := funcIndex(thread, name)
			if err != nil {
				return nil, err
			}
			filters = append(filters, kind.make(fn))
		}
	}
	return filters, nil
}

func printTree(ctx context.Context, store *viewstate.Store, maxDepth int) error {
	tree := store.CallTree(0)
	if tree.RootCount() == 0 {
		_, err := fmt.Fprintln(output(ctx), "no samples")
		return err
	}
	_, err := fmt.Fprint(output(ctx), tree.Render(maxDepth))
	return err
}

func treeCmd(ctx context.Context, cfg *Config, profile *profileParams, view *viewParams) error {
	p, err := loadProfile(profile)
	if err != nil {
		return err
	}
	memo, err := transform.NewMemo(cfg.Memo)
	if err != nil {
		return err
	}
	store := viewstate.NewStore(logger, p, memo)
	if err = view.apply(store); err != nil {
		return err
	}
	return printTree(ctx, store, view.maxDepth)
}
