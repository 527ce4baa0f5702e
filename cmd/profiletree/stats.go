package main

import (
	"context"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/calltree"
	"github.com/grafana/profiletree/pkg/model"
)

func count(n int) string { return humanize.Comma(int64(n)) }

func statsCmd(ctx context.Context, params *profileParams) error {
	p, err := loadProfile(params)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(output(ctx))
	table.SetHeader([]string{"Thread", "Samples", "Weight", "Stacks", "Frames", "Functions", "Resources", "Strings", "Libraries", "Call nodes", "Roots"})
	for _, thread := range p.Threads {
		info := callnode.Compute(thread)
		tree := calltree.Build(thread, info, calltree.FromThread(thread, p.Meta.Interval))
		table.Append([]string{
			thread.Name,
			count(thread.Samples.Length),
			formatWeight(tree.RootTotal(), thread.Samples.WeightType),
			count(thread.StackTable.Length),
			count(thread.FrameTable.Length),
			count(thread.FuncTable.Length),
			count(thread.ResourceTable.Length),
			count(thread.Strings.Len()),
			strconv.Itoa(len(thread.Libs)),
			count(info.Table.Length),
			count(tree.RootCount()),
		})
	}
	table.Render()
	return nil
}

func formatWeight(v float64, t model.WeightType) string {
	switch t {
	case model.WeightBytes:
		return humanize.Bytes(uint64(v))
	case model.WeightTracingMs:
		return humanize.Ftoa(v) + "ms"
	}
	return humanize.Ftoa(v)
}
