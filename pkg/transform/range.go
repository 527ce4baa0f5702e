package transform

import (
	"math"

	"github.com/grafana/profiletree/pkg/model"
)

// FilterThreadByRange keeps the samples with a time in [start, end).
// Markers overlapping the range are kept as well. An empty or inverted
// range results in a thread without samples.
func FilterThreadByRange(thread *model.Thread, start, end float64) *model.Thread {
	samples := thread.Samples
	first := model.SearchFirst(samples.Time, start)
	last := model.SearchFirst(samples.Time, end)
	t := thread.WithSamples(samples.Slice(first, last))
	if thread.Markers != nil {
		t = t.WithMarkers(filterMarkers(thread.Markers, start, end))
	}
	return t
}

// FilterThreadByPreviewRange is FilterThreadByRange for the transient
// preview selection. Markers are left alone.
func FilterThreadByPreviewRange(thread *model.Thread, start, end float64) *model.Thread {
	samples := thread.Samples
	first := model.SearchFirst(samples.Time, start)
	last := model.SearchFirst(samples.Time, end)
	return thread.WithSamples(samples.Slice(first, last))
}

func filterMarkers(m *model.MarkersTable, start, end float64) *model.MarkersTable {
	r := &model.MarkersTable{}
	for i := 0; i < m.Length; i++ {
		s, e := m.Start[i], m.End[i]
		if math.IsNaN(e) {
			if s < start || s >= end {
				continue
			}
		} else if s >= end || e < start {
			continue
		}
		r.Append(m.Name[i], m.Category[i], s, e)
	}
	return r
}
