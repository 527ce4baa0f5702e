package calltree

import "github.com/grafana/profiletree/pkg/model"

// WeightSource describes how much every sample contributes to the tree.
type WeightSource struct {
	Type model.WeightType
	// Interval is the fixed sample weight used when the samples
	// do not carry an explicit weight column.
	Interval float64
}

// FromThread selects the explicit weight column of the thread if it has
// one, and the sampling interval otherwise.
func FromThread(thread *model.Thread, interval float64) WeightSource {
	if thread.Samples.Weight != nil {
		return WeightSource{Type: thread.Samples.WeightType, Interval: interval}
	}
	return WeightSource{Type: model.WeightSamples, Interval: interval}
}

func (w WeightSource) weight(samples *model.SamplesTable, i int) float64 {
	if w.Type != model.WeightSamples && samples.Weight != nil {
		return samples.Weight[i]
	}
	return w.Interval
}
