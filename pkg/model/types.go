package model

// None is the sentinel used by every index column for a missing reference:
// a null stack prefix, a sample without a stack, a function without a
// resource, and so on.
const None int32 = -1

type ResourceType uint8

const (
	ResourceUnknown ResourceType = iota
	ResourceLibrary
	ResourceURL
	ResourceWebhost
	ResourceAddon
)

func (t ResourceType) String() string {
	switch t {
	case ResourceLibrary:
		return "library"
	case ResourceURL:
		return "url"
	case ResourceWebhost:
		return "webhost"
	case ResourceAddon:
		return "addon"
	default:
		return "unknown"
	}
}

// Implementation is the execution tier a frame was observed in.
type Implementation uint8

const (
	ImplementationUnknown Implementation = iota
	ImplementationInterpreter
	ImplementationBaseline
	ImplementationIon
	ImplementationNative
)

func (i Implementation) String() string {
	switch i {
	case ImplementationInterpreter:
		return "interpreter"
	case ImplementationBaseline:
		return "baseline"
	case ImplementationIon:
		return "ion"
	case ImplementationNative:
		return "native"
	default:
		return "unknown"
	}
}

// WeightType describes how the per-sample weight is interpreted.
type WeightType uint8

const (
	// WeightSamples means every sample counts as one sampling interval.
	WeightSamples WeightType = iota
	// WeightTracingMs means the Weight column holds durations in milliseconds.
	WeightTracingMs
	// WeightBytes means the Weight column holds allocation sizes.
	WeightBytes
	// WeightCount means the Weight column holds event counts.
	WeightCount
)

func (w WeightType) String() string {
	switch w {
	case WeightTracingMs:
		return "tracing-ms"
	case WeightBytes:
		return "bytes"
	case WeightCount:
		return "count"
	default:
		return "samples"
	}
}

type Category struct {
	Name  string
	Color string
}
