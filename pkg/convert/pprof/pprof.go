// Package pprof converts pprof profiles into profile tables.
package pprof

import (
	"bytes"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/grafana/profiletree/pkg/model"
	"github.com/grafana/profiletree/pkg/stringtable"
	"github.com/grafana/profiletree/pkg/symbolication"
)

// TimestampLabel is the numeric sample label holding the capture time
// in nanoseconds.
const TimestampLabel = "timestamp"

type Options struct {
	// SampleType selects the sample value. The last sample type of the
	// profile is used when empty.
	SampleType string
	ThreadName string
	// IsJS reports whether a function is JavaScript. By default functions
	// defined in .js and .mjs files are.
	IsJS func(*profile.Function) bool
}

func defaultIsJS(fn *profile.Function) bool {
	return strings.HasSuffix(fn.Filename, ".js") || strings.HasSuffix(fn.Filename, ".mjs")
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Parse reads a pprof profile. Uncompressed, gzip and zstd compressed
// profiles are accepted.
func Parse(r io.Reader) (*profile.Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading pprof profile")
	}
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return nil, errors.Wrap(err, "decompressing pprof profile")
		}
	}
	p, err := profile.ParseData(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing pprof profile")
	}
	return p, nil
}

// ToProfile converts p into a profile with a single thread.
func ToProfile(p *profile.Profile, opts Options) (*model.Profile, error) {
	if err := p.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid pprof profile")
	}
	if opts.IsJS == nil {
		opts.IsJS = defaultIsJS
	}
	if opts.ThreadName == "" {
		opts.ThreadName = "main"
	}
	valueIndex, err := sampleTypeIndex(p, opts.SampleType)
	if err != nil {
		return nil, err
	}

	c := &converter{
		p:         p,
		opts:      opts,
		funcs:     make(map[uint64]int32),
		addrFuncs: make(map[uint64]int32),
		frames:    make(map[frameKey]int32),
		resources: make(map[uint64]int32),
		thread: &model.Thread{
			Name:          opts.ThreadName,
			ProcessType:   "default",
			Samples:       &model.SamplesTable{},
			Markers:       &model.MarkersTable{},
			FrameTable:    &model.FrameTable{},
			FuncTable:     &model.FuncTable{},
			ResourceTable: &model.ResourceTable{},
			Strings:       stringtable.New(),
		},
		stacks: model.NewStackTableBuilder(len(p.Location)),
	}
	c.convertMappings()

	interval := float64(1)
	if p.PeriodType != nil && p.PeriodType.Unit == "nanoseconds" && p.Period > 0 {
		interval = float64(p.Period) / 1e6
	}
	c.convertSamples(valueIndex, interval)
	c.thread.StackTable = c.stacks.Build()

	symbolicated := true
	for _, m := range p.Mapping {
		symbolicated = symbolicated && m.HasFunctions
	}
	out := &model.Profile{
		Meta: model.Meta{
			Interval:     interval,
			StartTime:    float64(p.TimeNanos) / 1e6,
			Categories:   []model.Category{{Name: "Other", Color: "grey"}},
			Symbolicated: symbolicated,
			Product:      "pprof",
		},
		Threads: []*model.Thread{c.thread},
		Libs:    c.thread.Libs,
	}
	if err = c.thread.Validate(); err != nil {
		return nil, errors.Wrap(err, "converted profile is malformed")
	}
	return out, nil
}

func sampleTypeIndex(p *profile.Profile, name string) (int, error) {
	if len(p.SampleType) == 0 {
		return 0, errors.New("profile has no sample types")
	}
	if name == "" {
		return len(p.SampleType) - 1, nil
	}
	for i, st := range p.SampleType {
		if st.Type == name {
			return i, nil
		}
	}
	return 0, errors.Errorf("sample type %q not found", name)
}

type frameKey struct {
	location uint64
	line     int
}

type converter struct {
	p    *profile.Profile
	opts Options

	thread *model.Thread
	stacks *model.StackTableBuilder

	funcs     map[uint64]int32 // pprof function ID.
	addrFuncs map[uint64]int32 // Address of an unsymbolized location.
	frames    map[frameKey]int32
	resources map[uint64]int32 // pprof mapping ID.
}

func (c *converter) convertMappings() {
	t := c.thread
	mappings := append([]*profile.Mapping(nil), c.p.Mapping...)
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].Start < mappings[j].Start })
	for _, m := range mappings {
		name := filepath.Base(m.File)
		if m.File == "" {
			name = "0x" + strconv.FormatUint(m.Start, 16)
		}
		lib := int32(len(t.Libs))
		t.Libs = append(t.Libs, model.Lib{
			Start:      m.Start,
			End:        m.Limit,
			Offset:     m.Offset,
			Name:       name,
			DebugName:  name,
			Path:       m.File,
			BreakpadID: m.BuildID,
		})
		c.resources[m.ID] = t.ResourceTable.Append(model.ResourceLibrary, t.Strings.Intern(name), lib, model.None)
	}
}

func (c *converter) convertSamples(valueIndex int, interval float64) {
	s := c.thread.Samples
	st := c.p.SampleType[valueIndex]
	weightType, scale := weightOf(st)
	if weightType != model.WeightSamples {
		s.Weight = make([]float64, 0, len(c.p.Sample))
		s.WeightType = weightType
	}

	type sample struct {
		stack  int32
		time   float64
		weight float64
	}
	samples := make([]sample, 0, len(c.p.Sample))
	timed := false
	for i, ps := range c.p.Sample {
		stack := model.None
		for j := len(ps.Location) - 1; j >= 0; j-- {
			for _, f := range c.locationFrames(ps.Location[j]) {
				stack = c.stacks.Append(stack, f)
			}
		}
		smp := sample{stack: stack, time: float64(i) * interval}
		if ts, ok := ps.NumLabel[TimestampLabel]; ok && len(ts) > 0 {
			smp.time = float64(ts[0]-c.p.TimeNanos) / 1e6
			timed = true
		}
		if s.Weight != nil {
			smp.weight = float64(ps.Value[valueIndex]) * scale
		}
		samples = append(samples, smp)
	}
	if timed {
		sort.SliceStable(samples, func(i, j int) bool { return samples[i].time < samples[j].time })
	}
	for _, smp := range samples {
		s.Stack = append(s.Stack, smp.stack)
		s.Time = append(s.Time, smp.time)
		if s.Weight != nil {
			s.Weight = append(s.Weight, smp.weight)
		}
		s.Length++
	}
}

// weightOf picks the weight type of a sample type and the factor that
// converts its values.
func weightOf(st *profile.ValueType) (model.WeightType, float64) {
	switch st.Unit {
	case "nanoseconds":
		return model.WeightTracingMs, 1e-6
	case "microseconds":
		return model.WeightTracingMs, 1e-3
	case "milliseconds":
		return model.WeightTracingMs, 1
	case "bytes":
		return model.WeightBytes, 1
	}
	return model.WeightCount, 1
}

// locationFrames returns the frames of the location, caller first.
// Inlined functions get a frame each.
func (c *converter) locationFrames(loc *profile.Location) []int32 {
	if len(loc.Line) == 0 {
		return []int32{c.frame(frameKey{location: loc.ID}, func() int32 { return c.addressFunc(loc) }, loc, 0)}
	}
	frames := make([]int32, 0, len(loc.Line))
	for i := len(loc.Line) - 1; i >= 0; i-- {
		line := loc.Line[i]
		frames = append(frames, c.frame(frameKey{location: loc.ID, line: i}, func() int32 {
			return c.function(line.Function, loc)
		}, loc, int32(line.Line)))
	}
	return frames
}

func (c *converter) frame(k frameKey, fn func() int32, loc *profile.Location, line int32) int32 {
	if f, ok := c.frames[k]; ok {
		return f
	}
	t := c.thread
	f := fn()
	impl := model.ImplementationNative
	if t.FuncTable.IsJS[f] {
		impl = model.ImplementationInterpreter
	}
	if line == 0 {
		line = -1
	}
	frame := t.FrameTable.Append(f, int64(loc.Address), 0, impl, line)
	c.frames[k] = frame
	return frame
}

func (c *converter) resource(loc *profile.Location) int32 {
	if loc.Mapping == nil {
		return model.None
	}
	if r, ok := c.resources[loc.Mapping.ID]; ok {
		return r
	}
	return model.None
}

func (c *converter) function(pf *profile.Function, loc *profile.Location) int32 {
	if fn, ok := c.funcs[pf.ID]; ok {
		return fn
	}
	t := c.thread
	name := pf.Name
	if name == "" {
		name = pf.SystemName
	}
	fileName := model.None
	if pf.Filename != "" {
		fileName = t.Strings.Intern(pf.Filename)
	}
	line := int32(-1)
	if pf.StartLine > 0 {
		line = int32(pf.StartLine)
	}
	isJS := c.opts.IsJS(pf)
	resource := model.None
	if !isJS {
		resource = c.resource(loc)
	}
	fn := t.FuncTable.Append(t.Strings.Intern(name), resource, -1, isJS, fileName, line)
	c.funcs[pf.ID] = fn
	return fn
}

// addressFunc returns the function of an unsymbolized location. It is
// named after its library and offset until symbolication resolves it.
func (c *converter) addressFunc(loc *profile.Location) int32 {
	if fn, ok := c.addrFuncs[loc.Address]; ok {
		return fn
	}
	t := c.thread
	resource := c.resource(loc)
	name := "0x" + strconv.FormatUint(loc.Address, 16)
	if resource != model.None {
		lib := t.Libs[t.ResourceTable.Lib[resource]]
		name = symbolication.FallbackName(lib.Name, lib.FileOffset(loc.Address))
	}
	fn := t.FuncTable.Append(t.Strings.Intern(name), resource, int64(loc.Address), false, model.None, -1)
	c.addrFuncs[loc.Address] = fn
	return fn
}
