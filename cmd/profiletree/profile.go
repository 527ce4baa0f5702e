package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grafana/profiletree/pkg/callnode"
	"github.com/grafana/profiletree/pkg/convert/pprof"
	"github.com/grafana/profiletree/pkg/model"
)

type profileParams struct {
	path       string
	sampleType string
	thread     string
}

func addProfileParams(cmd commander) *profileParams {
	p := new(profileParams)
	cmd.Arg("file", "pprof profile to read.").Required().ExistingFileVar(&p.path)
	cmd.Flag("sample-type", "Sample type to aggregate. Defaults to the last sample type of the profile.").StringVar(&p.sampleType)
	cmd.Flag("thread-name", "Name of the converted thread.").Default("main").StringVar(&p.thread)
	return p
}

func loadProfile(params *profileParams) (*model.Profile, error) {
	f, err := os.Open(params.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := pprof.Parse(f)
	if err != nil {
		return nil, err
	}
	return pprof.ToProfile(p, pprof.Options{SampleType: params.sampleType, ThreadName: params.thread})
}

// parseRange parses "start-end" in milliseconds.
func parseRange(s string) (start, end float64, err error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("range %q: expected start-end", s)
	}
	if start, err = strconv.ParseFloat(a, 64); err != nil {
		return 0, 0, fmt.Errorf("range %q: %w", s, err)
	}
	if end, err = strconv.ParseFloat(b, 64); err != nil {
		return 0, 0, fmt.Errorf("range %q: %w", s, err)
	}
	if end < start {
		return 0, 0, fmt.Errorf("range %q: end before start", s)
	}
	return start, end, nil
}

// funcIndex returns the first function of the thread with the given name.
func funcIndex(thread *model.Thread, name string) (int32, error) {
	if h, ok := thread.Strings.Index(name); ok {
		for i, n := range thread.FuncTable.Name {
			if n == h {
				return int32(i), nil
			}
		}
	}
	return model.None, fmt.Errorf("function %q not found", name)
}

// funcPath converts a comma separated list of function names.
func funcPath(thread *model.Thread, names string) (callnode.Path, error) {
	fields := strings.Split(names, ",")
	path := make(callnode.Path, 0, len(fields))
	for _, name := range fields {
		fn, err := funcIndex(thread, strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		path = append(path, fn)
	}
	return path, nil
}
