package symbolication

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/grafana/profiletree/pkg/model"
	"github.com/grafana/profiletree/pkg/model/modeltest"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Resolve(ctx context.Context, debugName, breakpadID string, addresses []uint64) ([]string, error) {
	args := m.Called(ctx, debugName, breakpadID, addresses)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

type fakeSubmitter struct {
	mu         sync.Mutex
	generation uint64
	updates    []Update
}

func (f *fakeSubmitter) Submit(u Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeSubmitter) Generation() uint64 { return f.generation }

type recordingApplier struct {
	mu      sync.Mutex
	batches []*Batch
}

func (a *recordingApplier) ApplyBatch(b *Batch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, b)
}

func (a *recordingApplier) Batches() []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Batch(nil), a.batches...)
}

func testConfig() Config {
	return Config{
		MaxConcurrency: 4,
		RequestTimeout: time.Second,
		Backoff: backoff.Config{
			MinBackoff: time.Millisecond,
			MaxBackoff: time.Millisecond,
			MaxRetries: 3,
		},
	}
}

// Functions: main 0, libxul.so!0x10 1, libxul.so!0x20 2, libxul.so!0x30 3,
// libc.so!0x40 4. Libraries: app "10", libxul.so "20", libc.so "30".
func testProfile() *model.Profile {
	thread := modeltest.NewThread(
		"main@app 0x10@libxul.so 0x20@libxul.so",
		"main@app 0x30@libxul.so 0x40@libc.so",
	)
	return &model.Profile{Meta: model.Meta{Interval: 1}, Threads: []*model.Thread{thread}}
}

func Test_Symbolicate(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Resolve", mock.Anything, "libxul.so", "20", []uint64{0x10, 0x20, 0x30}).
		Return([]string{"foo", "foo", "bar"}, nil)
	provider.On("Resolve", mock.Anything, "libc.so", "30", []uint64{0x40}).
		Return(nil, libraryNotFoundError{debugName: "libc.so", breakpadID: "30"})

	reg := prometheus.NewRegistry()
	submitter := &fakeSubmitter{generation: 1}
	s := New(log.NewNopLogger(), testConfig(), provider, submitter, reg)

	err := s.Symbolicate(context.Background(), 1, testProfile())
	require.Error(t, err)
	var libErr *LibraryError
	require.True(t, errors.As(err, &libErr))
	assert.Equal(t, "libc.so", libErr.Library)
	assert.True(t, IsLibraryNotFound(err))

	require.Len(t, submitter.updates, 1)
	assert.Equal(t, Update{
		Generation:  1,
		Thread:      0,
		FuncIndices: []int32{1, 2, 3},
		Names:       []string{"foo", "foo", "bar"},
		OldToNew:    map[int32]int32{2: 1},
	}, submitter.updates[0])

	provider.AssertNumberOfCalls(t, "Resolve", 2)
	assert.Equal(t, float64(3), testutil.ToFloat64(s.metrics.resolvedAddresses))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.mergedFunctions))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.libraryFailures.WithLabelValues(statusErrorNotFound)))
}

func Test_Symbolicate_Retries(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Resolve", mock.Anything, "libxul.so", "20", mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	provider.On("Resolve", mock.Anything, "libxul.so", "20", mock.Anything).
		Return([]string{"a", "b", "c"}, nil)
	provider.On("Resolve", mock.Anything, "libc.so", "30", mock.Anything).
		Return([]string{"d"}, nil)

	submitter := &fakeSubmitter{generation: 1}
	s := New(log.NewNopLogger(), testConfig(), provider, submitter, nil)
	require.NoError(t, s.Symbolicate(context.Background(), 1, testProfile()))
	provider.AssertNumberOfCalls(t, "Resolve", 3)
	assert.Len(t, submitter.updates, 2)
}

func Test_Symbolicate_KeepsSyntheticNamesOnFailure(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, httpStatusError{statusCode: http.StatusInternalServerError})

	submitter := &fakeSubmitter{generation: 1}
	s := New(log.NewNopLogger(), testConfig(), provider, submitter, nil)
	err := s.Symbolicate(context.Background(), 1, testProfile())
	require.Error(t, err)
	assert.Len(t, err.(interface{ WrappedErrors() []error }).WrappedErrors(), 2)
	assert.Empty(t, submitter.updates)
	// Every attempt failed with a server error.
	provider.AssertNumberOfCalls(t, "Resolve", 6)
}

func Test_Symbolicate_DropsStaleResults(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Resolve", mock.Anything, "libxul.so", mock.Anything, mock.Anything).
		Return([]string{"x", "y", "z"}, nil)
	provider.On("Resolve", mock.Anything, "libc.so", mock.Anything, mock.Anything).
		Return([]string{"w"}, nil)

	submitter := &fakeSubmitter{generation: 2}
	s := New(log.NewNopLogger(), testConfig(), provider, submitter, nil)
	require.NoError(t, s.Symbolicate(context.Background(), 1, testProfile()))
	assert.Empty(t, submitter.updates)
}

func Test_Symbolicate_SkipsResolvedFunctions(t *testing.T) {
	profile := testProfile()
	thread := profile.Threads[0]
	funcs, strings := thread.FuncTable.Clone(), thread.Strings.Clone()
	funcs.Name[1] = strings.Intern("already")
	profile.Threads[0] = thread.WithFuncTable(funcs, strings)

	provider := new(mockProvider)
	provider.On("Resolve", mock.Anything, "libxul.so", "20", []uint64{0x20, 0x30}).
		Return([]string{"", "bar"}, nil)
	provider.On("Resolve", mock.Anything, "libc.so", "30", []uint64{0x40}).
		Return([]string{"baz"}, nil)

	submitter := &fakeSubmitter{generation: 1}
	s := New(log.NewNopLogger(), testConfig(), provider, submitter, nil)
	require.NoError(t, s.Symbolicate(context.Background(), 1, profile))
	provider.AssertExpectations(t)

	var got []int32
	for _, u := range submitter.updates {
		got = append(got, u.FuncIndices...)
	}
	assert.ElementsMatch(t, []int32{3, 4}, got)
}

func Test_Symbolicate_UsesFileOffsets(t *testing.T) {
	profile := testProfile()
	thread := profile.Threads[0]
	thread.Libs[1].Offset = 0x1000
	funcs, strings := thread.FuncTable.Clone(), thread.Strings.Clone()
	funcs.Name[1] = strings.Intern(FallbackName("libxul.so", 0x1010))
	funcs.Name[2] = strings.Intern(FallbackName("libxul.so", 0x1020))
	profile.Threads[0] = thread.WithFuncTable(funcs, strings)

	provider := new(mockProvider)
	provider.On("Resolve", mock.Anything, "libxul.so", "20", []uint64{0x1010, 0x1020}).
		Return([]string{"foo", "bar"}, nil)
	provider.On("Resolve", mock.Anything, "libc.so", "30", []uint64{0x40}).
		Return([]string{"baz"}, nil)

	submitter := &fakeSubmitter{generation: 1}
	s := New(log.NewNopLogger(), testConfig(), provider, submitter, nil)
	require.NoError(t, s.Symbolicate(context.Background(), 1, profile))
	provider.AssertExpectations(t)

	var got []int32
	for _, u := range submitter.updates {
		got = append(got, u.FuncIndices...)
	}
	assert.ElementsMatch(t, []int32{1, 2, 4}, got)
}

func Test_Batch_ComposesRemaps(t *testing.T) {
	b := newBatch(1)
	b.add(Update{Thread: 0, OldToNew: map[int32]int32{7: 5}})
	b.add(Update{Thread: 0, OldToNew: map[int32]int32{5: 2}, FuncIndices: []int32{2}, Names: []string{"foo"}})
	b.add(Update{Thread: 1, FuncIndices: []int32{3}, Names: []string{"bar"}})
	b.add(Update{Thread: 1, OldToNew: map[int32]int32{3: 4}})
	b.add(Update{Thread: 1, OldToNew: map[int32]int32{4: 3}})

	assert.Equal(t, 5, b.Updates)
	assert.Equal(t, map[int32]int32{7: 2, 5: 2}, b.Threads[0].OldToNew)
	assert.Equal(t, map[int32]string{2: "foo"}, b.Threads[0].Names)
	assert.Equal(t, map[int32]int32{4: 3}, b.Threads[1].OldToNew)
	assert.Panics(t, func() { b.add(Update{FuncIndices: []int32{1}}) })

	b.add(Update{Thread: 2, OldToNew: map[int32]int32{2: 1}})
	b.add(Update{Thread: 2, OldToNew: map[int32]int32{3: 2}})
	assert.Equal(t, map[int32]int32{2: 1, 3: 1}, b.Threads[2].OldToNew)
}

func Test_Batch_Apply_LaterRemapOntoMergedFunction(t *testing.T) {
	profile := testProfile()
	b := newBatch(1)
	b.add(Update{Thread: 0, FuncIndices: []int32{1, 2}, Names: []string{"foo", "foo"}, OldToNew: map[int32]int32{2: 1}})
	b.add(Update{Thread: 0, FuncIndices: []int32{3}, Names: []string{"foo"}, OldToNew: map[int32]int32{3: 2}})

	applied, remaps := b.Apply(profile)
	assert.Equal(t, map[int]map[int32]int32{0: {2: 1, 3: 1}}, remaps)

	thread := applied.Threads[0]
	var paths [][]int32
	for _, s := range thread.Samples.Stack {
		paths = append(paths, thread.FuncPathForStack(nil, s))
	}
	assert.Equal(t, [][]int32{{0, 1, 1}, {0, 1, 4}}, paths)
	require.NoError(t, thread.Validate())
}

func Test_Batch_Apply(t *testing.T) {
	profile := testProfile()
	b := newBatch(1)
	b.add(Update{
		Thread:      0,
		FuncIndices: []int32{1, 2, 3},
		Names:       []string{"foo", "foo", "bar"},
		OldToNew:    map[int32]int32{2: 1},
	})
	b.add(Update{Thread: 5, FuncIndices: []int32{1}, Names: []string{"ignored"}})

	applied, remaps := b.Apply(profile)
	assert.Equal(t, map[int]map[int32]int32{0: {2: 1}}, remaps)
	assert.Equal(t, []string{"main foo foo", "main bar libc.so!0x40"}, modeltest.SamplePaths(applied.Threads[0]))
	assert.Equal(t, []string{"main libxul.so!0x10 libxul.so!0x20", "main libxul.so!0x30 libc.so!0x40"}, modeltest.SamplePaths(profile.Threads[0]))
	require.NoError(t, applied.Threads[0].Validate())
}

func newTestCoalescer(t *testing.T, cfg CoalescerConfig) (*Coalescer, *recordingApplier) {
	t.Helper()
	applier := new(recordingApplier)
	c := NewCoalescer(log.NewNopLogger(), cfg, applier, prometheus.NewRegistry())
	c.SetGeneration(1)
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), c))
	return c, applier
}

func Test_Coalescer_Flush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, applier := newTestCoalescer(t, CoalescerConfig{IdleDelay: time.Hour, MaxDelay: time.Hour})
	flushed := c.OnFlushed()

	c.Submit(Update{Generation: 1, Thread: 0, OldToNew: map[int32]int32{7: 5}})
	c.Submit(Update{Generation: 1, Thread: 0, OldToNew: map[int32]int32{5: 2}, FuncIndices: []int32{2}, Names: []string{"foo"}})
	c.Submit(Update{Generation: 1, Thread: 1, FuncIndices: []int32{3}, Names: []string{"bar"}})
	c.Submit(Update{Generation: 0, Thread: 1, FuncIndices: []int32{4}, Names: []string{"stale"}})

	require.NoError(t, c.Flush(context.Background()))
	select {
	case <-flushed:
	default:
		t.Fatal("flush signal not sent")
	}

	batches := applier.Batches()
	require.Len(t, batches, 1)
	b := batches[0]
	assert.Equal(t, 3, b.Updates)
	assert.Equal(t, map[int32]int32{7: 2, 5: 2}, b.Threads[0].OldToNew)
	assert.Equal(t, map[int32]string{3: "bar"}, b.Threads[1].Names)

	assert.Equal(t, float64(3), testutil.ToFloat64(c.metrics.updatesSubmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.updatesDropped))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.updatesPending))

	// A flush without pending updates completes without a batch.
	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, applier.Batches(), 1)

	require.NoError(t, services.StopAndAwaitTerminated(context.Background(), c))
	assert.ErrorIs(t, c.Flush(context.Background()), errCoalescerStopped)
	c.Submit(Update{Generation: 1})
}

func Test_Coalescer_IdleFlush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, applier := newTestCoalescer(t, CoalescerConfig{IdleDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond})
	defer func() { require.NoError(t, services.StopAndAwaitTerminated(context.Background(), c)) }()

	flushed := c.OnFlushed()
	c.Submit(Update{Generation: 1, FuncIndices: []int32{1}, Names: []string{"a"}})
	c.Submit(Update{Generation: 1, FuncIndices: []int32{2}, Names: []string{"b"}})
	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		t.Fatal("updates were not flushed")
	}
	require.Eventually(t, func() bool {
		n := 0
		for _, b := range applier.Batches() {
			n += b.Updates
		}
		return n == 2
	}, 5*time.Second, time.Millisecond)
}

func Test_Coalescer_DropsStaleGeneration(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, applier := newTestCoalescer(t, CoalescerConfig{IdleDelay: time.Hour, MaxDelay: time.Hour})
	c.Submit(Update{Generation: 1, FuncIndices: []int32{1}, Names: []string{"a"}})
	c.SetGeneration(2)
	require.NoError(t, c.Flush(context.Background()))
	assert.Empty(t, applier.Batches())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.updatesDropped))

	c.Submit(Update{Generation: 2, FuncIndices: []int32{1}, Names: []string{"b"}})
	require.NoError(t, c.Flush(context.Background()))
	require.Len(t, applier.Batches(), 1)
	assert.Equal(t, uint64(2), applier.Batches()[0].Generation)

	require.NoError(t, services.StopAndAwaitTerminated(context.Background(), c))
}

func Test_HTTPProvider(t *testing.T) {
	var handler http.HandlerFunc
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r)
	}))
	defer server.Close()
	p := NewHTTPProvider(log.NewNopLogger(), HTTPProviderConfig{BaseURL: server.URL + "/", HTTPClient: server.Client()})

	handler = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/symbolicate/v5", r.URL.Path)
		var req symbolicateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, [][2]string{{"xul.pdb", "ABC"}}, req.MemoryMap)
		assert.Equal(t, [][][2]int64{{{0, 0x10}, {0, 0x20}}}, req.Stacks)
		_, _ = w.Write([]byte(`{"results":[{"stacks":[[
			{"frame":0,"module_offset":"0x10","function":"foo","function_offset":"0x2"},
			{"frame":1,"module_offset":"0x20"}
		]],"found_modules":{"xul.pdb/ABC":true}}]}`))
	}
	names, err := p.Resolve(context.Background(), "xul.pdb", "ABC", []uint64{0x10, 0x20})
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", ""}, names)

	handler = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"stacks":[[]],"found_modules":{"xul.pdb/ABC":false}}]}`))
	}
	_, err = p.Resolve(context.Background(), "xul.pdb", "ABC", []uint64{0x10})
	assert.True(t, IsLibraryNotFound(err))
	assert.Equal(t, statusErrorNotFound, errorStatus(err))

	handler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, err = p.Resolve(context.Background(), "xul.pdb", "ABC", []uint64{0x10})
	code, ok := isHTTPStatusError(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, statusErrorServerError, errorStatus(err))
}

func Test_HTTPProvider_CircuitBreaker(t *testing.T) {
	calls := atomic.NewInt32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Inc()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	p := NewHTTPProvider(log.NewNopLogger(), HTTPProviderConfig{
		BaseURL:         server.URL,
		HTTPClient:      server.Client(),
		RequestRate:     1000,
		RequestBurst:    10,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := p.Resolve(context.Background(), "xul.pdb", "ABC", []uint64{0x10})
		assert.Equal(t, statusErrorServerError, errorStatus(err))
	}
	_, err := p.Resolve(context.Background(), "xul.pdb", "ABC", []uint64{0x10})
	assert.True(t, isUnavailable(err))
	assert.Equal(t, statusErrorUnavailable, errorStatus(err))
	assert.Equal(t, int32(2), calls.Load())
}

func Test_HTTPProviderConfig(t *testing.T) {
	var cfg HTTPProviderConfig
	cfg.RegisterFlags(flag.NewFlagSet("test", flag.PanicOnError))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.BreakerFailures)

	invalid := cfg
	invalid.BaseURL = ""
	assert.Error(t, invalid.Validate())

	invalid = cfg
	invalid.RequestRate = -1
	assert.Error(t, invalid.Validate())
}

func Test_Config(t *testing.T) {
	var cfg Config
	cfg.RegisterFlags(flag.NewFlagSet("test", flag.PanicOnError))
	require.NoError(t, cfg.Validate())

	invalid := cfg
	invalid.MaxConcurrency = 0
	assert.Error(t, invalid.Validate())

	invalid = cfg
	invalid.Coalescer.IdleDelay = 2 * invalid.Coalescer.MaxDelay
	assert.Error(t, invalid.Validate())
}

func Test_FallbackName(t *testing.T) {
	assert.Equal(t, "libxul.so!0x1a", FallbackName("libxul.so", 0x1a))
}
