package symbolication

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/profiletree/pkg/model"
)

// Submitter is the part of the Coalescer the Symbolicator depends on.
type Submitter interface {
	Submit(Update)
	Generation() uint64
}

// Symbolicator resolves the address functions of a profile with a
// SymbolProvider and submits the results as updates.
type Symbolicator struct {
	logger    log.Logger
	cfg       Config
	provider  SymbolProvider
	submitter Submitter
	metrics   *metrics
}

func New(logger log.Logger, cfg Config, provider SymbolProvider, submitter Submitter, reg prometheus.Registerer) *Symbolicator {
	return &Symbolicator{
		logger:    logger,
		cfg:       cfg,
		provider:  provider,
		submitter: submitter,
		metrics:   newMetrics(reg),
	}
}

// request is the set of functions of one thread that belong to one library.
type request struct {
	thread  int
	lib     model.Lib
	funcs   []int32
	offsets []uint64
}

// FallbackName is the name of an unresolved function at the file offset
// in lib.
func FallbackName(lib string, offset uint64) string {
	return lib + "!0x" + strconv.FormatUint(offset, 16)
}

// Symbolicate resolves every unresolved address function of the profile,
// one request per thread and library. Requests run concurrently and do not
// affect each other; the returned error lists the libraries that failed,
// as LibraryError values. Results are dropped if generation is no longer
// current when they arrive.
func (s *Symbolicator) Symbolicate(ctx context.Context, generation uint64, profile *model.Profile) error {
	var g errgroup.Group
	g.SetLimit(max(int(s.cfg.MaxConcurrency), 1))

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	for i, thread := range profile.Threads {
		for _, r := range s.collect(i, thread, profile.Libs) {
			g.Go(func() error {
				if err := s.symbolicate(ctx, generation, thread, r); err != nil {
					mu.Lock()
					errs = multierror.Append(errs, &LibraryError{Library: r.lib.DebugName, Err: err})
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

// collect groups the unresolved address functions of the thread by library.
func (s *Symbolicator) collect(i int, thread *model.Thread, profileLibs model.Libs) []*request {
	libs := thread.Libs
	if len(libs) == 0 {
		libs = profileLibs
	}
	funcs := thread.FuncTable
	byLib := make(map[int]*request)
	var requests []*request
	for fn := 0; fn < funcs.Length; fn++ {
		addr := funcs.Address[fn]
		r := funcs.Resource[fn]
		if addr < 0 || r == model.None || thread.ResourceTable.Type[r] != model.ResourceLibrary {
			continue
		}
		li := libs.IndexForAddress(uint64(addr))
		if li < 0 {
			continue
		}
		lib := libs[li]
		offset := lib.FileOffset(uint64(addr))
		if thread.FuncName(int32(fn)) != FallbackName(lib.Name, offset) {
			continue
		}
		req, ok := byLib[li]
		if !ok {
			req = &request{thread: i, lib: lib}
			byLib[li] = req
			requests = append(requests, req)
		}
		req.funcs = append(req.funcs, int32(fn))
		req.offsets = append(req.offsets, offset)
	}
	return requests
}

func (s *Symbolicator) symbolicate(ctx context.Context, generation uint64, thread *model.Thread, r *request) error {
	names, err := s.resolveWithRetries(ctx, r)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to symbolicate library", "library", r.lib.DebugName, "thread", thread.Name, "err", err)
		s.metrics.libraryFailures.WithLabelValues(errorStatus(err)).Inc()
		return err
	}
	if generation != s.submitter.Generation() {
		level.Debug(s.logger).Log("msg", "dropping stale symbols", "library", r.lib.DebugName, "generation", generation)
		return nil
	}
	u := newUpdate(generation, r, names)
	s.metrics.resolvedAddresses.Add(float64(len(u.FuncIndices)))
	s.metrics.mergedFunctions.Add(float64(len(u.OldToNew)))
	s.submitter.Submit(u)
	return nil
}

// newUpdate names the resolved functions and merges the functions that
// resolved to the same name into the one with the lowest index.
// r.funcs is in ascending order.
func newUpdate(generation uint64, r *request, names []string) Update {
	u := Update{
		Generation: generation,
		Thread:     r.thread,
		OldToNew:   make(map[int32]int32),
	}
	canonical := make(map[string]int32)
	for i, fn := range r.funcs {
		name := names[i]
		if name == "" {
			continue
		}
		u.FuncIndices = append(u.FuncIndices, fn)
		u.Names = append(u.Names, name)
		if c, ok := canonical[name]; ok {
			u.OldToNew[fn] = c
		} else {
			canonical[name] = fn
		}
	}
	return u
}

func (s *Symbolicator) resolveWithRetries(ctx context.Context, r *request) ([]string, error) {
	b := backoff.New(ctx, s.cfg.Backoff)
	var lastErr error
	for b.Ongoing() {
		names, err := s.resolve(ctx, r)
		if err == nil {
			return names, nil
		}
		lastErr = err
		if IsLibraryNotFound(err) || isUnavailable(err) || ctx.Err() != nil {
			return nil, err
		}
		if code, ok := isHTTPStatusError(err); ok && code >= 400 && code < 500 && code != 429 {
			return nil, err
		}
		level.Debug(s.logger).Log("msg", "retrying symbol request", "library", r.lib.DebugName, "attempt", b.NumRetries()+1, "err", err)
		b.Wait()
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, b.Err()
}

func (s *Symbolicator) resolve(ctx context.Context, r *request) (names []string, err error) {
	start := time.Now()
	defer func() {
		s.metrics.requestDuration.WithLabelValues(errorStatus(err)).Observe(time.Since(start).Seconds())
	}()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	names, err = s.provider.Resolve(ctx, r.lib.DebugName, r.lib.BreakpadID, r.offsets)
	if err == nil && len(names) != len(r.offsets) {
		err = &resultLengthError{expected: len(r.offsets), actual: len(names)}
	}
	return names, err
}

type resultLengthError struct{ expected, actual int }

func (e *resultLengthError) Error() string {
	return "symbol provider returned " + strconv.Itoa(e.actual) + " names for " + strconv.Itoa(e.expected) + " addresses"
}
