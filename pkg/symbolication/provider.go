package symbolication

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// SymbolProvider resolves addresses relative to the start of a library
// into function names. The result has one entry per address; an empty
// entry means the address could not be resolved.
type SymbolProvider interface {
	Resolve(ctx context.Context, debugName, breakpadID string, addresses []uint64) ([]string, error)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPProvider resolves addresses with the symbolication API
// (POST {BaseURL}/symbolicate/v5).
type HTTPProvider struct {
	baseURL   string
	client    *http.Client
	userAgent string
	logger    log.Logger

	// Deduplicates concurrent identical requests.
	group   singleflight.Group
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

type HTTPProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
	// RequestRate limits the requests per second. Zero means no limit.
	RequestRate  float64 `yaml:"request_rate"`
	RequestBurst int     `yaml:"request_burst"`
	// BreakerFailures is the number of consecutive server failures after
	// which requests are rejected for BreakerTimeout. Zero disables the
	// circuit breaker.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`

	// HTTPClient is used for requests. If nil, a default client is created.
	HTTPClient *http.Client `yaml:"-"`
}

func (cfg *HTTPProviderConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.BaseURL, "symbol-server.url", "https://symbolication.services.mozilla.com", "Base URL of the symbolication API.")
	f.StringVar(&cfg.UserAgent, "symbol-server.user-agent", "profiletree", "User agent of symbol requests.")
	f.Float64Var(&cfg.RequestRate, "symbol-server.request-rate", 0, "Maximum symbol requests per second. 0 means no limit.")
	f.IntVar(&cfg.RequestBurst, "symbol-server.request-burst", 1, "Symbol requests allowed above the request rate.")
	f.IntVar(&cfg.BreakerFailures, "symbol-server.breaker-failures", 5, "Consecutive server failures that open the circuit breaker. 0 disables it.")
	f.DurationVar(&cfg.BreakerTimeout, "symbol-server.breaker-timeout", 30*time.Second, "Time the circuit breaker stays open.")
}

func (cfg *HTTPProviderConfig) Validate() error {
	if cfg.BaseURL == "" {
		return errors.New("symbol server url is required")
	}
	if cfg.RequestRate < 0 || cfg.BreakerFailures < 0 {
		return errors.New("symbol server request rate and breaker failures must not be negative")
	}
	return nil
}

func NewHTTPProvider(logger log.Logger, cfg HTTPProviderConfig) *HTTPProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: 2 * time.Minute,
		}
	}
	p := &HTTPProvider{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		client:    client,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
	if cfg.RequestRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), max(cfg.RequestBurst, 1))
	}
	if cfg.BreakerFailures > 0 {
		p.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "symbol-server",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
			},
			IsSuccessful: func(err error) bool {
				// Only failures of the server itself count.
				code, ok := isHTTPStatusError(err)
				return err == nil || (ok && code < 500) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				level.Warn(logger).Log("msg", "symbol server circuit breaker state changed", "from", from, "to", to)
			},
		})
	}
	return p
}

type symbolicateRequest struct {
	MemoryMap [][2]string  `json:"memoryMap"`
	Stacks    [][][2]int64 `json:"stacks"`
}

type symbolicateResponse struct {
	Results []struct {
		Stacks [][]struct {
			Frame          int    `json:"frame"`
			ModuleOffset   string `json:"module_offset"`
			Function       string `json:"function"`
			FunctionOffset string `json:"function_offset"`
		} `json:"stacks"`
		FoundModules map[string]bool `json:"found_modules"`
	} `json:"results"`
}

func (p *HTTPProvider) Resolve(ctx context.Context, debugName, breakpadID string, addresses []uint64) ([]string, error) {
	key := requestKey(debugName, breakpadID, addresses)
	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		return p.resolve(ctx, debugName, breakpadID, addresses)
	})
	if err != nil {
		return nil, err
	}
	names := v.([]string)
	if shared {
		names = append([]string(nil), names...)
	}
	return names, nil
}

func requestKey(debugName, breakpadID string, addresses []uint64) string {
	h := xxhash.New()
	var b [8]byte
	for _, a := range addresses {
		for i := range b {
			b[i] = byte(a >> (8 * i))
		}
		_, _ = h.Write(b[:])
	}
	return debugName + "/" + breakpadID + "/" + strconv.FormatUint(h.Sum64(), 16)
}

func (p *HTTPProvider) resolve(ctx context.Context, debugName, breakpadID string, addresses []uint64) ([]string, error) {
	req := symbolicateRequest{
		MemoryMap: [][2]string{{debugName, breakpadID}},
		Stacks:    [][][2]int64{make([][2]int64, len(addresses))},
	}
	for i, a := range addresses {
		req.Stacks[0][i] = [2]int64{0, int64(a)}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	data, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	var resp symbolicateResponse
	if err = json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("empty symbolication response")
	}
	result := resp.Results[0]
	if found, ok := result.FoundModules[debugName+"/"+breakpadID]; ok && !found {
		return nil, libraryNotFoundError{debugName: debugName, breakpadID: breakpadID}
	}
	names := make([]string, len(addresses))
	if len(result.Stacks) > 0 {
		for _, f := range result.Stacks[0] {
			if f.Frame >= 0 && f.Frame < len(names) {
				names[f.Frame] = f.Function
			}
		}
	}
	level.Debug(p.logger).Log("msg", "resolved library symbols", "library", debugName, "addresses", len(addresses))
	return names, nil
}

func (p *HTTPProvider) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if p.breaker == nil {
		return p.post(ctx, body)
	}
	data, err := p.breaker.Execute(func() ([]byte, error) { return p.post(ctx, body) })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, unavailableError{err: err}
	}
	return data, err
}

func (p *HTTPProvider) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/symbolicate/v5", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errorBody := string(data)
		if len(errorBody) > 1000 {
			errorBody = errorBody[:1000] + "... [truncated]"
		}
		return nil, httpStatusError{statusCode: resp.StatusCode, body: errorBody}
	}
	return data, nil
}
