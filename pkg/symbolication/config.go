package symbolication

import (
	"errors"
	"flag"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/grafana/profiletree/pkg/util"
)

type Config struct {
	// MaxConcurrency limits the number of library requests in flight.
	MaxConcurrency util.ConcurrencyLimit `yaml:"max_concurrency"`
	RequestTimeout time.Duration         `yaml:"request_timeout"`
	Backoff        backoff.Config        `yaml:"backoff"`
	Coalescer      CoalescerConfig       `yaml:"coalescer"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.MaxConcurrency = 8
	f.Var(&cfg.MaxConcurrency, "symbolication.max-concurrency", "Maximum number of concurrent symbol requests. 'auto' uses GOMAXPROCS.")
	f.DurationVar(&cfg.RequestTimeout, "symbolication.request-timeout", 30*time.Second, "Timeout of a single symbol request.")
	cfg.Backoff.RegisterFlagsWithPrefix("symbolication", f)
	cfg.Coalescer.RegisterFlags(f)
}

func (cfg *Config) Validate() error {
	if cfg.MaxConcurrency < 1 {
		return errors.New("symbolication max concurrency must be positive")
	}
	if cfg.RequestTimeout < 0 {
		return errors.New("symbolication request timeout must not be negative")
	}
	return cfg.Coalescer.Validate()
}

type CoalescerConfig struct {
	// IdleDelay is the quiet period after the last update before a flush.
	IdleDelay time.Duration `yaml:"idle_delay"`
	// MaxDelay bounds the time between the first pending update and the flush.
	MaxDelay time.Duration `yaml:"max_delay"`
}

func (cfg *CoalescerConfig) RegisterFlags(f *flag.FlagSet) {
	f.DurationVar(&cfg.IdleDelay, "symbolication.coalescer.idle-delay", 50*time.Millisecond, "Flush pending symbolication updates after this period without new updates.")
	f.DurationVar(&cfg.MaxDelay, "symbolication.coalescer.max-delay", time.Second, "Maximum time an update waits before it is flushed.")
}

func (cfg *CoalescerConfig) Validate() error {
	if cfg.IdleDelay <= 0 || cfg.MaxDelay <= 0 {
		return errors.New("coalescer delays must be positive")
	}
	if cfg.IdleDelay > cfg.MaxDelay {
		return errors.New("coalescer idle delay must not exceed max delay")
	}
	return nil
}
