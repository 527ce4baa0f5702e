package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/grafana/profiletree/pkg/symbolication"
	"github.com/grafana/profiletree/pkg/transform"
)

// Config is the configuration file of the CLI.
type Config struct {
	Symbolication symbolication.Config             `yaml:"symbolication"`
	SymbolServer  symbolication.HTTPProviderConfig `yaml:"symbol_server"`
	Memo          transform.MemoConfig             `yaml:"memo"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Symbolication.RegisterFlags(f)
	cfg.SymbolServer.RegisterFlags(f)
	cfg.Memo.RegisterFlags(f)
}

func (cfg *Config) Validate() error {
	if err := cfg.Symbolication.Validate(); err != nil {
		return err
	}
	if err := cfg.SymbolServer.Validate(); err != nil {
		return err
	}
	return cfg.Memo.Validate()
}

// loadConfig returns the defaults overridden by the YAML file at path,
// if any. With expandEnv set, ${VAR} references in the file are replaced
// by environment variables first.
func loadConfig(path string, expandEnv bool) (*Config, error) {
	cfg := new(Config)
	cfg.RegisterFlags(flag.NewFlagSet("profiletree", flag.ContinueOnError))
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if expandEnv {
			s, err := envsubst.EvalEnv(string(b))
			if err != nil {
				return nil, fmt.Errorf("expanding environment variables in %s: %w", path, err)
			}
			b = []byte(s)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err = dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
