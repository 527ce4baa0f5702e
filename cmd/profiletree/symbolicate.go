package main

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/grafana/profiletree/pkg/symbolication"
	"github.com/grafana/profiletree/pkg/transform"
	"github.com/grafana/profiletree/pkg/viewstate"
)

type symbolicateParams struct {
	server string
}

func addSymbolicateParams(cmd commander) *symbolicateParams {
	p := new(symbolicateParams)
	cmd.Flag("symbol-server", "Base URL of the symbolication API. Overrides the configuration file.").StringVar(&p.server)
	return p
}

func symbolicateCmd(ctx context.Context, cfg *Config, profile *profileParams, view *viewParams, params *symbolicateParams) error {
	p, err := loadProfile(profile)
	if err != nil {
		return err
	}
	memo, err := transform.NewMemo(cfg.Memo)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	store := viewstate.NewStore(logger, p, memo)
	coalescer := symbolication.NewCoalescer(logger, cfg.Symbolication.Coalescer, store, reg)
	server := cfg.SymbolServer
	if params.server != "" {
		server.BaseURL = params.server
	}
	server.UserAgent += "/" + version.Version
	provider := symbolication.NewHTTPProvider(logger, server)
	symbolicator := symbolication.New(logger, cfg.Symbolication, provider, coalescer, reg)

	if err = services.StartAndAwaitRunning(ctx, coalescer); err != nil {
		return err
	}
	defer func() {
		if err := services.StopAndAwaitTerminated(context.Background(), coalescer); err != nil {
			level.Warn(logger).Log("msg", "failed to stop symbolication coalescer", "err", err)
		}
	}()

	generation := store.Generation()
	coalescer.SetGeneration(generation)
	if err = symbolicator.Symbolicate(ctx, generation, store.Profile()); err != nil {
		// Unresolved functions keep their library and offset names.
		level.Warn(logger).Log("msg", "symbolication incomplete", "err", err)
	}
	if err = coalescer.Flush(ctx); err != nil {
		return fmt.Errorf("flushing symbolication results: %w", err)
	}
	if err = view.apply(store); err != nil {
		return err
	}
	return printTree(ctx, store, view.maxDepth)
}
