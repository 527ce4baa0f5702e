package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/profiletree/pkg/util"
)

var cfg struct {
	verbose    bool
	configFile string
	expandEnv  bool
}

var logger log.Logger = util.Logger

type commander interface {
	Flag(name, help string) *kingpin.FlagClause
	Arg(name, help string) *kingpin.ArgClause
}

type outputKey struct{}

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, outputKey{}, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(outputKey{}).(io.Writer); ok {
		return w
	}
	return os.Stdout
}

func main() {
	ctx := withOutput(context.Background(), os.Stdout)

	app := kingpin.New(filepath.Base(os.Args[0]), "Call tree explorer for sampled profiles.").UsageWriter(os.Stdout)
	app.Version(version.Print("profiletree"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	app.Flag("config.file", "YAML configuration file.").StringVar(&cfg.configFile)
	app.Flag("config.expand-env", "Expand ${VAR} references to environment variables in the configuration file.").Default("false").BoolVar(&cfg.expandEnv)

	treeCommand := app.Command("tree", "Print the call tree of a profile.")
	treeProfile := addProfileParams(treeCommand)
	treeView := addViewParams(treeCommand)

	statsCommand := app.Command("stats", "Print the table sizes of a profile.")
	statsProfile := addProfileParams(statsCommand)

	symbolicateCommand := app.Command("symbolicate", "Symbolicate a profile and print its call tree.")
	symbolicateProfile := addProfileParams(symbolicateCommand)
	symbolicateView := addViewParams(symbolicateCommand)
	symbolicateOpts := addSymbolicateParams(symbolicateCommand)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger = util.NewLogger(os.Stderr, cfg.verbose)

	config, err := loadConfig(cfg.configFile, cfg.expandEnv)
	if err != nil {
		os.Exit(checkError(err))
	}

	switch parsedCmd {
	case treeCommand.FullCommand():
		err = treeCmd(ctx, config, treeProfile, treeView)
	case statsCommand.FullCommand():
		err = statsCmd(ctx, statsProfile)
	case symbolicateCommand.FullCommand():
		err = symbolicateCmd(ctx, config, symbolicateProfile, symbolicateView, symbolicateOpts)
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
	os.Exit(checkError(err))
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
