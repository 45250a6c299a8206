package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/sjc5/zoetrope"
	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/util"
)

type Global struct {
	Verbose bool
}

type CLI struct {
	Verbose bool             `short:"v" help:"Log debug output."`
	Version kong.VersionFlag `help:"Print the version and exit."`

	Help  HelpCmd  `cmd:"" help:"Print this help text."`
	Build BuildCmd `cmd:"" help:"Build static site."`
	Serve ServeCmd `cmd:"" help:"Run development server."`
}

type HelpCmd struct{}

func (h *HelpCmd) Run(ctx *kong.Context) error {
	return ctx.PrintUsage(true)
}

// SharedFlags are accepted by build and serve.
type SharedFlags struct {
	Stylesheet    string `arg:"" optional:"" help:"Stylesheet to compile. Defaults to the descriptor's \"main\"."`
	Entrypoint    string `default:"index.html" help:"Name of the generated page."`
	Output        string `short:"o" help:"Output directory. Defaults to _site in the project directory."`
	Engine        string `enum:"auto,dartsass,css" default:"auto" help:"Stylesheet engine (${enum})."`
	VersionPolicy string `name:"version-policy" enum:"hash,git,dev" default:"hash" help:"How generated CSS is versioned (${enum})."`
}

func (f *SharedFlags) apply(cfg *config.Config) error {
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if f.Stylesheet != "" {
		abs, err := filepath.Abs(f.Stylesheet)
		if err != nil {
			return fmt.Errorf("error resolving %s: %w", f.Stylesheet, err)
		}
		cfg.Stylesheet = abs
	}
	cfg.Entrypoint = f.Entrypoint
	cfg.OutputDir = f.Output
	cfg.Engine = config.Engine(f.Engine)
	cfg.VersionPolicy = config.VersionPolicy(f.VersionPolicy)
	return nil
}

type BuildCmd struct {
	SharedFlags `embed:""`
	Minify      bool `default:"true" help:"Minify CSS and HTML."`
}

func (b *BuildCmd) config(g *Global) (*config.Config, error) {
	cfg := config.New(config.ModeBuild)
	if err := b.apply(cfg); err != nil {
		return nil, err
	}
	cfg.Minify = b.Minify
	cfg.Verbose = g.Verbose
	return cfg, nil
}

func (b *BuildCmd) Run(g *Global) error {
	logger := newLogger(true, g.Verbose)
	cfg, err := b.config(g)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	return run(cfg, logger, func(ctx context.Context, z *zoetrope.Zoetrope) error {
		return z.Build(ctx)
	})
}

type ServeCmd struct {
	SharedFlags `embed:""`
	Port        int  `short:"p" default:"8080" help:"Port to serve on. Busy ports fall through to the next free one."`
	SkipMenu    bool `name:"skipMenu" default:"true" help:"Start the animation without showing the menu."`
	UI          bool `name:"ui" default:"true" help:"Colour log output."`
	Cleanup     bool `default:"true" help:"Remove generated files on exit."`
}

func (s *ServeCmd) config(g *Global) (*config.Config, error) {
	cfg := config.New(config.ModeServe)
	if err := s.apply(cfg); err != nil {
		return nil, err
	}
	cfg.Port = s.Port
	cfg.SkipMenu = s.SkipMenu
	cfg.UI = s.UI
	cfg.Cleanup = s.Cleanup
	cfg.Verbose = g.Verbose
	if g.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func (s *ServeCmd) Run(g *Global) error {
	logger := newLogger(s.UI, g.Verbose)
	cfg, err := s.config(g)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	return run(cfg, logger, func(ctx context.Context, z *zoetrope.Zoetrope) error {
		return z.Serve(ctx)
	})
}

func run(cfg *config.Config, logger util.Logger, f func(context.Context, *zoetrope.Zoetrope) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	z, err := zoetrope.New(cfg, logger)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	defer z.Close()

	if err := f(ctx, z); err != nil {
		var compileErr *zoetrope.CompileError
		if !errors.As(err, &compileErr) {
			logger.Errorf("%v", err)
		}
		return err
	}
	return nil
}

// newLogger colours output only when asked to and stderr is a terminal.
func newLogger(ui, verbose bool) util.Logger {
	fd := os.Stderr.Fd()
	color := ui && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
	return util.NewColorLogger("zoetrope", os.Stderr, util.LogOptions{Color: color, Verbose: verbose})
}
