// Package zoetrope builds and serves single-page animated demos: a
// stylesheet compiled to CSS plus a metadata-driven HTML shell that loads it.
package zoetrope

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sjc5/zoetrope/internal/build"
	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/devserver"
	"github.com/sjc5/zoetrope/internal/metadata"
	"github.com/sjc5/zoetrope/internal/page"
	"github.com/sjc5/zoetrope/internal/stylesheet"
	"github.com/sjc5/zoetrope/internal/util"
	"github.com/sjc5/zoetrope/internal/watch"
	"golang.org/x/sync/errgroup"
)

type Config = config.Config
type Logger = util.Logger
type Report = build.Report
type CompileError = stylesheet.CompileError

// Version is reported by the CLI.
const Version = "0.1.0"

const shutdownTimeout = 5 * time.Second

type Zoetrope struct {
	cfg          *config.Config
	logger       util.Logger
	compiler     *stylesheet.Compiler
	orchestrator *build.Orchestrator

	mu     sync.Mutex
	server *devserver.Server
	ready  chan struct{}
}

// New validates cfg and wires the pipeline. Call Close when done.
func New(cfg *config.Config, logger util.Logger) (*Zoetrope, error) {
	if logger == nil {
		logger = util.NopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, err := stylesheet.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	assembler, err := page.New(cfg.Minify)
	if err != nil {
		engine.Close()
		return nil, err
	}
	compiler := stylesheet.NewCompiler(engine, cfg, logger)

	return &Zoetrope{
		cfg:          cfg,
		logger:       logger,
		compiler:     compiler,
		orchestrator: build.New(cfg, compiler, assembler, logger),
		ready:        make(chan struct{}),
	}, nil
}

func (z *Zoetrope) Close() error {
	return z.compiler.Close()
}

// OnPostBuild registers a hook that runs after every build cycle.
func (z *Zoetrope) OnPostBuild(h func(ctx context.Context, r Report)) {
	z.orchestrator.OnPostBuild(h)
}

// IsConfigError reports whether err means the project cannot be built at
// all, as opposed to a stylesheet that failed to compile.
func IsConfigError(err error) bool {
	var descErr *metadata.DescriptorError
	return errors.Is(err, metadata.ErrDescriptorNotFound) ||
		errors.As(err, &descErr) ||
		errors.Is(err, build.ErrNoStylesheet) ||
		errors.Is(err, config.ErrInvalid)
}

// prepare loads the descriptor once up front and copies declared assets.
// It returns the stylesheet path.
func (z *Zoetrope) prepare(ctx context.Context) (string, error) {
	project, err := metadata.Load(z.cfg.GetCleanProjectDir())
	if err != nil {
		return "", err
	}
	src, err := build.StylesheetPath(z.cfg, project)
	if err != nil {
		return "", err
	}
	if _, err := build.CopyAssets(ctx, z.cfg, project.Files, z.logger); err != nil {
		return "", err
	}
	return src, nil
}

// Build runs one full build.
func (z *Zoetrope) Build(ctx context.Context) error {
	if _, err := z.prepare(ctx); err != nil {
		return err
	}
	r := z.orchestrator.Build(ctx, build.TriggerColdStart)
	return r.Err
}

// Ready is closed once Serve's dev server is online.
func (z *Zoetrope) Ready() <-chan struct{} {
	return z.ready
}

// ServerURL is the dev server's address, or "" before it is online.
func (z *Zoetrope) ServerURL() string {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.server == nil {
		return ""
	}
	return z.server.URL()
}

// Serve builds, starts the dev server and rebuilds on every source change
// until ctx is cancelled. Compile errors are logged and waited out;
// configuration errors and a failed server start end it.
func (z *Zoetrope) Serve(ctx context.Context) error {
	src, err := z.prepare(ctx)
	if err != nil {
		return err
	}

	initial := z.orchestrator.Build(ctx, build.TriggerColdStart)
	if initial.Err != nil && IsConfigError(initial.Err) {
		return initial.Err
	}

	server := devserver.New(devserver.Options{
		Root:       z.cfg.GetCleanOutputDir(),
		Port:       z.cfg.Port,
		Entrypoint: z.cfg.Entrypoint,
		LogLevel:   z.cfg.LogLevel,
		Logger:     z.logger,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}
	server.ObserveBuild(initial.Duration, initial.Err)
	z.orchestrator.OnPostBuild(func(_ context.Context, r build.Report) {
		server.ObserveBuild(r.Duration, r.Err)
		if r.Err == nil {
			server.Reload()
		}
	})

	z.mu.Lock()
	z.server = server
	z.mu.Unlock()
	close(z.ready)

	defer z.shutdown(server, src)

	watcher, err := watch.New(watch.Options{
		Stylesheet: src,
		ProjectDir: z.cfg.GetCleanProjectDir(),
		Debounce:   z.cfg.Debounce,
		Logger:     z.logger,
	})
	if err != nil {
		return err
	}
	defer watcher.Close()
	watcher.Track(initial.Sources)
	z.orchestrator.OnPostBuild(func(_ context.Context, r build.Report) {
		if r.Err == nil {
			watcher.Track(r.Sources)
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return z.orchestrator.Run(ctx)
	})
	g.Go(func() error {
		return watcher.Run(ctx, func(paths []string) {
			z.logger.Debugf("changed: %v", paths)
			z.orchestrator.Trigger(build.TriggerFileChanged)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (z *Zoetrope) shutdown(server *devserver.Server, src string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		z.logger.Warningf("%v", err)
	}
	if !z.cfg.Cleanup {
		return
	}
	if err := z.orchestrator.Cleanup(src); err != nil {
		z.logger.Warningf("cleanup: %v", err)
		return
	}
	z.logger.Infof("removed generated files")
}
