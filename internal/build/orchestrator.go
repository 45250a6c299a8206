package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/metadata"
	"github.com/sjc5/zoetrope/internal/page"
	"github.com/sjc5/zoetrope/internal/stylesheet"
	"github.com/sjc5/zoetrope/internal/util"
	"go.uber.org/multierr"
)

type State string

const (
	StateIdle     State = "idle"
	StateBuilding State = "building"
	StateError    State = "error"
)

type event int

const (
	eventStart event = iota
	eventSucceed
	eventFail
)

// transition is the whole state machine. error is not terminal: a new
// trigger starts another cycle from it.
func transition(s State, e event) State {
	switch e {
	case eventStart:
		return StateBuilding
	case eventSucceed:
		if s == StateBuilding {
			return StateIdle
		}
	case eventFail:
		if s == StateBuilding {
			return StateError
		}
	}
	return s
}

type Trigger string

const (
	TriggerColdStart   Trigger = "cold start"
	TriggerFileChanged Trigger = "file changed"
)

// Report describes one finished cycle. Err is nil on success.
type Report struct {
	Trigger Trigger
	Project *metadata.Project
	Target  *Target
	Version VersionTag
	// Sources lists the stylesheets the entry loaded, entry excluded.
	Sources  []string
	Duration time.Duration
	Err      error
}

// Hook runs after every cycle, successful or not.
type Hook func(ctx context.Context, r Report)

type Orchestrator struct {
	cfg      *config.Config
	compiler *stylesheet.Compiler
	page     *page.Assembler
	logger   util.Logger

	// buildMu serialises cycles; mu guards the fields below it.
	buildMu sync.Mutex
	mu      sync.Mutex
	state   State
	hooks   []Hook
	last    *Target
	// written holds every file a cycle has produced in this process.
	written map[string]bool

	queue chan Trigger
}

func New(cfg *config.Config, compiler *stylesheet.Compiler, assembler *page.Assembler, logger util.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		compiler: compiler,
		page:     assembler,
		logger:   logger,
		state:    StateIdle,
		written:  map[string]bool{},
		queue:    make(chan Trigger, 1),
	}
}

// OnPostBuild registers h. Hooks run in registration order.
func (o *Orchestrator) OnPostBuild(h Hook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks = append(o.hooks, h)
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastTarget is the target of the most recent successful cycle, or nil.
func (o *Orchestrator) LastTarget() *Target {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Orchestrator) fire(e event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = transition(o.state, e)
}

// Trigger queues a cycle for Run. While a cycle is queued further triggers
// are folded into it.
func (o *Orchestrator) Trigger(t Trigger) {
	select {
	case o.queue <- t:
	default:
		o.logger.Debugf("build already queued, folding %s", t)
	}
}

// Run executes queued cycles one at a time until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-o.queue:
			o.Build(ctx, t)
		}
	}
}

// Build runs one full cycle synchronously and returns its report. It never
// panics.
func (o *Orchestrator) Build(ctx context.Context, t Trigger) Report {
	o.buildMu.Lock()
	defer o.buildMu.Unlock()

	start := time.Now()
	o.fire(eventStart)
	o.logger.Debugf("build started (%s)", t)

	r := Report{Trigger: t}
	func() {
		defer func() {
			if v := recover(); v != nil {
				r.Err = fmt.Errorf("panic during build: %v", v)
				o.logger.Debugf("%s", debug.Stack())
			}
		}()
		r.Err = o.cycle(ctx, &r)
	}()
	r.Duration = time.Since(start)

	if r.Err != nil {
		o.logger.Errorf("%v", r.Err)
	} else {
		o.logger.Infof("built %s in %v", r.Target.CSSFilename, r.Duration.Round(time.Millisecond))
	}

	o.runHooks(ctx, r)

	if r.Err != nil {
		o.fire(eventFail)
	} else {
		o.mu.Lock()
		o.last = r.Target
		o.mu.Unlock()
		o.fire(eventSucceed)
	}
	return r
}

func (o *Orchestrator) cycle(ctx context.Context, r *Report) error {
	project, err := metadata.Load(o.cfg.GetCleanProjectDir())
	if err != nil {
		return err
	}
	r.Project = project

	src, err := StylesheetPath(o.cfg, project)
	if err != nil {
		return err
	}
	res, err := o.compiler.Compile(ctx, src)
	if err != nil {
		return err
	}
	r.Sources = res.Sources

	version, err := ComputeVersion(o.cfg, res.CSS)
	if err != nil {
		return err
	}
	target := NewTarget(o.cfg, src, version)
	r.Version = version
	r.Target = target

	if err := o.compiler.Write(target.CSSPath, res); err != nil {
		return err
	}
	o.record(target.CSSPath, target.CSSPath+".map")

	project = project.With(res.Metadata)
	r.Project = project

	err = o.page.Write(target.HTMLPath, page.Data{
		Project:  project,
		CSSURL:   page.CSSURL(o.cfg.Mode, project.URL, target.CSSFilename),
		Autoplay: o.cfg.Autoplay(),
	})
	if err != nil {
		return err
	}
	o.record(target.HTMLPath)

	if o.cfg.Mode == config.ModeServe {
		o.removeStale(target)
	}
	return nil
}

func (o *Orchestrator) runHooks(ctx context.Context, r Report) {
	o.mu.Lock()
	hooks := append([]Hook(nil), o.hooks...)
	o.mu.Unlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if v := recover(); v != nil {
					o.logger.Errorf("post-build hook panicked: %v", v)
				}
			}()
			h(ctx, r)
		}()
	}
}

func (o *Orchestrator) record(paths ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range paths {
		o.written[p] = true
	}
}

func (o *Orchestrator) forget(p string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.written, p)
}

// generated lists the CSS outputs of stylesheetPath this process wrote plus
// any older outputs whose version tag has a shape this tool produces.
func (o *Orchestrator) generated(dir, stylesheetPath string) []string {
	out := versionedOutputs(dir, stylesheetPath)
	prefix := filepath.Join(dir, util.GetVersionedFilename(stylesheetPath, "", ""))
	o.mu.Lock()
	for p := range o.written {
		if strings.HasPrefix(p, prefix) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	o.mu.Unlock()
	slices.Sort(out)
	return out
}

// removeStale deletes CSS generated by earlier versions of target's
// stylesheet.
func (o *Orchestrator) removeStale(target *Target) {
	for _, old := range o.generated(target.OutputDir, target.StylesheetPath) {
		if old == target.CSSPath || old == target.CSSPath+".map" {
			continue
		}
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warningf("error removing stale %s: %v", filepath.Base(old), err)
			continue
		}
		o.forget(old)
		o.logger.Debugf("removed stale %s", filepath.Base(old))
	}
}

// Cleanup removes the generated CSS versions of stylesheetPath (with source
// maps) and, when a cycle wrote it, the entrypoint. Files that merely share
// the stylesheet's base name are left alone. Missing files are not an error.
func (o *Orchestrator) Cleanup(stylesheetPath string) error {
	files := o.generated(o.cfg.GetCleanOutputDir(), stylesheetPath)
	o.mu.Lock()
	if o.written[o.cfg.EntrypointPath()] {
		files = append(files, o.cfg.EntrypointPath())
	}
	o.mu.Unlock()

	var errs error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, fmt.Errorf("error removing %s: %w", f, err))
			continue
		}
		o.forget(f)
	}
	return errs
}

// versionTag matches the tags ComputeVersion derives on its own: a content
// hash, a short git hash or the dev tag. COMMIT_REF tags are only removed
// when this process wrote them.
var versionTag = regexp.MustCompile(`^(?:[0-9a-f]{7,8}|dev)$`)

// versionedOutputs lists "<base>-<tag>.css" (and its map) in dir for every
// tag versionTag accepts.
func versionedOutputs(dir, stylesheetPath string) []string {
	prefix := util.GetVersionedFilename(stylesheetPath, "", "")
	var out []string
	for _, suffix := range []string{".css", ".css.map"} {
		matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"+suffix))
		if err != nil {
			continue
		}
		for _, m := range matches {
			tag := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), suffix)
			if versionTag.MatchString(tag) {
				out = append(out, m)
			}
		}
	}
	return out
}
