package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

type Mode string

const (
	ModeBuild Mode = "build"
	ModeServe Mode = "serve"
)

type VersionPolicy string

const (
	VersionHash VersionPolicy = "hash"
	VersionGit  VersionPolicy = "git"
	VersionDev  VersionPolicy = "dev"
)

type Engine string

const (
	EngineAuto     Engine = "auto"
	EngineDartSass Engine = "dartsass"
	EngineCSS      Engine = "css"
)

const (
	DefaultPort       = 8080
	DefaultEntrypoint = "index.html"
	DefaultOutputDir  = "_site"
	DefaultDebounce   = 128 * time.Millisecond
)

var ErrInvalid = errors.New("invalid configuration")

// Config is built once at startup and passed by pointer into every
// component. Nothing reads flags or env after that.
type Config struct {
	Mode Mode

	/*
		ProjectDir holds the descriptor (package.json or zoetrope.yaml). It
		defaults to $ZOETROPE_DIR, then the working directory. Relative
		paths below are resolved against it.
	*/
	ProjectDir string

	// Stylesheet overrides the descriptor's "main" field when set.
	Stylesheet string

	// OutputDir defaults to _site under ProjectDir. The dev server serves
	// it as its root.
	OutputDir string

	Entrypoint string

	Port     int
	SkipMenu bool
	UI       bool
	Cleanup  bool
	Minify   bool

	VersionPolicy VersionPolicy
	// CommitRef comes from $COMMIT_REF and wins over the git HEAD hash.
	CommitRef string

	Engine     Engine
	SassBinary string

	Debounce time.Duration
	LogLevel string
	Verbose  bool
}

// New returns a Config with every default filled in for mode.
func New(mode Mode) *Config {
	return &Config{
		Mode:          mode,
		Entrypoint:    DefaultEntrypoint,
		Port:          DefaultPort,
		SkipMenu:      true,
		UI:            true,
		Cleanup:       true,
		Minify:        mode == ModeBuild,
		VersionPolicy: VersionHash,
		Engine:        EngineAuto,
		Debounce:      DefaultDebounce,
		LogLevel:      "info",
	}
}

// Autoplay reports whether the page should skip the menu and start
// playing immediately. Only the dev server does that.
func (c *Config) Autoplay() bool {
	return c.Mode == ModeServe && c.SkipMenu
}

func (c *Config) GetCleanProjectDir() string {
	return filepath.Clean(c.ProjectDir)
}

func (c *Config) GetCleanOutputDir() string {
	if c.OutputDir == "" {
		return c.Resolve(DefaultOutputDir)
	}
	return c.Resolve(c.OutputDir)
}

// Resolve makes p absolute relative to the project directory.
func (c *Config) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.GetCleanProjectDir(), p)
}

func (c *Config) EntrypointPath() string {
	return filepath.Join(c.GetCleanOutputDir(), c.Entrypoint)
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeBuild, ModeServe:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalid, c.Mode)
	}
	switch c.VersionPolicy {
	case VersionHash, VersionGit, VersionDev:
	default:
		return fmt.Errorf("%w: unknown version policy %q", ErrInvalid, c.VersionPolicy)
	}
	switch c.Engine {
	case EngineAuto, EngineDartSass, EngineCSS:
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, c.Engine)
	}
	if c.ProjectDir == "" {
		return fmt.Errorf("%w: project directory is empty", ErrInvalid)
	}
	if c.Entrypoint == "" || filepath.IsAbs(c.Entrypoint) {
		return fmt.Errorf("%w: entrypoint must be a relative file name, got %q", ErrInvalid, c.Entrypoint)
	}
	if filepath.Ext(c.Entrypoint) != ".html" {
		return fmt.Errorf("%w: entrypoint must end in .html, got %q", ErrInvalid, c.Entrypoint)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("%w: debounce must be positive", ErrInvalid)
	}
	return nil
}
