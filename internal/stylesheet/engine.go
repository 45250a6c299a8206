// Package stylesheet turns a stylesheet source into CSS. The Dart Sass
// engine serves zoetrope's custom functions as a Sass module; the plain CSS
// engine evaluates them with sassfn.
package stylesheet

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/sassfn"
	"github.com/sjc5/zoetrope/internal/util"
)

type Request struct {
	// Path is the absolute path of the stylesheet. Imports resolve against
	// its directory.
	Path   string
	Source string
}

type Result struct {
	CSS       string
	SourceMap string
	// Metadata holds overrides recorded by updateMetadata calls.
	Metadata map[string]string
	// Sources lists the local stylesheets the entry loaded, entry excluded.
	Sources []string
}

type Engine interface {
	Name() string
	Compile(ctx context.Context, req Request) (*Result, error)
	Close() error
}

// CompileError carries the diagnostic of a failed compile. The previous
// output is never touched when one is returned.
type CompileError struct {
	Path       string
	Diagnostic string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("error compiling %s: %s", e.Path, e.Diagnostic)
}

func (e *CompileError) Unwrap() error { return e.Err }

const defaultSassBinary = "sass"

// NewEngine picks the engine named by cfg.Engine. "auto" uses Dart Sass
// when its binary is on $PATH and the plain CSS engine otherwise.
func NewEngine(cfg *config.Config, logger util.Logger) (Engine, error) {
	binary := cfg.SassBinary
	if binary == "" {
		binary = defaultSassBinary
	}

	switch cfg.Engine {
	case config.EngineCSS:
		return newCSSEngine(), nil
	case config.EngineDartSass:
		return newDartSassEngine(binary, logger), nil
	case config.EngineAuto, "":
		if path, err := exec.LookPath(binary); err == nil {
			logger.Debugf("using dart sass at %s", path)
			return newDartSassEngine(path, logger), nil
		}
		logger.Warningf("%s not found on PATH: compiling as plain CSS (Sass syntax will not work)", binary)
		return newCSSEngine(), nil
	}
	return nil, fmt.Errorf("%w: unknown engine %q", config.ErrInvalid, cfg.Engine)
}

// expand runs the function pre-pass and converts its errors into compile
// errors against path.
func expand(path, source string, opts sassfn.Options) (*sassfn.Result, error) {
	res, err := sassfn.Expand(source, opts)
	if err != nil {
		return nil, &CompileError{
			Path:       path,
			Diagnostic: fmt.Sprintf("%s:%v", filepath.Base(path), err),
			Err:        err,
		}
	}
	return res, nil
}

func mergeMetadata(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func syntaxOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
