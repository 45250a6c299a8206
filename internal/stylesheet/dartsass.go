package stylesheet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bep/godartsass/v2"
	"github.com/sjc5/zoetrope/internal/util"
)

// dartSassEngine drives the Dart Sass binary over its embedded protocol.
// The process starts on first use and is reused for every compile.
type dartSassEngine struct {
	binary string
	logger util.Logger

	mu         sync.Mutex
	transpiler *godartsass.Transpiler

	// compiles share the transpiler's log handler, so they run one at a time
	compileMu sync.Mutex
	eventsMu  sync.Mutex
	metadata  map[string]string
}

const (
	functionsModule = moduleScheme + "functions"
	// written by metadata-update in modules/_functions.scss
	metadataMarker = "zoetrope metadata-update "
)

func newDartSassEngine(binary string, logger util.Logger) *dartSassEngine {
	return &dartSassEngine{binary: binary, logger: logger}
}

func (e *dartSassEngine) Name() string { return "dartsass" }

func (e *dartSassEngine) start() (*godartsass.Transpiler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transpiler != nil && !e.transpiler.IsShutDown() {
		return e.transpiler, nil
	}

	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: e.binary,
		LogEventHandler:          e.logEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("error starting %s: %w", e.binary, err)
	}
	e.transpiler = t
	return t, nil
}

func (e *dartSassEngine) logEvent(evt godartsass.LogEvent) {
	switch evt.Type {
	case godartsass.LogEventTypeDebug:
		if k, v, ok := parseMetadataEvent(evt.Message); ok {
			e.eventsMu.Lock()
			e.metadata = mergeMetadata(e.metadata, map[string]string{k: v})
			e.eventsMu.Unlock()
			return
		}
		e.logger.Infof("@debug %s", evt.Message)
	case godartsass.LogEventTypeDeprecated:
		e.logger.Debugf("deprecation (%s): %s", evt.DeprecationType, evt.Message)
	default:
		e.logger.Warningf("@warn %s", evt.Message)
	}
}

func (e *dartSassEngine) Compile(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := e.start()
	if err != nil {
		return nil, err
	}

	e.compileMu.Lock()
	defer e.compileMu.Unlock()
	e.takeMetadata()

	dir := filepath.Dir(req.Path)
	syntax := sourceSyntax(req.Path)
	resolver := &importResolver{dir: dir}
	res, err := t.Execute(godartsass.Args{
		Source:                  withFunctions(req.Source, syntax),
		URL:                     fileURL(req.Path),
		SourceSyntax:            syntax,
		OutputStyle:             godartsass.OutputStyleExpanded,
		EnableSourceMap:         true,
		SourceMapIncludeSources: true,
		ImportResolver:          resolver,
		IncludePaths:            []string{dir},
	})
	if err != nil {
		var sassErr godartsass.SassError
		if errors.As(err, &sassErr) {
			return nil, &CompileError{Path: req.Path, Diagnostic: formatSassError(sassErr), Err: err}
		}
		return nil, fmt.Errorf("error running dart sass: %w", err)
	}

	return &Result{
		CSS:       res.CSS,
		SourceMap: res.SourceMap,
		Metadata:  e.takeMetadata(),
		Sources:   resolver.sources(req.Path),
	}, nil
}

func (e *dartSassEngine) takeMetadata() map[string]string {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	m := e.metadata
	e.metadata = nil
	return m
}

// parseMetadataEvent reads the key and value out of a metadata-update log
// line ("<url>:<line>:<col>: zoetrope metadata-update <key>=<value>").
func parseMetadataEvent(msg string) (key, value string, ok bool) {
	i := strings.Index(msg, metadataMarker)
	if i < 0 {
		return "", "", false
	}
	key, value, ok = strings.Cut(msg[i+len(metadataMarker):], "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, value, true
}

// withFunctions makes zoetrope's functions visible in src. The rule shares
// the first line so diagnostics keep their line numbers.
func withFunctions(src string, syntax godartsass.SourceSyntax) string {
	if strings.Contains(src, functionsModule) {
		return src
	}
	switch syntax {
	case godartsass.SourceSyntaxSCSS:
		return `@use "` + functionsModule + `" as *; ` + src
	case godartsass.SourceSyntaxSASS:
		return `@use "` + functionsModule + `" as *` + "\n" + src
	}
	return src
}

func (e *dartSassEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transpiler == nil || e.transpiler.IsShutDown() {
		return nil
	}
	err := e.transpiler.Close()
	e.transpiler = nil
	if errors.Is(err, godartsass.ErrShutdown) {
		return nil
	}
	return err
}

func formatSassError(e godartsass.SassError) string {
	var b strings.Builder
	if e.Span.Url != "" {
		b.WriteString(filepath.Base(strings.TrimPrefix(e.Span.Url, "file://")))
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Span.Context != "" {
		b.WriteString("\n")
		b.WriteString(e.Span.Context)
	}
	return b.String()
}

// importResolver serves zoetrope: modules and makes the functions module
// visible in every local stylesheet Dart Sass loads through it.
type importResolver struct {
	dir string

	mu     sync.Mutex
	loaded []string
}

func (r *importResolver) CanonicalizeURL(u string) (string, error) {
	if strings.HasPrefix(u, moduleScheme) {
		if _, err := ModuleSource(u); err != nil {
			return "", err
		}
		return u, nil
	}

	var base string
	switch {
	case strings.HasPrefix(u, "file:"):
		base = pathFromFileURL(u)
	case strings.Contains(u, ":"):
		return "", nil
	case filepath.IsAbs(u):
		base = u
	default:
		base = filepath.Join(r.dir, filepath.FromSlash(u))
	}

	for _, candidate := range importCandidates(base) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return fileURL(candidate), nil
		}
	}
	return "", nil
}

func (r *importResolver) Load(u string) (godartsass.Import, error) {
	if strings.HasPrefix(u, moduleScheme) {
		src, err := ModuleSource(u)
		if err != nil {
			return godartsass.Import{}, err
		}
		return godartsass.Import{Content: src, SourceSyntax: godartsass.SourceSyntaxSCSS}, nil
	}

	path := pathFromFileURL(u)
	data, err := os.ReadFile(path)
	if err != nil {
		return godartsass.Import{}, err
	}
	r.mu.Lock()
	r.loaded = append(r.loaded, path)
	r.mu.Unlock()

	syntax := sourceSyntax(path)
	return godartsass.Import{Content: withFunctions(string(data), syntax), SourceSyntax: syntax}, nil
}

// sources lists the files loaded so far, without entry and duplicates.
func (r *importResolver) sources(entry string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.loaded {
		if p != entry && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// importCandidates lists the files Sass would try for an import of base:
// the file itself, its partial, and the index files of a directory.
func importCandidates(base string) []string {
	dir, name := filepath.Split(base)
	switch filepath.Ext(name) {
	case ".scss", ".sass", ".css":
		return []string{base, filepath.Join(dir, "_"+name)}
	}

	var out []string
	for _, ext := range []string{".scss", ".sass", ".css"} {
		out = append(out, base+ext, filepath.Join(dir, "_"+name+ext))
	}
	for _, ext := range []string{".scss", ".sass"} {
		out = append(out, filepath.Join(base, "_index"+ext), filepath.Join(base, "index"+ext))
	}
	return out
}

func sourceSyntax(path string) godartsass.SourceSyntax {
	switch syntaxOf(path) {
	case "sass":
		return godartsass.SourceSyntaxSASS
	case "css":
		return godartsass.SourceSyntaxCSS
	}
	return godartsass.SourceSyntaxSCSS
}

func fileURL(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

func pathFromFileURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return strings.TrimPrefix(u, "file://")
	}
	p := parsed.Path
	// file:///C:/x on Windows
	if len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}
