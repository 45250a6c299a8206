package stylesheet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/util"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
)

// Compiler compiles one stylesheet file into one CSS file.
type Compiler struct {
	engine Engine
	minify bool
	logger util.Logger
}

func NewCompiler(engine Engine, cfg *config.Config, logger util.Logger) *Compiler {
	return &Compiler{engine: engine, minify: cfg.Minify, logger: logger}
}

// Compile reads src and compiles it, minified when configured. Nothing is
// written: a failed compile never touches earlier output.
func (c *Compiler) Compile(ctx context.Context, src string) (*Result, error) {
	start := time.Now()

	source, err := os.ReadFile(src)
	if err != nil {
		return nil, &CompileError{Path: src, Diagnostic: err.Error(), Err: err}
	}

	res, err := c.engine.Compile(ctx, Request{Path: src, Source: string(source)})
	if err != nil {
		return nil, err
	}

	if c.minify {
		if res.CSS, err = minifyCSS(res.CSS); err != nil {
			return nil, &CompileError{Path: src, Diagnostic: fmt.Sprintf("error minifying: %v", err), Err: err}
		}
		res.SourceMap = ""
	}

	c.logger.Debugf("compiled %s with %s in %v", src, c.engine.Name(), time.Since(start))
	return res, nil
}

// Write atomically writes res to dst, with its source map next to it.
func (c *Compiler) Write(dst string, res *Result) error {
	out := res.CSS
	if res.SourceMap != "" {
		out += fmt.Sprintf("\n/*# sourceMappingURL=%s.map */\n", filepath.Base(dst))
		if err := util.WriteFileAtomic(dst+".map", []byte(res.SourceMap), 0644); err != nil {
			c.logger.Warningf("error writing source map: %v", err)
		}
	}
	if err := util.WriteFileAtomic(dst, []byte(out), 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", dst, err)
	}
	return nil
}

func (c *Compiler) Close() error {
	return c.engine.Close()
}

func minifyCSS(content string) (string, error) {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return m.String("text/css", content)
}
