package stylesheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sjc5/zoetrope/internal/sassfn"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// cssEngine compiles plain CSS plus zoetrope's functions and top-level
// $variables, for machines without the Dart Sass binary.
type cssEngine struct{}

func newCSSEngine() *cssEngine { return &cssEngine{} }

func (e *cssEngine) Name() string { return "css" }

func (e *cssEngine) Compile(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pre, err := expand(req.Path, req.Source, sassfn.Options{Plain: true})
	if err != nil {
		return nil, err
	}

	if err := validateCSS(pre.Source); err != nil {
		diag := err.Error()
		var perr *parse.Error
		if errors.As(err, &perr) {
			diag = fmt.Sprintf("%s:%d:%d: %s", filepath.Base(req.Path), perr.Line, perr.Column, perr.Message)
		}
		return nil, &CompileError{Path: req.Path, Diagnostic: diag, Err: err}
	}

	return &Result{CSS: pre.Source, Metadata: pre.Metadata}, nil
}

func (e *cssEngine) Close() error { return nil }

// validateCSS returns the first grammar error in src.
func validateCSS(src string) error {
	p := css.NewParser(parse.NewInputString(src), false)
	for {
		gt, _, _ := p.Next()
		if gt != css.ErrorGrammar {
			continue
		}
		if p.HasParseError() {
			return p.Err()
		}
		if err := p.Err(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}
