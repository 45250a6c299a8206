// Package page renders the HTML shell that introduces a demo and lazily
// loads its stylesheet.
package page

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/metadata"
	"github.com/sjc5/zoetrope/internal/util"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

//go:embed templates
var templates embed.FS

var ErrNoProject = errors.New("page: no project metadata")

// Data is everything one render needs.
type Data struct {
	Project  *metadata.Project
	CSSURL   string
	Autoplay bool
}

type view struct {
	Data
	Critical  template.CSS
	Bootstrap template.JS
}

type Assembler struct {
	tmpl      *template.Template
	critical  template.CSS
	bootstrap template.JS
	minifier  *minify.M
}

// New parses the embedded templates. Output is minified when minifyOutput is
// set.
func New(minifyOutput bool) (*Assembler, error) {
	tmpl, err := template.ParseFS(templates, "templates/page.html")
	if err != nil {
		return nil, fmt.Errorf("error parsing page template: %w", err)
	}
	critical, err := templates.ReadFile("templates/critical.css")
	if err != nil {
		return nil, fmt.Errorf("error reading critical css: %w", err)
	}
	bootstrap, err := templates.ReadFile("templates/bootstrap.js")
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap script: %w", err)
	}

	a := &Assembler{
		tmpl:      tmpl,
		critical:  template.CSS(critical),
		bootstrap: template.JS(bootstrap),
	}
	if minifyOutput {
		a.minifier = newMinifier()
	}
	return a, nil
}

func newMinifier() *minify.M {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc("text/css", css.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return m
}

func (a *Assembler) Render(data Data) ([]byte, error) {
	if data.Project == nil {
		return nil, ErrNoProject
	}

	var buf bytes.Buffer
	err := a.tmpl.ExecuteTemplate(&buf, "page.html", view{
		Data:      data,
		Critical:  a.critical,
		Bootstrap: a.bootstrap,
	})
	if err != nil {
		return nil, fmt.Errorf("error rendering page: %w", err)
	}

	if a.minifier == nil {
		return buf.Bytes(), nil
	}
	out, err := a.minifier.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("error minifying page: %w", err)
	}
	return out, nil
}

// Write renders data and replaces the file at path.
func (a *Assembler) Write(path string, data Data) error {
	out, err := a.Render(data)
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(path, out, 0o644); err != nil {
		return fmt.Errorf("error writing page: %w", err)
	}
	return nil
}

// CSSURL is where the bootstrap script fetches the stylesheet from. Builds
// destined for hosting use the project URL as the base; the dev server
// serves the file next to the page.
func CSSURL(mode config.Mode, projectURL, filename string) string {
	if mode != config.ModeBuild || projectURL == "" {
		return filename
	}
	return strings.TrimSuffix(projectURL, "/") + "/" + filename
}
