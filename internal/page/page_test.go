package page

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/metadata"
)

func testProject() *metadata.Project {
	return &metadata.Project{
		Name:        "metadata",
		Description: "a demo about metadata",
		Author:      "zoetrope",
		Homepage:    "https://example.com",
		URL:         "https://example.com/metadata/",
		Repository:  "https://example.com/source",
		Files:       []string{"opengraph.png"},
	}
}

func mustNew(t *testing.T, minify bool) *Assembler {
	t.Helper()
	a, err := New(minify)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestRender(t *testing.T) {
	a := mustNew(t, false)
	out, err := a.Render(Data{Project: testProject(), CSSURL: "metadata-1a2b3c4d.css"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	page := string(out)

	for _, want := range []string{
		`<body data-mode="menu">`,
		`<h1 itemprop="name">metadata</h1>`,
		`<p itemprop="description">a demo about metadata</p>`,
		`<title>metadata</title>`,
		`<meta property="og:title" content="metadata">`,
		`<meta property="og:image" content="https://example.com/opengraph.png">`,
		`<meta name="twitter:card" content="summary_large_image">`,
		`<a href="https://example.com" target="_blank"><span itemprop="name">zoetrope</span></a>`,
		`href="https://example.com/source" class="source"`,
		`viewBox="0 0 256 48"`,
		`"metadata-1a2b3c4d.css"`,
		`256 - (256 * event.loaded) / event.total`,
		`--loadingBarTransitionDuration: 256ms;`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("Render() missing %q", want)
		}
	}
}

func TestRenderOptionalBlocks(t *testing.T) {
	a := mustNew(t, false)

	tests := []struct {
		name    string
		project metadata.Project
		want    []string
		notWant []string
	}{
		{
			name:    "no author",
			project: metadata.Project{Name: "x", Repository: "https://example.com/source"},
			want:    []string{`class="source"`},
			notWant: []string{`itemprop="creator"`},
		},
		{
			name:    "author without homepage",
			project: metadata.Project{Name: "x", Author: "zoetrope"},
			want:    []string{`<span itemprop="name">zoetrope</span>`},
			notWant: []string{`target="_blank"`, `class="source"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := a.Render(Data{Project: &tt.project, CSSURL: "x.css"})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(out), w) {
					t.Errorf("Render() missing %q", w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(string(out), w) {
					t.Errorf("Render() unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestRenderEscapes(t *testing.T) {
	a := mustNew(t, false)
	p := metadata.Project{Name: "<script>alert(1)</script>"}
	out, err := a.Render(Data{Project: &p, CSSURL: "x.css"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(string(out), "<script>alert(1)</script>") {
		t.Errorf("Render() did not escape the project name")
	}
}

func TestRenderAutoplay(t *testing.T) {
	a := mustNew(t, false)
	for _, autoplay := range []bool{true, false} {
		out, err := a.Render(Data{Project: testProject(), CSSURL: "x.css", Autoplay: autoplay})
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		want := regexp.MustCompile(fmt.Sprintf(`autoplay:\s*%v\s*}`, autoplay))
		if !want.Match(out) {
			t.Errorf("Render(Autoplay=%v) does not match %s", autoplay, want)
		}
	}
}

func TestRenderNoProject(t *testing.T) {
	a := mustNew(t, false)
	if _, err := a.Render(Data{}); !errors.Is(err, ErrNoProject) {
		t.Errorf("Render() error = %v, want %v", err, ErrNoProject)
	}
}

func TestWriteMinified(t *testing.T) {
	plain := mustNew(t, false)
	min := mustNew(t, true)
	data := Data{Project: testProject(), CSSURL: "x.css"}

	full, err := plain.Render(data)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := min.Write(path, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) >= len(full) {
		t.Errorf("minified page is %d bytes, unminified %d", len(got), len(full))
	}
	if !strings.Contains(string(got), `<h1 itemprop="name">metadata</h1>`) {
		t.Errorf("minified page lost the title heading")
	}
	if strings.Contains(string(got), "stale") {
		t.Errorf("Write() did not overwrite previous content")
	}
}

func TestCSSURL(t *testing.T) {
	tests := []struct {
		mode     config.Mode
		url      string
		filename string
		want     string
	}{
		{config.ModeBuild, "https://example.com/demo/", "demo-1.css", "https://example.com/demo/demo-1.css"},
		{config.ModeBuild, "https://example.com/demo", "demo-1.css", "https://example.com/demo/demo-1.css"},
		{config.ModeBuild, "", "demo-1.css", "demo-1.css"},
		{config.ModeServe, "https://example.com/demo/", "demo-1.css", "demo-1.css"},
	}
	for _, tt := range tests {
		if got := CSSURL(tt.mode, tt.url, tt.filename); got != tt.want {
			t.Errorf("CSSURL(%q, %q, %q) = %q, want %q", tt.mode, tt.url, tt.filename, got, tt.want)
		}
	}
}
