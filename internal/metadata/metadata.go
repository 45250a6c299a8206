// Package metadata loads the project descriptor that names, describes and
// credits a demo.
package metadata

import (
	"slices"
	"strings"
)

// Project is an immutable snapshot of the descriptor. It is loaded fresh on
// every build and never patched in place; use With to derive a new one.
type Project struct {
	Name        string
	Description string
	Author      string
	Homepage    string
	URL         string
	Repository  string
	Main        string
	Files       []string
}

// MetaTag is one <meta> element. Exactly one of Property or Name is set.
type MetaTag struct {
	Property string
	Name     string
	Content  string
}

// With returns a copy of p with string overrides applied. Recognised keys:
// title (alias name), description, url, author, homepage and source (alias
// repository). Unknown keys are ignored.
func (p *Project) With(overrides map[string]string) *Project {
	next := *p
	next.Files = slices.Clone(p.Files)
	for k, v := range overrides {
		switch strings.ToLower(k) {
		case "title", "name":
			next.Name = v
		case "description":
			next.Description = v
		case "url":
			next.URL = v
		case "author":
			next.Author = v
		case "homepage":
			next.Homepage = v
		case "source", "repository":
			next.Repository = normalizeRepository(v)
		}
	}
	return &next
}

func (p *Project) OpenGraph() []MetaTag {
	tags := []MetaTag{
		{Property: "og:title", Content: p.Name},
		{Property: "og:url", Content: p.URL},
		{Property: "og:description", Content: p.Description},
	}

	image := p.openGraphImage()
	if image == "" {
		return tags
	}

	base := p.Homepage
	if base == "" {
		base = p.URL
	}
	if base != "" {
		image = strings.TrimSuffix(base, "/") + "/" + image
	}

	return append(tags,
		MetaTag{Property: "og:image", Content: image},
		MetaTag{Property: "og:image:alt", Content: p.Description},
		MetaTag{Property: "og:image:width", Content: "1200"},
		MetaTag{Property: "og:image:height", Content: "630"},
	)
}

func (p *Project) Twitter() []MetaTag {
	return []MetaTag{
		{Name: "twitter:card", Content: "summary_large_image"},
		{Name: "twitter:text:title", Content: p.Name},
		{Name: "twitter:description", Content: p.Description},
	}
}

func (p *Project) openGraphImage() string {
	for _, f := range p.Files {
		if strings.Contains(f, "opengraph") {
			return f
		}
	}
	return ""
}
