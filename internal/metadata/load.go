package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DescriptorFiles lists the descriptor names tried, in order.
var DescriptorFiles = []string{"package.json", "zoetrope.yaml", "zoetrope.yml"}

var ErrDescriptorNotFound = errors.New("project descriptor not found")

type DescriptorError struct {
	Path string
	Err  error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("error parsing %s: %v", e.Path, e.Err)
}

func (e *DescriptorError) Unwrap() error { return e.Err }

// FindDescriptor returns the path of the first descriptor present in dir.
func FindDescriptor(dir string) (string, error) {
	for _, name := range DescriptorFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("error checking %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %s)", ErrDescriptorNotFound, dir, strings.Join(DescriptorFiles, ", "))
}

func Load(dir string) (*Project, error) {
	path, err := FindDescriptor(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	raw := map[string]any{}
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, &DescriptorError{Path: path, Err: err}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	return fromRaw(raw), nil
}

var scopePrefix = regexp.MustCompile(`^.+/`)

func fromRaw(raw map[string]any) *Project {
	p := &Project{
		Name:        scopePrefix.ReplaceAllString(str(raw["name"]), ""),
		Description: str(raw["description"]),
		Homepage:    str(raw["homepage"]),
		URL:         str(raw["url"]),
		Main:        str(raw["main"]),
		Files:       strList(raw["files"]),
	}

	author, authorURL := parseAuthor(raw["author"])
	p.Author = author
	if p.Homepage == "" {
		p.Homepage = authorURL
	}

	repo := raw["source"]
	if repo == nil {
		repo = raw["repository"]
	}
	switch v := repo.(type) {
	case string:
		p.Repository = normalizeRepository(v)
	case map[string]any:
		p.Repository = normalizeRepository(str(v["url"]))
	}

	return p
}

// "Name <mail@example.com> (https://example.com)"
var authorPattern = regexp.MustCompile(`^([^<(]*?)\s*(?:<[^>]*>)?\s*(?:\(([^)]*)\))?\s*$`)

func parseAuthor(v any) (name, url string) {
	switch a := v.(type) {
	case string:
		m := authorPattern.FindStringSubmatch(strings.TrimSpace(a))
		if m == nil {
			return strings.TrimSpace(a), ""
		}
		return m[1], m[2]
	case map[string]any:
		return str(a["name"]), str(a["url"])
	}
	return "", ""
}

// normalizeRepository turns npm-style repository strings into a browsable
// URL: "git+https://host/x.git" and "github:user/repo" both work.
func normalizeRepository(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "git+")
	s = strings.TrimSuffix(s, ".git")

	switch {
	case strings.HasPrefix(s, "github:"):
		return "https://github.com/" + strings.TrimPrefix(s, "github:")
	case strings.HasPrefix(s, "gitlab:"):
		return "https://gitlab.com/" + strings.TrimPrefix(s, "gitlab:")
	case strings.HasPrefix(s, "git://"):
		return "https://" + strings.TrimPrefix(s, "git://")
	case strings.HasPrefix(s, "ssh://git@"):
		return "https://" + strings.TrimPrefix(s, "ssh://git@")
	case strings.HasPrefix(s, "git@"):
		return "https://" + strings.Replace(strings.TrimPrefix(s, "git@"), ":", "/", 1)
	case !strings.Contains(s, "://") && strings.Count(s, "/") == 1:
		// npm shorthand "user/repo"
		return "https://github.com/" + s
	}
	return s
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func strList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := str(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
