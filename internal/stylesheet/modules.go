package stylesheet

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/sjc5/kit/pkg/safecache"
)

//go:embed modules/*.scss
var modulesFS embed.FS

const moduleScheme = "zoetrope:"

var ErrUnknownModule = errors.New("unknown module")

// modules caches embedded module sources by name ("geometry").
var modules = safecache.NewMap(loadModule, func(name string) string { return name }, nil)

func loadModule(name string) (string, error) {
	data, err := fs.ReadFile(modulesFS, "modules/_"+name+".scss")
	if err != nil {
		return "", fmt.Errorf("%w %s%s", ErrUnknownModule, moduleScheme, name)
	}
	return string(data), nil
}

// ModuleSource returns the source behind a "zoetrope:<name>" URL.
func ModuleSource(url string) (string, error) {
	name, ok := strings.CutPrefix(url, moduleScheme)
	if !ok {
		return "", fmt.Errorf("%w %s", ErrUnknownModule, url)
	}
	return modules.Get(name)
}

// ModuleNames lists the embedded modules.
func ModuleNames() []string {
	entries, _ := fs.ReadDir(modulesFS, "modules")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(e.Name(), "_"), ".scss"))
	}
	return names
}
