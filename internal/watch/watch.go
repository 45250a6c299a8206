// Package watch turns file system events on a demo's sources into debounced
// rebuild requests.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/metadata"
	"github.com/sjc5/zoetrope/internal/util"
)

type Options struct {
	// Stylesheet is the absolute path of the compiled stylesheet.
	Stylesheet string
	// ProjectDir holds the descriptor.
	ProjectDir string
	Debounce   time.Duration
	Logger     util.Logger
}

type Watcher struct {
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *debouncer
	changes   chan []string

	mu      sync.Mutex
	dirs    map[string]bool
	tracked map[string]bool
}

func New(opts Options) (*Watcher, error) {
	if opts.Stylesheet == "" {
		return nil, errors.New("watch: no stylesheet")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = config.DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = util.NopLogger()
	}
	opts.Stylesheet = filepath.Clean(opts.Stylesheet)
	opts.ProjectDir = filepath.Clean(opts.ProjectDir)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating watcher: %w", err)
	}

	dirs := []string{filepath.Dir(opts.Stylesheet)}
	if !slices.Contains(dirs, opts.ProjectDir) {
		dirs = append(dirs, opts.ProjectDir)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("error watching %s: %w", dir, err)
		}
	}

	w := &Watcher{
		opts:    opts,
		fsw:     fsw,
		changes: make(chan []string, 1),
		dirs:    map[string]bool{},
		tracked: map[string]bool{},
	}
	for _, dir := range dirs {
		w.dirs[dir] = true
	}
	w.debouncer = newDebouncer(opts.Debounce, w.processBatchedEvents)
	return w, nil
}

// Run delivers one call to onChange per debounced batch of relevant events
// until ctx is done. onChange receives the changed paths, sorted.
func (w *Watcher) Run(ctx context.Context, onChange func(paths []string)) error {
	defer w.debouncer.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.isRelevant(evt) {
				w.opts.Logger.Debugf("%s %s", evt.Op, filepath.Base(evt.Name))
				w.debouncer.addEvent(evt)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warningf("watcher error: %v", err)
		case paths := <-w.changes:
			onChange(paths)
		}
	}
}

// Track replaces the set of extra files that feed the build, typically the
// stylesheets the last compile loaded. Their directories are watched from
// now on.
func (w *Watcher) Track(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracked = make(map[string]bool, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		w.tracked[p] = true
		dir := filepath.Dir(p)
		if w.dirs[dir] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			w.opts.Logger.Warningf("error watching %s: %v", dir, err)
			continue
		}
		w.dirs[dir] = true
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) processBatchedEvents(events []fsnotify.Event) {
	seen := map[string]bool{}
	var paths []string
	for _, evt := range events {
		if !seen[evt.Name] {
			seen[evt.Name] = true
			paths = append(paths, evt.Name)
		}
	}
	slices.Sort(paths)

	select {
	case w.changes <- paths:
	default:
		// A batch is still waiting for Run; it already triggers a rebuild.
	}
}

func (w *Watcher) isRelevant(evt fsnotify.Event) bool {
	if isChmodOnly(evt) || shouldIgnore(evt.Name) {
		return false
	}
	return w.isSource(filepath.Clean(evt.Name))
}

// isSource reports whether path feeds the build: the stylesheet, a tracked
// file, a Sass partial next to the stylesheet, or the descriptor.
func (w *Watcher) isSource(path string) bool {
	if path == w.opts.Stylesheet {
		return true
	}
	w.mu.Lock()
	tracked := w.tracked[path]
	w.mu.Unlock()
	if tracked {
		return true
	}
	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	if dir == filepath.Dir(w.opts.Stylesheet) && isPartial(base) {
		return true
	}
	return dir == w.opts.ProjectDir && slices.Contains(metadata.DescriptorFiles, base)
}

func isPartial(base string) bool {
	if !strings.HasPrefix(base, "_") {
		return false
	}
	switch filepath.Ext(base) {
	case ".scss", ".sass", ".css":
		return true
	}
	return false
}

func isChmodOnly(evt fsnotify.Event) bool {
	return !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename)
}

// shouldIgnore matches editor swap and backup files.
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, ".#") ||
		(strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"))
}
