package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sjc5/kit/pkg/fsutil"
	"github.com/sjc5/kit/pkg/typed"
	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/util"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentCopies = 8

var ErrAssetNotFound = errors.New("asset not found")

// CopyResult lists what CopyAssets did. Warnings combines every per-asset
// problem; use multierr.Errors to split it.
type CopyResult struct {
	Copied   []string
	Warnings error
}

// CopyAssets copies the project's declared files (glob patterns allowed)
// into the output directory under the same relative names. Missing or
// unreadable assets are reported as warnings, never as an error. The
// returned error is non-nil only when ctx is cancelled.
func CopyAssets(ctx context.Context, cfg *config.Config, patterns []string, logger util.Logger) (*CopyResult, error) {
	srcDir := cfg.GetCleanProjectDir()
	dstDir := cfg.GetCleanOutputDir()
	res := &CopyResult{}
	if srcDir == dstDir || len(patterns) == 0 {
		return res, nil
	}

	var (
		mu       sync.Mutex
		warnings error
		copied   typed.SyncMap[string, string]
	)
	warn := func(err error) {
		logger.Warningf("%v", err)
		mu.Lock()
		warnings = multierr.Append(warnings, err)
		mu.Unlock()
	}

	fsys := os.DirFS(srcDir)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCopies)

	for _, rel := range expandPatterns(fsys, patterns, warn) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(dstDir, filepath.FromSlash(rel))
			if err := copyAsset(filepath.Join(srcDir, filepath.FromSlash(rel)), dst); err != nil {
				warn(fmt.Errorf("error copying %s: %w", rel, err))
				return nil
			}
			copied.Store(rel, dst)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	copied.Range(func(rel, _ string) bool {
		res.Copied = append(res.Copied, rel)
		return true
	})
	slices.Sort(res.Copied)
	res.Warnings = warnings
	logger.Debugf("copied %d asset(s) to %s", len(res.Copied), dstDir)
	return res, nil
}

func expandPatterns(fsys fs.FS, patterns []string, warn func(error)) []string {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(filepath.Clean(pattern))
		if !doublestar.ValidatePattern(pattern) {
			warn(fmt.Errorf("invalid asset pattern %q", pattern))
			continue
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			warn(fmt.Errorf("error matching %q: %w", pattern, err))
			continue
		}
		if len(matches) == 0 {
			warn(fmt.Errorf("%w: %s", ErrAssetNotFound, pattern))
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func copyAsset(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return fsutil.CopyFile(src, dst)
}
