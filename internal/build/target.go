// Package build runs the compile → render → notify cycle and owns every
// write to the output directory.
package build

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/metadata"
	"github.com/sjc5/zoetrope/internal/util"
)

var ErrNoStylesheet = errors.New("no stylesheet configured: pass one on the command line or set \"main\" in the descriptor")

// VersionTag distinguishes generated CSS filenames across builds.
type VersionTag string

const DevVersion VersionTag = "dev"

const gitShortHashLen = 7

// Target is where one build cycle reads from and writes to. It is computed
// fresh every cycle.
type Target struct {
	StylesheetPath string
	CSSPath        string
	CSSFilename    string
	HTMLPath       string
	OutputDir      string
}

// StylesheetPath is the configured stylesheet if any, else the project's
// "main" entry, resolved against the project directory.
func StylesheetPath(cfg *config.Config, project *metadata.Project) (string, error) {
	p := cfg.Stylesheet
	if p == "" && project != nil {
		p = project.Main
	}
	if p == "" {
		return "", ErrNoStylesheet
	}
	return cfg.Resolve(p), nil
}

func NewTarget(cfg *config.Config, stylesheetPath string, version VersionTag) *Target {
	outDir := cfg.GetCleanOutputDir()
	filename := util.GetVersionedFilename(stylesheetPath, string(version), ".css")
	return &Target{
		StylesheetPath: stylesheetPath,
		CSSPath:        filepath.Join(outDir, filename),
		CSSFilename:    filename,
		HTMLPath:       cfg.EntrypointPath(),
		OutputDir:      outDir,
	}
}

// ComputeVersion applies cfg.VersionPolicy. The hash policy covers the
// compiled CSS, so a change in any imported file yields a new name.
func ComputeVersion(cfg *config.Config, css string) (VersionTag, error) {
	switch cfg.VersionPolicy {
	case config.VersionDev:
		return DevVersion, nil
	case config.VersionGit:
		if ref := sanitizeRef(cfg.CommitRef); ref != "" {
			return VersionTag(ref), nil
		}
		return gitHeadVersion(cfg.GetCleanProjectDir())
	case config.VersionHash, "":
		return VersionTag(util.ContentHash([]byte(css))), nil
	}
	return "", fmt.Errorf("%w: unknown version policy %q", config.ErrInvalid, cfg.VersionPolicy)
}

func gitHeadVersion(dir string) (VersionTag, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("error opening git repository at %s: %w", dir, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("error reading git HEAD: %w", err)
	}
	return VersionTag(ref.Hash().String()[:gitShortHashLen]), nil
}

// sanitizeRef keeps a COMMIT_REF usable inside a filename.
func sanitizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			return r
		case r == '-' || r == '/':
			return '_'
		}
		return -1
	}, ref)
}
