package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	c := New(ModeServe)
	if c.Port != 8080 || c.Entrypoint != "index.html" || !c.SkipMenu || !c.UI || !c.Cleanup {
		t.Errorf("New(ModeServe) = %+v, want port 8080, entrypoint index.html, skipMenu/ui/cleanup true", c)
	}
	if c.Minify {
		t.Errorf("serve mode should not minify by default")
	}
	if !New(ModeBuild).Minify {
		t.Errorf("build mode should minify by default")
	}
	if c.Debounce != DefaultDebounce {
		t.Errorf("Debounce = %v, want %v", c.Debounce, DefaultDebounce)
	}
}

func TestAutoplay(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		skipMenu bool
		want     bool
	}{
		{"ServeSkip", ModeServe, true, true},
		{"ServeMenu", ModeServe, false, false},
		{"BuildSkip", ModeBuild, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.mode)
			c.SkipMenu = tt.skipMenu
			if got := c.Autoplay(); got != tt.want {
				t.Errorf("Autoplay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"BadMode", func(c *Config) { c.Mode = "deploy" }, true},
		{"BadPolicy", func(c *Config) { c.VersionPolicy = "semver" }, true},
		{"BadEngine", func(c *Config) { c.Engine = "less" }, true},
		{"NoProjectDir", func(c *Config) { c.ProjectDir = "" }, true},
		{"AbsEntrypoint", func(c *Config) { c.Entrypoint = "/tmp/index.html" }, true},
		{"NonHTMLEntrypoint", func(c *Config) { c.Entrypoint = "index.txt" }, true},
		{"BadPort", func(c *Config) { c.Port = 70000 }, true},
		{"NoDebounce", func(c *Config) { c.Debounce = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(ModeBuild)
			c.ProjectDir = t.TempDir()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	c := New(ModeBuild)
	c.ProjectDir = "/work/demo/"

	if got := c.GetCleanOutputDir(); got != "/work/demo/_site" {
		t.Errorf("GetCleanOutputDir() = %q, want %q", got, "/work/demo/_site")
	}
	c.OutputDir = "dist"
	if got := c.EntrypointPath(); got != "/work/demo/dist/index.html" {
		t.Errorf("EntrypointPath() = %q, want %q", got, "/work/demo/dist/index.html")
	}
	if got := c.Resolve("/elsewhere/a.scss"); got != "/elsewhere/a.scss" {
		t.Errorf("Resolve(abs) = %q", got)
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := "COMMIT_REF=fromdotenv\nZOETROPE_SASS=/opt/sass\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(envFile), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ProjectDirKey, dir)
	t.Setenv(CommitRefKey, "fromshell")
	t.Setenv(SassBinaryKey, "")
	os.Unsetenv(SassBinaryKey)

	c := New(ModeBuild)
	if err := c.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if c.ProjectDir != dir {
		t.Errorf("ProjectDir = %q, want %q", c.ProjectDir, dir)
	}
	if c.CommitRef != "fromshell" {
		t.Errorf("CommitRef = %q, want the shell value to win over .env", c.CommitRef)
	}
	if c.SassBinary != "/opt/sass" {
		t.Errorf("SassBinary = %q, want %q from .env", c.SassBinary, "/opt/sass")
	}
}
