package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	ProjectDirKey = "ZOETROPE_DIR"
	CommitRefKey  = "COMMIT_REF"
	SassBinaryKey = "ZOETROPE_SASS"
	dotEnvFile    = ".env"
)

// ApplyEnv fills ProjectDir, CommitRef and SassBinary from the environment.
// A .env file in the project directory is loaded first; it never overrides
// variables that are already set.
func (c *Config) ApplyEnv() error {
	if c.ProjectDir == "" {
		c.ProjectDir = os.Getenv(ProjectDirKey)
	}
	if c.ProjectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("error getting working directory: %w", err)
		}
		c.ProjectDir = wd
	}

	abs, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return fmt.Errorf("error resolving project directory: %w", err)
	}
	c.ProjectDir = abs

	if err := loadDotEnv(abs); err != nil {
		return err
	}

	if c.CommitRef == "" {
		c.CommitRef = os.Getenv(CommitRefKey)
	}
	if c.SassBinary == "" {
		c.SassBinary = os.Getenv(SassBinaryKey)
	}
	return nil
}

func loadDotEnv(dir string) error {
	path := filepath.Join(dir, dotEnvFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	// godotenv.Load leaves existing variables alone.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}
