package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"kiln/internal/driver"
	"kiln/internal/project"
)

const noManifestMessage = "no kiln.toml found here or in any parent directory (run `kiln init` first)"

var errNoManifest = errors.New(noManifestMessage)

// loadWorkspace finds kiln.toml from dir, or from --project when dir is
// empty, and loads the workspace it roots.
func loadWorkspace(dir string) (*driver.Workspace, error) {
	if dir == "" {
		dir = viper.GetString("project")
	}
	if info, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", dir, err)
	} else if !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	manifestPath, ok, err := project.FindManifest(dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoManifest
	}
	return driver.LoadWorkspace(manifestPath)
}

func argDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// formatPathForOutput shortens path relative to root when it lies below.
func formatPathForOutput(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	if strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
