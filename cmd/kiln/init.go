package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"kiln/internal/project"
)

var initCmd = &cobra.Command{
	Use:   "init [path|name]",
	Short: "Initialize a new kiln project",
	Long: `Initialize a new kiln project by creating a project manifest (kiln.toml)
and a source folder with a starter unit. If [path|name] is omitted, initializes
the current directory. If a non-existing name is provided, a directory will be
created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

// runInit creates kiln.toml and src/main/Main.kl in the target directory,
// creating the directory when needed. The project is named after the
// directory. An existing manifest is never overwritten.
func runInit(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	target := wd
	if len(args) > 0 && args[0] != "." {
		target = args[0]
		if !filepath.IsAbs(target) {
			target = filepath.Join(wd, target)
		}
	}

	if st, err := os.Stat(target); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err = os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", target, err)
		}
	} else if !st.IsDir() {
		return fmt.Errorf("%q is not a directory", target)
	}

	name := strings.TrimSpace(filepath.Base(target))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "kiln-project"
	}

	manifestPath := filepath.Join(target, project.ManifestName)
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("project already initialized: %s exists", manifestPath)
	}
	if err := os.WriteFile(manifestPath, []byte(project.DefaultManifest(name)), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	mainRel := filepath.Join(project.DefaultSourceDir, "main", "Main"+project.SourceExt)
	mainPath := filepath.Join(target, mainRel)
	createdMain := false
	if _, err := os.Stat(mainPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(mainPath), 0o755); err != nil {
			return fmt.Errorf("failed to create source folder: %w", err)
		}
		if err := os.WriteFile(mainPath, []byte(defaultMainUnit), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", mainRel, err)
		}
		createdMain = true
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized kiln project in %s\n", formatPathForOutput(wd, target))
	fmt.Fprintf(out, "  - %s\n", project.ManifestName)
	if createdMain {
		fmt.Fprintf(out, "  - %s\n", filepath.ToSlash(mainRel))
	} else {
		fmt.Fprintf(out, "  - %s (existing)\n", filepath.ToSlash(mainRel))
	}
	return nil
}

const defaultMainUnit = `package main;

public class Main {
    public static void main(String[] args) {
        // TODO: start here
    }
}
`
