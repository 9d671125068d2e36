package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kiln/internal/project"
	"kiln/internal/trace"
)

// CleanOptions select what Clean removes.
type CleanOptions struct {
	// StateOnly keeps the output folders and only forgets the saved
	// state, forcing the next build to be full.
	StateOnly bool
}

// Clean removes the build products of every project in ws.
func Clean(ctx context.Context, ws *Workspace, opts CleanOptions) error {
	var errs []error
	for _, p := range ws.Projects() {
		if err := ctx.Err(); err != nil {
			return err
		}
		errs = append(errs, cleanProject(ctx, p, opts))
	}
	return errors.Join(errs...)
}

func cleanProject(ctx context.Context, p *project.Project, opts CleanOptions) error {
	trace.Log(ctx, trace.ScopeDriver, "clean", p.Name)
	if err := os.RemoveAll(p.StatePath()); err != nil {
		return fmt.Errorf("clean %s: %w", p.Name, err)
	}
	if opts.StateOnly {
		return nil
	}
	for _, out := range p.Outputs() {
		if !independentOutput(p, out) {
			// source files live there; the next full build deletes the
			// artifacts
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.Root, filepath.FromSlash(out))); err != nil {
			return fmt.Errorf("clean %s: %w", p.Name, err)
		}
	}
	return nil
}

func independentOutput(p *project.Project, out string) bool {
	if out == "." {
		return false
	}
	for _, r := range p.SourceRoots {
		if r.Dir == out {
			return false
		}
	}
	return true
}
