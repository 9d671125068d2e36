package builder

import (
	"context"
	"io/fs"
	"strings"

	"kiln/internal/artifact"
	"kiln/internal/project"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

// walkFiles visits everything below dir, parents first. For folders fn
// decides whether to descend. A missing dir visits nothing.
func walkFiles(fsys workspace.FileSystem, dir string, fn func(p string, isDir bool) (bool, error)) error {
	if !fsys.Exists(dir) {
		return nil
	}
	return fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		p = workspace.Clean(p)
		if p == workspace.Clean(dir) {
			return nil
		}
		descend, err := fn(p, d.IsDir())
		if err != nil {
			return err
		}
		if d.IsDir() && !descend {
			return fs.SkipDir
		}
		return nil
	})
}

// hasIndependentOutput reports whether an output folder holds nothing
// but build products.
func (b *image) hasIndependentOutput(out string) bool {
	if out == "." {
		return false
	}
	for _, r := range b.p.SourceRoots {
		if r.Dir == out {
			return false
		}
	}
	return true
}

// isProtected reports whether p must survive cleaning an output folder.
func (b *image) isProtected(p string) bool {
	if p == project.StateDir || p == project.ManifestName {
		return true
	}
	for _, r := range b.p.SourceRoots {
		if r.Dir == p || strings.HasPrefix(r.Dir, p+"/") {
			return true
		}
	}
	return false
}

// cleanOutputs empties independent output folders and deletes artifacts
// from shared ones.
func (b *image) cleanOutputs(ctx context.Context) error {
	ctx, span := trace.Start(ctx, trace.ScopePass, "clean.outputs")
	defer span.End("")
	for _, out := range b.p.Outputs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.hasIndependentOutput(out) {
			entries, err := b.fs.ReadDir(out)
			if err != nil && !workspace.IsNotExist(err) {
				return &InternalError{Op: "list " + out, Err: err}
			}
			for _, e := range entries {
				p := workspace.Join(out, e.Name())
				if b.isProtected(p) {
					continue
				}
				if err := b.fs.RemoveAll(p); err != nil {
					return &InternalError{Op: "clean " + p, Err: err}
				}
			}
		} else {
			var doomed []string
			err := walkFiles(b.fs, out, func(p string, isDir bool) (bool, error) {
				if isDir {
					return p != project.StateDir, nil
				}
				if artifact.IsArtifact(p) {
					doomed = append(doomed, p)
				}
				return true, nil
			})
			if err != nil {
				return &InternalError{Op: "clean " + out, Err: err}
			}
			for _, p := range doomed {
				if err := b.removeFile(ctx, p); err != nil {
					return err
				}
			}
		}
		if err := b.fs.MkdirAll(out, 0o755); err != nil {
			return &InternalError{Op: "create " + out, Err: err}
		}
	}
	return nil
}

// copyResources copies every non-source file of the source roots into
// their independent output folders.
func (b *image) copyResources(ctx context.Context) error {
	if !b.p.Options.CopyResources {
		return nil
	}
	for _, r := range b.p.SourceRoots {
		if !b.hasIndependentOutput(r.Output) {
			continue
		}
		err := walkFiles(b.fs, r.Dir, func(p string, isDir bool) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if b.excludedFromRoot(r, p) {
				return false, nil
			}
			rel := r.Rel(p)
			if isDir {
				return !r.FolderExcluded(rel), nil
			}
			if project.IsSource(p) || artifact.IsArtifact(p) || !r.Includes(rel) || b.p.IsFilteredResource(rel) {
				return true, nil
			}
			target := workspace.Join(r.Output, rel)
			if b.fs.Exists(target) {
				// two roots sharing an output; the first copy wins
				trace.Log(ctx, trace.ScopeModule, "resource.duplicate", target)
				return true, nil
			}
			return true, b.copyFile(p, target)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *image) copyFile(from, to string) error {
	data, err := b.fs.ReadFile(from)
	if err != nil {
		return &InternalError{Op: "read " + from, Err: err}
	}
	if err := b.fs.WriteFile(to, data, 0o644); err != nil {
		return &InternalError{Op: "copy " + from, Err: err}
	}
	return nil
}
