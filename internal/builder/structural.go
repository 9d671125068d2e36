package builder

import (
	"bytes"
	"context"
	"path"
	"slices"

	"kiln/internal/artifact"
	"kiln/internal/frontend"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

func artifactPath(outputDir, typeName string) string {
	return artifact.PathFor(outputDir, typeName)
}

// writeIncremental writes an artifact, comparing it with the one on disk
// first. New top-level types make their dependents recompile.
func (b *image) writeIncremental(ctx context.Context, p string, out frontend.Output, u *frontend.SourceUnit) error {
	old, err := b.fs.ReadFile(p)
	switch {
	case err == nil:
		if b.structurallyChanged(ctx, out.TypeName, old, out.Bytes) || u.UpdateArtifact {
			return b.write(p, out.Bytes)
		}
		return nil
	case !workspace.IsNotExist(err):
		return &InternalError{Op: "read " + p, Err: err, InCompiler: true}
	}

	if !out.Nested {
		b.addDependentsOf(ctx, out.TypeName, true)
	}
	variant, err := workspace.CaseVariant(b.fs, p)
	if err != nil {
		return &InternalError{Op: "list " + path.Dir(p), Err: err, InCompiler: true}
	}
	if variant != "" {
		oldName := path.Base(variant)
		oldName = oldName[:len(oldName)-len(artifact.Ext)]
		if !b.definedBySameUnit(u, oldName) {
			return abort("artifact differs only in case from an existing one", out.TypeName)
		}
		// a type of the unit was renamed by case only
		if err := b.removeFile(ctx, variant); err != nil {
			return err
		}
	}
	return b.write(p, out.Bytes)
}

func (b *image) definedBySameUnit(u *frontend.SourceUnit, simple string) bool {
	if names, ok := b.state.DefinedTypeNamesFor(u.Locator); ok {
		return slices.Contains(names, simple)
	}
	return simple == u.MainTypeName()
}

// structurallyChanged reports whether next must be written over old. A
// shape change records typeName as structurally changed and schedules
// its dependents.
func (b *image) structurallyChanged(ctx context.Context, typeName string, old, next []byte) bool {
	if bytes.Equal(old, next) {
		return false
	}
	detail := typeName
	oldCF, err := artifact.Decode(old)
	if err == nil {
		var nextCF *artifact.ClassFile
		if nextCF, err = artifact.Decode(next); err == nil {
			if oldCF.IsLocalOrAnonymous() || !artifact.HasStructuralChanges(oldCF, nextCF) {
				return true
			}
			detail = artifact.Describe(oldCF) + " -> " + artifact.Describe(nextCF)
		}
	}
	trace.Log(ctx, trace.ScopeModule, "structural.change", detail)
	b.addDependentsOf(ctx, typeName, true)
	b.state.WasStructurallyChanged(typeName)
	return true
}
