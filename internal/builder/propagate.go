package builder

import (
	"context"
	"path"
	"strings"

	"kiln/internal/project"
	"kiln/internal/refs"
	"kiln/internal/trace"
)

// addDependentsOf records typePath ("p/q/X", "p/q/X$M" or a package
// path) so the units referencing it are compiled in the next pass.
func (b *image) addDependentsOf(ctx context.Context, typePath string, structural bool) {
	b.addDependentsTo(ctx, b.affected, typePath, structural)
}

func (b *image) addDependentsTo(ctx context.Context, names *refs.NameSet, typePath string, structural bool) {
	if structural && path.Base(typePath) == project.PackageInfoName {
		typePath = path.Dir(typePath)
		if typePath == "." {
			return
		}
	}
	if structural && !b.hasStructuralChanges {
		b.state.TagAsStructurallyChanged()
		b.hasStructuralChanges = true
	}
	names.AddRoot(refs.RootOf(typePath))
	pkg, simple := refs.SplitTypeName(typePath)
	wasNew := names.AddQualified(pkg)
	wasNew = names.AddSimple(refs.OuterSimpleName(simple)) || wasNew
	if wasNew {
		trace.Log(ctx, trace.ScopeModule, "dependents.of", typePath)
	}
}

// addAffectedSourceFiles queues every unit whose references include the
// recorded names, then clears them.
func (b *image) addAffectedSourceFiles(ctx context.Context) {
	if b.affected.Empty() {
		return
	}
	b.addAffectedFrom(ctx, b.affected, nil)
	b.affected.Clear()
}

// addAffectedFrom queues the units matching names. restrict, when not
// nil, limits the candidates to the given locators.
func (b *image) addAffectedFrom(ctx context.Context, names *refs.NameSet, restrict map[string]bool) {
	q := names.Intern(b.state.Names)
	for _, loc := range b.state.Locators() {
		if restrict != nil && !restrict[loc] {
			continue
		}
		c, _ := b.state.References(loc)
		if !c.Includes(q) {
			continue
		}
		if b.pending.has(loc) {
			continue
		}
		if b.compiledAllAtOnce && b.previous.has(loc) {
			// already compiled with these names visible
			continue
		}
		u := b.findSourceUnit(loc, true)
		if u == nil {
			continue
		}
		trace.Log(ctx, trace.ScopeModule, "affected", loc)
		b.pending.add(u)
	}
}

// removeArtifact deletes the artifact of typePath. A removed top-level
// type is forgotten and its dependents are recompiled.
func (b *image) removeArtifact(ctx context.Context, typePath, outputDir string) error {
	if !strings.Contains(path.Base(typePath), "$") {
		b.state.RemoveQualifiedTypeName(typePath)
		b.addDependentsOf(ctx, typePath, true)
	}
	return b.removeFile(ctx, artifactPath(outputDir, typePath))
}

func (b *image) removeFile(ctx context.Context, p string) error {
	if !b.fs.Exists(p) {
		return nil
	}
	trace.Log(ctx, trace.ScopeModule, "remove", p)
	if err := b.fs.Remove(p); err != nil {
		return &InternalError{Op: "remove " + p, Err: err}
	}
	return nil
}

// removeSecondaryTypes deletes the types compiled units stopped
// defining.
func (b *image) removeSecondaryTypes(ctx context.Context) error {
	if len(b.secondaryToRemove) == 0 {
		return nil
	}
	for out, names := range b.secondaryToRemove {
		for _, typeName := range names {
			trace.Log(ctx, trace.ScopeModule, "remove.secondary", typeName)
			if err := b.removeArtifact(ctx, typeName, out); err != nil {
				return err
			}
		}
	}
	clear(b.secondaryToRemove)
	// the removals may affect units compiled in the last pass
	b.previous = nil
	return nil
}
