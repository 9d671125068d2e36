package builder

import (
	"context"
	"fmt"
	"strings"

	"kiln/internal/artifact"
	"kiln/internal/delta"
	"kiln/internal/frontend"
	"kiln/internal/project"
	"kiln/internal/refs"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

// incrementalBuild compiles the units a change can affect, then keeps
// compiling their dependents until no structural change is left.
func (b *image) incrementalBuild(ctx context.Context, req *Request) error {
	ctx, span := trace.Start(ctx, trace.ScopePass, "build.incremental")
	defer span.End("")

	if missing := b.missingPrereqOutput(); missing != "" {
		trace.Log(ctx, trace.ScopePass, "prereq.output.missing", missing)
		units, err := b.addAllSourceFiles(ctx)
		if err != nil {
			return err
		}
		for _, u := range units {
			b.pending.add(u)
		}
	} else {
		if err := b.findSourceFiles(ctx, req.Delta); err != nil {
			return err
		}
		for _, pr := range b.cfg.Prereqs {
			if err := b.findAffectedBinaries(ctx, pr, req.PrereqDeltas[pr.Project.Root]); err != nil {
				return err
			}
		}
	}
	return b.compileLoop(ctx, false)
}

func (b *image) missingPrereqOutput() string {
	for _, pr := range b.cfg.Prereqs {
		for _, out := range pr.Project.Outputs() {
			if !pr.FS.Exists(out) {
				return pr.Project.Name + ":" + out
			}
		}
	}
	return ""
}

// compileLoop runs passes while units are pending. Past the loop ceiling
// an incremental build aborts; a follow-up of a batch build just stops.
func (b *image) compileLoop(ctx context.Context, afterBatch bool) error {
	b.addAffectedSourceFiles(ctx)
	for b.pending.len() > 0 {
		b.loops++
		if b.loops > b.maxLoop {
			if afterBatch {
				trace.Log(ctx, trace.ScopePass, "loop.ceiling", fmt.Sprint(b.pending.len()))
				return nil
			}
			return abort(fmt.Sprintf("exceeded the compile loop ceiling of %d", b.maxLoop), "")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		units := b.pending.units()
		b.resetCollections()
		for _, u := range units {
			b.queue.add(u.Locator)
		}
		trace.Log(ctx, trace.ScopePass, "loop", fmt.Sprintf("%d: %d units", b.loops, len(units)))
		if err := b.compile(ctx, units); err != nil {
			return err
		}
		if err := b.removeSecondaryTypes(ctx); err != nil {
			return err
		}
		b.addAffectedSourceFiles(ctx)
	}
	return nil
}

func (b *image) resetCollections() {
	if b.pending.len() > 0 {
		b.previous = b.pending.clone()
	} else {
		b.previous = nil
	}
	b.pending.clear()
	b.affected.Clear()
	b.queue.clear()
}

// findSourceFiles walks the project delta of every source root.
func (b *image) findSourceFiles(ctx context.Context, d *delta.Delta) error {
	if d.Empty() {
		return nil
	}
	visited := make(map[string]bool)
	for _, r := range b.p.SourceRoots {
		if b.p.Options.RecreateModifiedArtifacts && b.hasIndependentOutput(r.Output) && !visited[r.Output] {
			visited[r.Output] = true
			if od := d.Find(r.Output); od != nil {
				if od.Kind == delta.Removed {
					return abort("output folder "+r.Output+" was removed", "")
				}
				if err := b.checkArtifactChanges(od, r.Output); err != nil {
					return err
				}
			}
		}
		var sd *delta.Delta
		if r.Dir == "." {
			sd = d
		} else {
			sd = d.Find(r.Dir)
		}
		if sd == nil {
			continue
		}
		if sd.Kind == delta.Removed {
			return abort("source root "+r.Dir+" was removed", "")
		}
		for _, c := range sd.Children {
			if err := b.findSourceFilesIn(ctx, c, r); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// checkArtifactChanges aborts when an artifact of a known type changed
// outside the builder.
func (b *image) checkArtifactChanges(d *delta.Delta, out string) error {
	var err error
	d.Walk(func(n *delta.Delta) {
		if err != nil || n.Dir || !artifact.IsArtifact(n.Path) {
			return
		}
		if typeName, ok := artifact.TypeNameFor(out, n.Path); ok && b.state.IsKnownType(typeName) {
			err = abort("artifact "+n.Kind.String()+" outside the build", typeName)
		}
	})
	return err
}

func (b *image) findSourceFilesIn(ctx context.Context, d *delta.Delta, r *project.SourceRoot) error {
	if b.excludedFromRoot(r, d.Path) {
		return nil
	}
	rel := r.Rel(d.Path)
	if d.Dir {
		return b.folderChanged(ctx, d, r, rel)
	}

	switch {
	case project.IsSource(d.Path):
		if !r.Includes(rel) {
			return nil
		}
		return b.sourceChanged(ctx, d, r, rel)
	case artifact.IsArtifact(d.Path):
		// artifacts in a root that is its own output belong to the build
		if typeName := strings.TrimSuffix(rel, artifact.Ext); b.state.IsKnownType(typeName) {
			return abort("artifact "+d.Kind.String()+" in a source root", typeName)
		}
		return nil
	}
	return b.resourceChanged(ctx, d, r, rel)
}

func (b *image) folderChanged(ctx context.Context, d *delta.Delta, r *project.SourceRoot, pkg string) error {
	if r.FolderExcluded(pkg) {
		return nil
	}
	switch d.Kind {
	case delta.Added:
		if b.hasIndependentOutput(r.Output) {
			if err := b.fs.MkdirAll(workspace.Join(r.Output, pkg), 0o755); err != nil {
				return &InternalError{Op: "create output folder " + pkg, Err: err}
			}
		}
		if len(b.p.SourceRoots) > 1 && b.state.IsKnownPackage(pkg) {
			trace.Log(ctx, trace.ScopeModule, "package.known", pkg)
		} else {
			b.addDependentsOf(ctx, pkg, true)
		}
	case delta.Removed:
		if b.packageInOtherRoot(r, pkg) {
			// only its files went away
			break
		}
		if b.hasIndependentOutput(r.Output) {
			if err := b.fs.RemoveAll(workspace.Join(r.Output, pkg)); err != nil {
				return &InternalError{Op: "remove output folder " + pkg, Err: err}
			}
		}
		b.addDependentsOf(ctx, pkg, true)
		b.state.RemovePackage(d.Path)
		if b.cfg.Markers != nil {
			b.cfg.Markers.RemoveUnder(d.Path)
		}
		return nil
	}
	for _, c := range d.Children {
		if err := b.findSourceFilesIn(ctx, c, r); err != nil {
			return err
		}
	}
	return nil
}

func (b *image) packageInOtherRoot(r *project.SourceRoot, pkg string) bool {
	for _, other := range b.p.SourceRoots {
		if other != r && isDir(b.fs, workspace.Join(other.Dir, pkg)) {
			return true
		}
	}
	return false
}

func (b *image) sourceChanged(ctx context.Context, d *delta.Delta, r *project.SourceRoot, rel string) error {
	typePath := project.TypeNameFor(rel)
	switch d.Kind {
	case delta.Added:
		trace.Log(ctx, trace.ScopeModule, "source.added", d.Path)
		b.pending.add(frontend.NewSourceUnit(r, d.Path, true))
		// a duplicate would only report its error twice
		if !b.state.IsDuplicateLocator(typePath, d.Path) {
			b.addDependentsOf(ctx, typePath, true)
		}
	case delta.Removed:
		trace.Log(ctx, trace.ScopeModule, "source.removed", d.Path)
		names, ok := b.state.DefinedTypeNamesFor(d.Path)
		if !ok {
			if err := b.removeArtifact(ctx, typePath, r.Output); err != nil {
				return err
			}
		} else {
			b.addDependentsOf(ctx, typePath, true)
			pkg, _ := refs.SplitTypeName(typePath)
			for _, name := range names {
				if err := b.removeArtifact(ctx, joinPackage(pkg, name), r.Output); err != nil {
					return err
				}
			}
		}
		b.state.RemoveLocator(d.Path)
		if b.cfg.Markers != nil {
			b.cfg.Markers.Remove(d.Path)
		}
	case delta.Changed:
		if !d.Content {
			return nil
		}
		trace.Log(ctx, trace.ScopeModule, "source.changed", d.Path)
		b.pending.add(frontend.NewSourceUnit(r, d.Path, true))
	}
	return nil
}

func (b *image) resourceChanged(ctx context.Context, d *delta.Delta, r *project.SourceRoot, rel string) error {
	if !b.p.Options.CopyResources || !b.hasIndependentOutput(r.Output) {
		return nil
	}
	if !r.Includes(rel) || b.p.IsFilteredResource(rel) {
		return nil
	}
	target := workspace.Join(r.Output, rel)
	switch d.Kind {
	case delta.Added, delta.Changed:
		if d.Kind == delta.Changed && !d.Content {
			return nil
		}
		if err := b.removeFile(ctx, target); err != nil {
			return err
		}
		trace.Log(ctx, trace.ScopeModule, "resource.copy", d.Path)
		return b.copyFile(d.Path, target)
	case delta.Removed:
		trace.Log(ctx, trace.ScopeModule, "resource.remove", target)
		return b.removeFile(ctx, target)
	}
	return nil
}

// findAffectedBinaries turns changes to a prerequisite's output folders
// into dependents to recompile.
func (b *image) findAffectedBinaries(ctx context.Context, pr *Prereq, d *delta.Delta) error {
	if d.Empty() {
		return nil
	}
	if pr.State != nil && !b.state.PrereqChanged(pr.State) {
		trace.Log(ctx, trace.ScopePass, "prereq.unchanged", pr.Project.Name)
		return nil
	}
	changed := b.state.StructurallyChangedTypes(pr.State)
	for _, out := range pr.Project.Outputs() {
		bd := d.Find(out)
		if bd == nil {
			continue
		}
		if bd.Kind == delta.Added || bd.Kind == delta.Removed {
			return abort("prerequisite output folder "+pr.Project.Name+":"+out+" was "+bd.Kind.String(), "")
		}
		for _, c := range bd.Children {
			b.binaryChanged(ctx, c, out, changed)
		}
	}
	return nil
}

func (b *image) binaryChanged(ctx context.Context, d *delta.Delta, out string, changed map[string]struct{}) {
	rel := d.Path
	if out != "." {
		rel = strings.TrimPrefix(rel, out+"/")
	}
	if d.Dir {
		switch d.Kind {
		case delta.Added:
			if !b.state.IsKnownPackage(rel) {
				b.addDependentsOf(ctx, rel, false)
				return
			}
		case delta.Removed:
			if !b.env.IsPackage(ctx, rel) {
				b.addDependentsOf(ctx, rel, false)
				return
			}
		}
		for _, c := range d.Children {
			b.binaryChanged(ctx, c, out, changed)
		}
		return
	}
	if !artifact.IsArtifact(d.Path) {
		return
	}
	typePath := strings.TrimSuffix(rel, artifact.Ext)
	switch d.Kind {
	case delta.Added, delta.Removed:
		b.addDependentsOf(ctx, typePath, false)
	case delta.Changed:
		if !d.Content {
			return
		}
		if changed != nil {
			if _, ok := changed[typePath]; !ok {
				// not a structural change
				return
			}
		}
		b.addDependentsOf(ctx, typePath, false)
	}
}

func joinPackage(pkg, simple string) string {
	if pkg == "" {
		return simple
	}
	return pkg + "/" + simple
}
