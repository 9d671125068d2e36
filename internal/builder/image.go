package builder

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"kiln/internal/artifact"
	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/progress"
	"kiln/internal/project"
	"kiln/internal/refs"
	"kiln/internal/state"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

// image carries one build: the new state, the units of the current pass
// and the names whose dependents must be recompiled. A full build starts
// in batch mode and switches to incremental mode when it needs a
// follow-up pass.
type image struct {
	cfg   *Config
	p     *project.Project
	fs    workspace.FileSystem
	state *state.State
	env   *nameEnv

	incremental bool
	maxAtOnce   int
	maxLoop     int

	queue *workQueue
	// units with an inconsistent hierarchy; offered to every chunk
	problemUnits *unitSet
	// batch only: units that reported an undefined type, and the
	// secondary types accepted while compiling in chunks
	undefinedLocators map[string]bool
	secondaryTypes    []string
	chunked           bool

	// incremental bookkeeping
	pending              *unitSet
	previous             *unitSet
	affected             *refs.NameSet
	secondaryToRemove    map[string][]string // output folder -> type names
	compiledAllAtOnce    bool
	hasStructuralChanges bool
	loops                int

	annotated map[string]bool
	followUp  bool

	compiled []string
}

func newImage(cfg *Config, st *state.State, incremental bool) *image {
	b := &image{
		cfg:               cfg,
		p:                 cfg.Project,
		fs:                cfg.FS,
		state:             st,
		incremental:       incremental,
		maxAtOnce:         cfg.Project.Options.MaxAtOnce,
		maxLoop:           cfg.Project.Options.MaxCompileLoop,
		queue:             newWorkQueue(),
		problemUnits:      newUnitSet(),
		undefinedLocators: make(map[string]bool),
		pending:           newUnitSet(),
		affected:          refs.NewNameSet(),
		secondaryToRemove: make(map[string][]string),
		annotated:         make(map[string]bool),
	}
	if cfg.MaxAtOnce != nil {
		b.maxAtOnce = *cfg.MaxAtOnce
	}
	if cfg.MaxCompileLoop > 0 {
		b.maxLoop = cfg.MaxCompileLoop
	}
	if b.maxLoop <= 0 {
		b.maxLoop = project.DefaultMaxCompileLoop
	}

	env := &nameEnv{fs: cfg.FS, incremental: incremental}
	for _, r := range cfg.Project.SourceRoots {
		env.sourceDir = append(env.sourceDir, r.Dir)
	}
	for _, out := range cfg.Project.Outputs() {
		env.binaries = append(env.binaries, location{fs: cfg.FS, dir: out})
	}
	for _, pr := range cfg.Prereqs {
		for _, out := range pr.Project.Outputs() {
			env.binaries = append(env.binaries, location{fs: pr.FS, dir: out})
		}
	}
	b.env = env
	return b
}

func (b *image) emit(evt progress.Event) {
	if b.cfg.Progress == nil {
		return
	}
	evt.Project = b.p.Name
	b.cfg.Progress.OnEvent(evt)
}

// compile compiles units in chunks of at most maxAtOnce. A later chunk
// only takes units still waiting, since earlier chunks may have pulled
// them in already.
func (b *image) compile(ctx context.Context, units []*frontend.SourceUnit) error {
	units, results, err := b.notifyParticipants(ctx, units)
	if err != nil {
		return err
	}
	n := len(units)
	b.compiledAllAtOnce = b.maxAtOnce <= 0 || n <= b.maxAtOnce
	if b.compiledAllAtOnce {
		if err := b.compileChunk(ctx, units, nil, true); err != nil {
			return err
		}
	} else {
		remaining := slices.Clone(units)
		first := true
		for i := 0; i < n; {
			chunk := make([]*frontend.SourceUnit, 0, b.maxAtOnce)
			for i < n && len(chunk) < b.maxAtOnce {
				if u := remaining[i]; u != nil && (first || b.queue.isWaiting(u.Locator)) {
					chunk = append(chunk, u)
				}
				remaining[i] = nil
				i++
			}
			var additional []*frontend.SourceUnit
			for j := i; j < n; j++ {
				u := remaining[j]
				if u == nil {
					continue
				}
				if !first && b.queue.isCompiled(u.Locator) {
					remaining[j] = nil
					continue
				}
				additional = append(additional, u)
			}
			b.chunked = true
			if err := b.compileChunk(ctx, chunk, additional, first); err != nil {
				return err
			}
			first = false
		}
	}
	b.recordParticipantResults(results)
	return b.processAnnotations(ctx, units)
}

func (b *image) compileChunk(ctx context.Context, units, additional []*frontend.SourceUnit, first bool) error {
	if len(units) == 0 {
		return nil
	}
	if b.incremental && first && len(additional) > 0 {
		// units defining secondary types go into the first chunk too, so
		// their types are seen before anything looks them up
		kept := additional[:0:0]
		for _, u := range additional {
			if _, ok := b.state.DefinedTypeNamesFor(u.Locator); ok {
				units = append(units, u)
				continue
			}
			kept = append(kept, u)
		}
		additional = kept
	}
	additional = append(additional, b.problemUnits.units()...)

	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := trace.Start(ctx, trace.ScopePass, "compile.chunk")
	span.WithExtra("units", fmt.Sprint(len(units))).WithExtra("additional", fmt.Sprint(len(additional)))
	for _, u := range units {
		b.emit(progress.Event{File: u.Locator, Stage: progress.StageCompile, Status: progress.StatusWorking})
	}

	b.env.setNames(units, additional)
	start := time.Now()
	err := b.cfg.Compiler.Compile(ctx, &frontend.Request{
		Units:             units,
		AdditionalUnits:   additional,
		Env:               b.env,
		StatementRecovery: first,
		Accept:            func(res *frontend.Result) error { return b.acceptResult(ctx, res) },
	})
	span.End(time.Since(start).String())
	if err != nil {
		return classifyCompileError(err)
	}
	return ctx.Err()
}

func classifyCompileError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrAbortIncremental), IsInternal(err):
		return err
	}
	return &InternalError{Op: "compile", Err: err, InCompiler: true}
}

// acceptResult records one compiled unit: problems, artifacts, defined
// types and references.
func (b *image) acceptResult(ctx context.Context, res *frontend.Result) error {
	u := res.Unit
	if b.queue.isCompiled(u.Locator) {
		return nil
	}
	b.queue.finished(u.Locator)
	b.compiled = append(b.compiled, u.Locator)

	b.storeProblems(u, res.Problems)
	b.storeTasks(u, res.Tasks)
	if res.HasInconsistentHierarchy {
		b.problemUnits.add(u)
	}
	if res.HasAnnotations {
		b.annotated[u.Locator] = true
	}

	var defined, duplicates []string
	for _, out := range res.Outputs {
		if out.Nested {
			if b.state.IsDuplicateLocator(out.OuterMost, u.Locator) {
				continue
			}
		} else {
			if b.state.IsDuplicateLocator(out.TypeName, u.Locator) {
				_, simple := refs.SplitTypeName(out.TypeName)
				duplicates = append(duplicates, simple)
				other, _ := b.state.LocatorForType(out.TypeName)
				b.addProblem(u, diag.NewError(diag.BldDuplicateArtifact, diag.Span{Locator: u.Locator},
					fmt.Sprintf("the type %s is already defined by %s", strings.ReplaceAll(out.TypeName, "/", "."), other)).
					WithArguments(out.TypeName))
				continue
			}
			b.state.RecordLocatorForType(out.TypeName, u.Locator)
			if res.CheckSecondaryTypes && out.TypeName != u.InitialTypeName {
				b.acceptSecondaryType(out.TypeName)
			}
		}
		name, err := b.writeArtifact(ctx, out, u)
		if err != nil {
			var ce *collisionError
			if errors.As(err, &ce) {
				b.addProblem(u, diag.NewError(diag.BldArtifactCollision, diag.Span{Locator: u.Locator},
					fmt.Sprintf("artifact %s collides with %s", ce.path, ce.existing)).WithArguments(out.TypeName))
				continue
			}
			return err
		}
		defined = append(defined, name)
	}

	b.finishedWith(u, res, defined, duplicates)
	status := progress.StatusDone
	if res.HasErrors() {
		status = progress.StatusError
	}
	b.emit(progress.Event{File: u.Locator, Stage: progress.StageCompile, Status: status, Problems: len(res.Problems)})
	return nil
}

func (b *image) acceptSecondaryType(typeName string) {
	if !b.incremental && b.chunked {
		b.secondaryTypes = append(b.secondaryTypes, typeName)
	}
}

// finishedWith records the references of a compiled unit. In incremental
// mode types the unit no longer defines are queued for removal.
func (b *image) finishedWith(u *frontend.SourceUnit, res *frontend.Result, defined, duplicates []string) {
	if b.incremental {
		previous, ok := b.state.DefinedTypeNamesFor(u.Locator)
		if !ok {
			previous = []string{u.MainTypeName()}
		}
		pkg := u.PackageName()
		for _, name := range previous {
			if slices.Contains(defined, name) {
				continue
			}
			out := u.OutputDir()
			b.secondaryToRemove[out] = append(b.secondaryToRemove[out], joinPackage(pkg, name))
		}
	}
	simple := res.Simple
	if len(duplicates) > 0 {
		simple = append(slices.Clone(simple), duplicates...)
	}
	b.state.Record(u.Locator, res.Qualified, simple, res.Root, u.MainTypeName(), defined)
}

func (b *image) storeProblems(u *frontend.SourceUnit, problems []diag.Diagnostic) {
	if !b.incremental {
		for _, p := range problems {
			if p.Code == diag.ResUndefinedType {
				b.undefinedLocators[u.Locator] = true
				break
			}
		}
	}
	if b.cfg.Markers != nil {
		b.cfg.Markers.SetProblems(u.Locator, problems)
	}
}

func (b *image) storeTasks(u *frontend.SourceUnit, tasks []diag.Diagnostic) {
	if b.cfg.Markers != nil {
		b.cfg.Markers.SetTasks(u.Locator, tasks)
	}
}

func (b *image) addProblem(u *frontend.SourceUnit, d diag.Diagnostic) {
	if b.cfg.Markers != nil {
		b.cfg.Markers.AddProblems(u.Locator, d)
	}
}

// writeArtifact writes one output and returns the simple name it defines.
func (b *image) writeArtifact(ctx context.Context, out frontend.Output, u *frontend.SourceUnit) (string, error) {
	p := artifact.PathFor(u.OutputDir(), out.TypeName)
	if err := b.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return "", &InternalError{Op: "create folder for " + p, Err: err, InCompiler: true}
	}
	var err error
	if b.incremental {
		err = b.writeIncremental(ctx, p, out, u)
	} else {
		err = b.writeBatch(p, out)
	}
	if err != nil {
		return "", err
	}
	_, simple := refs.SplitTypeName(out.TypeName)
	return simple, nil
}

func (b *image) writeBatch(p string, out frontend.Output) error {
	if !b.fs.Exists(p) {
		variant, err := workspace.CaseVariant(b.fs, p)
		if err != nil {
			return &InternalError{Op: "list " + path.Dir(p), Err: err, InCompiler: true}
		}
		if variant != "" {
			return &collisionError{path: p, existing: variant}
		}
	}
	return b.write(p, out.Bytes)
}

func (b *image) write(p string, data []byte) error {
	if err := b.fs.WriteFile(p, data, 0o644); err != nil {
		return &InternalError{Op: "write " + p, Err: err, InCompiler: true}
	}
	return nil
}

// findSourceUnit maps a locator back to a unit of the source root that
// includes it. mustExist drops locators whose file is gone.
func (b *image) findSourceUnit(locator string, mustExist bool) *frontend.SourceUnit {
	if mustExist && !b.fs.Exists(locator) {
		return nil
	}
	var root *project.SourceRoot
	for _, r := range b.p.SourceRoots {
		if r.Contains(locator) && (root == nil || rootDepth(r) > rootDepth(root)) {
			root = r
		}
	}
	if root == nil || !root.Includes(root.Rel(locator)) {
		return nil
	}
	return frontend.NewSourceUnit(root, locator, false)
}

func rootDepth(r *project.SourceRoot) int {
	if r.Dir == "." {
		return 0
	}
	return 1 + strings.Count(r.Dir, "/")
}

// addAllSourceFiles lists every included source unit, sorted by locator.
func (b *image) addAllSourceFiles(ctx context.Context) ([]*frontend.SourceUnit, error) {
	set := newUnitSet()
	for _, r := range b.p.SourceRoots {
		err := walkFiles(b.fs, r.Dir, func(p string, dir bool) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if b.excludedFromRoot(r, p) {
				return false, nil
			}
			if dir {
				return !r.FolderExcluded(r.Rel(p)), nil
			}
			if project.IsSource(p) && r.Includes(r.Rel(p)) {
				set.add(frontend.NewSourceUnit(r, p, true))
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	units := set.units()
	slices.SortFunc(units, func(a, c *frontend.SourceUnit) int { return strings.Compare(a.Locator, c.Locator) })
	return units, nil
}

// excludedFromRoot reports whether p belongs to something other than
// root's sources: an output folder, the state folder or a nested root.
func (b *image) excludedFromRoot(root *project.SourceRoot, p string) bool {
	if p == root.Dir {
		return false
	}
	if p == project.StateDir || strings.HasPrefix(p, project.StateDir+"/") {
		return true
	}
	for _, out := range b.p.Outputs() {
		if out != root.Dir && (p == out || out != "." && strings.HasPrefix(p, out+"/")) {
			return true
		}
	}
	for _, other := range b.p.SourceRoots {
		if other != root && other.Dir != "." && root.Contains(other.Dir) && other.Contains(p) {
			return true
		}
	}
	return false
}
