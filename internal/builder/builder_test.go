package builder

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"testing"

	"kiln/internal/artifact"
	"kiln/internal/delta"
	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/frontend/kilnc"
	"kiln/internal/markers"
	"kiln/internal/project"
	"kiln/internal/refs"
	"kiln/internal/state"
	"kiln/internal/trace"
	"kiln/internal/workspace/memfs"
)

// fixture is one project on an in-memory file system. Every build diffs
// the file system against the snapshot taken after the previous build.
type fixture struct {
	t        *testing.T
	fs       *memfs.FS
	p        *project.Project
	markers  *markers.Store
	compiler frontend.Compiler
	prereqs  []*fixture
	parts    []Participant
	tracer   trace.Tracer

	maxAtOnce *int
	last      *state.State
	snap      *delta.Snapshot
	// prerequisite snapshots as seen by the previous build of this project
	prereqSnaps map[string]*delta.Snapshot
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	return &fixture{
		t:  t,
		fs: memfs.New(),
		p: &project.Project{
			Name:        name,
			Root:        "/work/" + name,
			Output:      "bin",
			SourceRoots: []*project.SourceRoot{{Dir: "src", Output: "bin"}},
			Options: project.BuildOptions{
				MaxAtOnce:                 project.DefaultMaxAtOnce,
				MaxCompileLoop:            project.DefaultMaxCompileLoop,
				RecreateModifiedArtifacts: true,
				CopyResources:             true,
			},
		},
		markers:     markers.New(),
		compiler:    kilnc.New(kilnc.Options{}),
		prereqSnaps: map[string]*delta.Snapshot{},
	}
}

func (f *fixture) roots() []string {
	return []string{"src", "bin"}
}

func (f *fixture) take() *delta.Snapshot {
	f.t.Helper()
	snap, err := delta.Take(context.Background(), f.fs, f.roots(), nil)
	if err != nil {
		f.t.Fatalf("snapshot %s: %v", f.p.Name, err)
	}
	return snap
}

func (f *fixture) build(kind Kind) *Result {
	f.t.Helper()
	res, err := f.tryBuild(kind)
	if err != nil {
		f.t.Fatalf("build %s: %v", f.p.Name, err)
	}
	return res
}

func (f *fixture) tryBuild(kind Kind) (*Result, error) {
	cfg := Config{
		Project:      f.p,
		FS:           f.fs,
		Compiler:     f.compiler,
		Markers:      f.markers,
		MaxAtOnce:    f.maxAtOnce,
		Participants: f.parts,
	}
	req := Request{Kind: kind, Last: f.last, PrereqDeltas: map[string]*delta.Delta{}}
	if f.snap != nil {
		req.Delta = delta.Diff(f.snap, f.take())
	}
	current := map[string]*delta.Snapshot{}
	for _, pf := range f.prereqs {
		cfg.Prereqs = append(cfg.Prereqs, &Prereq{Project: pf.p, FS: pf.fs, State: pf.last})
		cur := pf.take()
		current[pf.p.Root] = cur
		if prev, ok := f.prereqSnaps[pf.p.Root]; ok {
			req.PrereqDeltas[pf.p.Root] = delta.Diff(prev, cur)
		}
	}
	bl, err := New(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if f.tracer != nil {
		ctx = trace.WithTracer(ctx, f.tracer)
	}
	res, err := bl.Build(ctx, req)
	if err != nil {
		f.last, f.snap = nil, nil
		return nil, err
	}
	f.last = res.State
	f.snap = f.take()
	f.prereqSnaps = current
	return res, nil
}

func (f *fixture) artifact(typeName string) *artifact.ClassFile {
	f.t.Helper()
	data, err := f.fs.ReadFile(artifact.PathFor("bin", typeName))
	if err != nil {
		f.t.Fatalf("artifact %s: %v", typeName, err)
	}
	cf, err := artifact.Decode(data)
	if err != nil {
		f.t.Fatalf("decode %s: %v", typeName, err)
	}
	return cf
}

func (f *fixture) hasArtifact(typeName string) bool {
	return f.fs.Exists(artifact.PathFor("bin", typeName))
}

func (f *fixture) outputs() map[string]string {
	out := map[string]string{}
	for p, content := range f.fs.Files() {
		if strings.HasPrefix(p, "bin/") {
			out[p] = content
		}
	}
	return out
}

func hasCode(ds []diag.Diagnostic, code diag.Code) bool {
	return slices.ContainsFunc(ds, func(d diag.Diagnostic) bool { return d.Code == code })
}

func expectCompiled(t *testing.T, res *Result, want ...string) {
	t.Helper()
	if !slices.Equal(res.Compiled, want) {
		t.Fatalf("compiled = %v, want %v", res.Compiled, want)
	}
}

func TestFirstBuildIsFull(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\npublic class A extends B {}\n")
	f.fs.Add("src/p/B.kl", "package p;\npublic class B {}\n")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeFull || res.Reason != "no saved build state" {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	expectCompiled(t, res, "src/p/A.kl", "src/p/B.kl")
	if cf := f.artifact("p/A"); cf.Super != "p/B" {
		t.Fatalf("A super = %q", cf.Super)
	}
	if names, ok := f.last.DefinedTypeNamesFor("src/p/A.kl"); ok {
		t.Fatalf("main-only unit kept defined names %v", names)
	}
}

func TestBodyChangeDoesNotRecompileDependents(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\npublic class A extends B {}\n")
	f.fs.Add("src/p/B.kl", "package p;\npublic class B { public int m() { return 1; } }\n")
	f.build(KindAuto)

	f.fs.Add("src/p/B.kl", "package p;\npublic class B { public int m() { return 2; } }\n")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeIncremental || res.StructuralChanges {
		t.Fatalf("outcome = %v structural = %v", res.Outcome, res.StructuralChanges)
	}
	expectCompiled(t, res, "src/p/B.kl")
	if _, ok := f.last.ChangedTypes(); ok {
		t.Fatalf("body change started a structural generation")
	}

	ring := trace.NewRingTracer(0, trace.LevelDetail)
	f.tracer = ring
	f.fs.Add("src/p/B.kl", "package p;\npublic class B { public int m() { return 2; } public void n() {} }\n")
	res = f.build(KindAuto)
	expectCompiled(t, res, "src/p/B.kl", "src/p/A.kl")
	traced := slices.ContainsFunc(ring.Snapshot(), func(ev trace.Event) bool {
		return ev.Name == "structural.change" && strings.HasPrefix(ev.Detail, "public class p/B") && strings.Contains(ev.Detail, " -> public class p/B")
	})
	if !traced {
		t.Fatalf("no structural change traced for p/B")
	}
	if res.Loops != 2 || !res.StructuralChanges {
		t.Fatalf("loops = %d structural = %v", res.Loops, res.StructuralChanges)
	}
	if types, ok := f.last.ChangedTypes(); !ok || !slices.Equal(types, []string{"p/B"}) {
		t.Fatalf("changed types = %v %v", types, ok)
	}
}

func TestNothingToDo(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	first := f.build(KindAuto)
	before := f.outputs()

	res := f.build(KindAuto)
	if res.Outcome != OutcomeNothing || res.State != first.State || len(res.Compiled) != 0 {
		t.Fatalf("second build = %+v", res)
	}
	if !maps.Equal(before, f.outputs()) {
		t.Fatalf("outputs changed on a no-op build")
	}
}

func TestIncrementalMatchesFull(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\nimport q.R;\npublic class A { R r; B b; }\n")
	f.fs.Add("src/p/B.kl", "package p;\nclass B {}\nclass Helper {}\n")
	f.fs.Add("src/q/R.kl", "package q;\npublic class R { public void run() {} }\n")
	f.build(KindAuto)

	f.fs.Add("src/q/R.kl", "package q;\npublic class R { public void run(int n) {} }\n")
	f.fs.Add("src/p/B.kl", "package p;\nclass B { Helper2 h; }\nclass Helper2 {}\n")
	f.fs.Add("src/p/C.kl", "package p;\nclass C extends B {}\n")
	if res := f.build(KindAuto); res.Outcome != OutcomeIncremental {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	incremental := f.outputs()
	if f.hasArtifact("p/Helper") {
		t.Fatalf("removed secondary type still has an artifact")
	}

	if res := f.build(KindFull); res.Outcome != OutcomeFull || res.Reason != "full build requested" {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	if full := f.outputs(); !maps.Equal(incremental, full) {
		t.Fatalf("incremental outputs %v differ from full %v", slices.Sorted(maps.Keys(incremental)), slices.Sorted(maps.Keys(full)))
	}
}

func TestRemovedUnitTakesSecondaryTypes(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/X.kl", "package p;\npublic class X {}\nclass Y {}\n")
	f.fs.Add("src/p/Z.kl", "package p;\nclass Z { Y y; }\n")
	f.fs.Add("src/p/W.kl", "package p;\nclass W {}\n")
	f.build(KindAuto)
	if names, ok := f.last.DefinedTypeNamesFor("src/p/X.kl"); !ok || !slices.Equal(names, []string{"X", "Y"}) {
		t.Fatalf("defined names = %v %v", names, ok)
	}

	if err := f.fs.Remove("src/p/X.kl"); err != nil {
		t.Fatal(err)
	}
	res := f.build(KindAuto)
	expectCompiled(t, res, "src/p/Z.kl")
	if f.hasArtifact("p/X") || f.hasArtifact("p/Y") {
		t.Fatalf("artifacts of the removed unit survived")
	}
	if !hasCode(f.markers.Problems("src/p/Z.kl"), diag.ResUndefinedType) {
		t.Fatalf("Z problems = %v", f.markers.Problems("src/p/Z.kl"))
	}
	if f.last.IsKnownType("p/Y") {
		t.Fatalf("p/Y still known")
	}
}

func TestDroppedSecondaryTypeRecompilesDependents(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/X.kl", "package p;\npublic class X {}\nclass Y {}\n")
	f.fs.Add("src/p/Z.kl", "package p;\nclass Z { Y y; }\n")
	f.build(KindAuto)

	f.fs.Add("src/p/X.kl", "package p;\npublic class X {}\n")
	res := f.build(KindAuto)
	expectCompiled(t, res, "src/p/X.kl", "src/p/Z.kl")
	if f.hasArtifact("p/Y") {
		t.Fatalf("p/Y artifact survived")
	}
	if _, ok := f.last.DefinedTypeNamesFor("src/p/X.kl"); ok {
		t.Fatalf("X now defines only its main type")
	}
}

func TestSecondaryTypesAcrossChunks(t *testing.T) {
	for _, n := range []int{1, 2, 2000} {
		f := newFixture(t, "app")
		f.maxAtOnce = &n
		f.fs.Add("src/p/A.kl", "package p;\nclass A { Y y; }\n")
		f.fs.Add("src/p/B.kl", "package p;\nclass B {}\n")
		f.fs.Add("src/p/X.kl", "package p;\npublic class X {}\nclass Y {}\n")
		res := f.build(KindAuto)
		if problems := f.markers.Problems("src/p/A.kl"); len(problems) != 0 {
			t.Fatalf("max %d: A problems = %v", n, problems)
		}
		if !f.hasArtifact("p/Y") {
			t.Fatalf("max %d: no artifact for p/Y", n)
		}
		if n == 1 && res.Loops == 0 {
			t.Fatalf("max 1: the unit missing p/Y was not recompiled")
		}
		if n == 2000 && res.Loops != 0 {
			t.Fatalf("max 2000: loops = %d", res.Loops)
		}
	}
}

func TestSecondaryTypeMovesBetweenUnits(t *testing.T) {
	for _, n := range []int{1, 2, 2000} {
		f := newFixture(t, "app")
		f.maxAtOnce = &n
		f.fs.Add("src/p/A.kl", "package p;\npublic class A {}\nclass S {}\n")
		f.fs.Add("src/p/B.kl", "package p;\npublic class B {}\n")
		f.fs.Add("src/p/Z.kl", "package p;\nclass Z { S s; }\n")
		f.build(KindAuto)

		// A drops S and B takes it over in the same pass
		f.fs.Add("src/p/A.kl", "package p;\npublic class A {}\n")
		f.fs.Add("src/p/B.kl", "package p;\npublic class B {}\nclass S {}\n")
		res := f.build(KindAuto)
		if res.Outcome != OutcomeIncremental {
			t.Fatalf("max %d: outcome = %v (%s)", n, res.Outcome, res.Reason)
		}
		if !f.hasArtifact("p/S") {
			t.Fatalf("max %d: artifact of p/S deleted", n)
		}
		if cf := f.artifact("p/S"); cf.Source != "src/p/B.kl" {
			t.Fatalf("max %d: p/S comes from %s", n, cf.Source)
		}
		if loc, _ := f.last.LocatorForType("p/S"); loc != "src/p/B.kl" {
			t.Fatalf("max %d: p/S locator = %s", n, loc)
		}
		problems := f.markers.Problems("src/p/B.kl")
		if hasCode(problems, diag.BldDuplicateArtifact) || hasCode(problems, diag.ResDuplicateType) {
			t.Fatalf("max %d: B problems = %v", n, problems)
		}
		if problems := f.markers.Problems("src/p/Z.kl"); len(problems) != 0 {
			t.Fatalf("max %d: Z problems = %v", n, problems)
		}
		incremental := f.outputs()

		f.build(KindFull)
		if full := f.outputs(); !maps.Equal(incremental, full) {
			t.Fatalf("max %d: incremental outputs %v differ from full %v", n, slices.Sorted(maps.Keys(incremental)), slices.Sorted(maps.Keys(full)))
		}
	}
}

func TestDuplicateTypeAcrossUnits(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/C.kl", "package p;\nclass C {}\n")
	f.build(KindAuto)

	f.fs.Add("src/p/D.kl", "package p;\nclass D {}\nclass C {}\n")
	f.build(KindAuto)
	problems := f.markers.Problems("src/p/D.kl")
	if !hasCode(problems, diag.BldDuplicateArtifact) && !hasCode(problems, diag.ResDuplicateType) {
		t.Fatalf("D problems = %v", problems)
	}
	if cf := f.artifact("p/C"); cf.Source != "src/p/C.kl" {
		t.Fatalf("C artifact taken over by %s", cf.Source)
	}
	if loc, _ := f.last.LocatorForType("p/C"); loc != "src/p/C.kl" {
		t.Fatalf("p/C locator = %s", loc)
	}
}

func TestCaseCollisionInFullBuild(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/Foo.kl", "package p;\npublic class Foo {}\nclass FOO {}\n")
	f.build(KindAuto)
	if !hasCode(f.markers.Problems("src/p/Foo.kl"), diag.BldArtifactCollision) {
		t.Fatalf("problems = %v", f.markers.Problems("src/p/Foo.kl"))
	}
	if !f.hasArtifact("p/Foo") || f.hasArtifact("p/FOO") {
		t.Fatalf("outputs = %v", slices.Sorted(maps.Keys(f.outputs())))
	}
}

func TestCaseVariantEscalates(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\npublic class A {}\nclass Bar {}\n")
	f.build(KindAuto)

	f.fs.Add("src/p/B.kl", "package p;\npublic class B {}\nclass BAR {}\n")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeFull || !strings.Contains(res.Reason, "differs only in case") {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	if !hasCode(f.markers.Problems("src/p/B.kl"), diag.BldArtifactCollision) {
		t.Fatalf("B problems = %v", f.markers.Problems("src/p/B.kl"))
	}
}

func TestCaseRenameWithinUnit(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\npublic class A {}\nclass Bar {}\n")
	f.build(KindAuto)

	f.fs.Add("src/p/A.kl", "package p;\npublic class A {}\nclass BAR {}\n")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeIncremental {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	if !f.hasArtifact("p/BAR") || f.hasArtifact("p/Bar") {
		t.Fatalf("outputs = %v", slices.Sorted(maps.Keys(f.outputs())))
	}
}

func TestResourcesFollowSources(t *testing.T) {
	f := newFixture(t, "app")
	f.p.Options.ResourceFilters = []string{"*.bak"}
	f.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	f.fs.Add("src/p/data.txt", "one")
	f.fs.Add("src/p/old.bak", "skip")
	f.build(KindAuto)
	if got, _ := f.fs.ReadFile("bin/p/data.txt"); string(got) != "one" {
		t.Fatalf("copied resource = %q", got)
	}
	if f.fs.Exists("bin/p/old.bak") {
		t.Fatalf("filtered resource copied")
	}

	f.fs.Add("src/p/data.txt", "two")
	res := f.build(KindAuto)
	if got, _ := f.fs.ReadFile("bin/p/data.txt"); string(got) != "two" || len(res.Compiled) != 0 {
		t.Fatalf("resource = %q compiled = %v", got, res.Compiled)
	}

	if err := f.fs.Remove("src/p/data.txt"); err != nil {
		t.Fatal(err)
	}
	f.build(KindAuto)
	if f.fs.Exists("bin/p/data.txt") {
		t.Fatalf("removed resource still in output")
	}
}

func TestPackageRemovalReachesImporters(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/q/R.kl", "package q;\npublic class R {}\n")
	f.fs.Add("src/p/A.kl", "package p;\nimport q.R;\nclass A { R r; }\n")
	f.build(KindAuto)
	if f.markers.HasErrors() {
		t.Fatalf("problems = %v", f.markers.All())
	}

	if err := f.fs.RemoveAll("src/q"); err != nil {
		t.Fatal(err)
	}
	res := f.build(KindAuto)
	if res.Outcome != OutcomeIncremental {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	expectCompiled(t, res, "src/p/A.kl")
	if f.fs.Exists("bin/q") || f.last.IsKnownType("q/R") {
		t.Fatalf("package q survived")
	}
	if !f.markers.HasErrors() {
		t.Fatalf("A compiled cleanly without q")
	}
}

func TestModifiedArtifactEscalates(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	f.build(KindAuto)

	f.fs.Add(artifact.PathFor("bin", "p/A"), "garbage")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeFull || !strings.Contains(res.Reason, "outside the build") {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	if cf := f.artifact("p/A"); cf.Name != "p/A" {
		t.Fatalf("artifact not rewritten: %+v", cf)
	}
}

func TestConfigChangeForcesFull(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	f.build(KindAuto)

	f.p.Tasks.Tags = []string{"TODO"}
	res := f.build(KindAuto)
	if res.Outcome != OutcomeFull || res.Reason != "compiler options changed" {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	f.p.SourceRoots[0].Exclude = []string{"gen/**"}
	if res = f.build(KindAuto); res.Reason != "project configuration changed" {
		t.Fatalf("reason = %s", res.Reason)
	}
}

func TestNoSourceRoots(t *testing.T) {
	f := newFixture(t, "app")
	f.p.SourceRoots = nil
	res := f.build(KindAuto)
	if res.Outcome != OutcomeFull || !res.State.WasNoopBuild() {
		t.Fatalf("result = %+v", res)
	}
}

// chainCompiler compiles units holding two lines, "sig <token>" and an
// optional "uses <type>". The single method descriptor of a unit's
// artifact is its token followed by the descriptor of the type it uses,
// so a signature change travels one unit up the chain per pass.
func chainCompiler() frontend.Compiler {
	return frontend.CompilerFunc(func(ctx context.Context, req *frontend.Request) error {
		units := map[string]*frontend.SourceUnit{}
		for _, u := range req.Units {
			units[u.InitialTypeName] = u
		}
		descs := map[string]string{}
		var compileUnit func(u *frontend.SourceUnit) (string, error)
		compileUnit = func(u *frontend.SourceUnit) (string, error) {
			if d, ok := descs[u.InitialTypeName]; ok {
				return d, nil
			}
			src, err := req.Env.ReadSource(u)
			if err != nil {
				return "", err
			}
			var sig, uses string
			for _, line := range strings.Split(string(src), "\n") {
				if f := strings.Fields(line); len(f) == 2 {
					switch f[0] {
					case "sig":
						sig = f[1]
					case "uses":
						uses = f[1]
					}
				}
			}
			desc := sig
			res := &frontend.Result{Unit: u}
			if uses != "" {
				pkg, simple := refs.SplitTypeName(uses)
				res.Qualified, res.Simple, res.Root = []string{pkg}, []string{simple}, []string{refs.RootOf(uses)}
				if dep, ok := units[uses]; ok {
					d, err := compileUnit(dep)
					if err != nil {
						return "", err
					}
					desc += "/" + d
				} else {
					ans, err := req.Env.FindType(ctx, uses)
					if err != nil {
						return "", err
					}
					if ans.Binary != nil {
						desc += "/" + ans.Binary.Methods[0].Descriptor
					}
				}
			}
			descs[u.InitialTypeName] = desc
			cf := &artifact.ClassFile{
				Name:      u.InitialTypeName,
				Source:    u.Locator,
				Kind:      artifact.KindClass,
				Modifiers: artifact.ModPublic,
				Methods:   []artifact.Method{{Name: "m", Descriptor: desc, Modifiers: artifact.ModPublic}},
			}
			data, err := artifact.Encode(cf)
			if err != nil {
				return "", err
			}
			res.Outputs = []frontend.Output{{TypeName: cf.Name, Bytes: data, OuterMost: cf.Name}}
			return desc, req.Accept(res)
		}
		for _, u := range req.Units {
			if _, err := compileUnit(u); err != nil {
				return err
			}
		}
		return nil
	})
}

func chainFixture(t *testing.T) *fixture {
	f := newFixture(t, "chain")
	f.compiler = chainCompiler()
	names := []string{"A", "B", "C", "D", "E", "F"}
	for i, n := range names {
		src := "sig " + strings.ToLower(n) + "\n"
		if i+1 < len(names) {
			src += "uses p/" + names[i+1] + "\n"
		}
		f.fs.Add("src/p/"+n+".kl", src)
	}
	f.build(KindAuto)
	if got := f.artifact("p/A").Methods[0].Descriptor; got != "a/b/c/d/e/f" {
		t.Fatalf("A descriptor = %q", got)
	}
	return f
}

func TestSignatureChangeWalksTheChain(t *testing.T) {
	f := chainFixture(t)
	f.p.Options.MaxCompileLoop = 6

	f.fs.Add("src/p/F.kl", "sig f2\n")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeIncremental || res.Loops != 6 {
		t.Fatalf("outcome = %v (%s) loops = %d", res.Outcome, res.Reason, res.Loops)
	}
	expectCompiled(t, res, "src/p/F.kl", "src/p/E.kl", "src/p/D.kl", "src/p/C.kl", "src/p/B.kl", "src/p/A.kl")
	if got := f.artifact("p/A").Methods[0].Descriptor; got != "a/b/c/d/e/f2" {
		t.Fatalf("A descriptor = %q", got)
	}
}

func TestExtendsChainConverges(t *testing.T) {
	f := newFixture(t, "app")
	names := []string{"A", "B", "C", "D", "E", "F"}
	for i, n := range names[:5] {
		f.fs.Add("src/p/"+n+".kl", "package p;\npublic class "+n+" extends "+names[i+1]+" {}\n")
	}
	f.fs.Add("src/p/F.kl", "package p;\npublic class F {}\n")
	f.build(KindAuto)

	// every subtype records the whole hierarchy, so one loop reaches them all
	f.fs.Add("src/p/F.kl", "package p;\npublic class F { public void m() {} }\n")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeIncremental || res.Loops != 2 {
		t.Fatalf("outcome = %v (%s) loops = %d", res.Outcome, res.Reason, res.Loops)
	}
	if got := slices.Sorted(slices.Values(res.Compiled)); !slices.Equal(got, []string{"src/p/A.kl", "src/p/B.kl", "src/p/C.kl", "src/p/D.kl", "src/p/E.kl", "src/p/F.kl"}) {
		t.Fatalf("compiled = %v", res.Compiled)
	}
}

func TestLoopCeilingEscalates(t *testing.T) {
	f := chainFixture(t)

	f.fs.Add("src/p/F.kl", "sig f2\n")
	res := f.build(KindAuto)
	if res.Outcome != OutcomeFull || !strings.Contains(res.Reason, "ceiling of 5") {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	if got := f.artifact("p/A").Methods[0].Descriptor; got != "a/b/c/d/e/f2" {
		t.Fatalf("A descriptor = %q", got)
	}

	// a short edit stays within the ceiling
	f.fs.Add("src/p/C.kl", "sig c2\nuses p/D\n")
	if res = f.build(KindAuto); res.Outcome != OutcomeIncremental || res.Loops != 3 {
		t.Fatalf("outcome = %v loops = %d", res.Outcome, res.Loops)
	}
}

func TestPrerequisiteChanges(t *testing.T) {
	lib := newFixture(t, "lib")
	lib.fs.Add("src/l/Base.kl", "package l;\npublic class Base { public int m() { return 1; } }\n")
	lib.build(KindAuto)

	app := newFixture(t, "app")
	app.prereqs = []*fixture{lib}
	app.fs.Add("src/p/A.kl", "package p;\nimport l.Base;\nclass A extends Base {}\n")
	app.fs.Add("src/p/B.kl", "package p;\nclass B {}\n")
	app.build(KindAuto)
	if app.markers.HasErrors() {
		t.Fatalf("problems = %v", app.markers.All())
	}

	lib.fs.Add("src/l/Base.kl", "package l;\npublic class Base { public int m() { return 2; } }\n")
	lib.build(KindAuto)
	if res := app.build(KindAuto); res.Outcome != OutcomeNothing {
		t.Fatalf("body change in prerequisite: outcome = %v compiled = %v", res.Outcome, res.Compiled)
	}

	lib.fs.Add("src/l/Base.kl", "package l;\npublic class Base { public int m() { return 2; } public void n() {} }\n")
	if res := lib.build(KindAuto); !res.StructuralChanges {
		t.Fatalf("lib change not structural")
	}
	res := app.build(KindAuto)
	if res.Outcome != OutcomeIncremental {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	expectCompiled(t, res, "src/p/A.kl")
}

func TestMissingPrerequisiteDelta(t *testing.T) {
	lib := newFixture(t, "lib")
	lib.fs.Add("src/l/Base.kl", "package l;\npublic class Base {}\n")
	lib.build(KindAuto)

	app := newFixture(t, "app")
	app.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	app.build(KindAuto)

	app.prereqs = []*fixture{lib}
	res := app.build(KindAuto)
	if res.Outcome != OutcomeFull || !strings.Contains(res.Reason, "prerequisite lib") {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
}

func TestInternalErrorDropsState(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	f.build(KindAuto)

	boom := errors.New("boom")
	f.compiler = frontend.CompilerFunc(func(context.Context, *frontend.Request) error { return boom })
	f.fs.Add("src/p/A.kl", "package p;\nclass A { int x; }\n")
	_, err := f.tryBuild(KindAuto)
	if !IsInternal(err) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if f.last != nil {
		t.Fatalf("state kept after an internal error")
	}
}

func TestCancelledBuild(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	bl, err := New(Config{Project: f.p, FS: f.fs, Compiler: f.compiler})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bl.Build(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRequiresCompiler(t *testing.T) {
	if _, err := New(Config{Project: &project.Project{}, FS: memfs.New()}); err == nil {
		t.Fatalf("expected an error without a compiler")
	}
}

// generator writes src/gen/G.kl on its first pass and can force a full
// build.
type generator struct {
	fs        *memfs.FS
	forceFull bool
	finished  int
}

func (g *generator) Name() string                       { return "generator" }
func (g *generator) IsAnnotationProcessor() bool        { return false }
func (g *generator) AboutToBuild(*project.Project) bool { return g.forceFull }
func (g *generator) BuildFinished(*project.Project)     { g.finished++ }

func (g *generator) ProcessAnnotations(context.Context, []AnnotatedUnit) ([]ParticipantResult, error) {
	return nil, nil
}

func (g *generator) Process(_ context.Context, units []*frontend.SourceUnit, _ bool) ([]ParticipantResult, error) {
	if g.fs.Exists("src/gen/G.kl") || len(units) == 0 {
		return nil, nil
	}
	g.fs.Add("src/gen/G.kl", "package gen;\npublic class G {}\n")
	return []ParticipantResult{{
		Unit:     units[0],
		Added:    []string{"src/gen/G.kl"},
		Problems: []diag.Diagnostic{diag.New(diag.SevWarning, diag.UnknownCode, diag.Span{Locator: units[0].Locator}, "generated G")},
	}}, nil
}

func TestParticipantGeneratesSources(t *testing.T) {
	f := newFixture(t, "app")
	f.fs.Add("src/p/A.kl", "package p;\nclass A {}\n")
	gen := &generator{fs: f.fs}
	f.parts = []Participant{gen}

	res := f.build(KindAuto)
	if !slices.Contains(res.Compiled, "src/gen/G.kl") || !f.hasArtifact("gen/G") {
		t.Fatalf("generated unit not compiled: %v", res.Compiled)
	}
	if !hasCode(f.markers.Problems("src/p/A.kl"), diag.BldParticipant) {
		t.Fatalf("participant problem missing: %v", f.markers.All())
	}
	if gen.finished != 1 {
		t.Fatalf("BuildFinished calls = %d", gen.finished)
	}

	gen.forceFull = true
	res = f.build(KindAuto)
	if res.Outcome != OutcomeFull || res.Reason != "a build participant asked for a full build" {
		t.Fatalf("outcome %v (%s)", res.Outcome, res.Reason)
	}
}
