package kilnc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"kiln/internal/artifact"
	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/project"
)

var testRoot = &project.SourceRoot{Dir: "src", Output: "bin"}

// fakeEnv serves pending source units by initial type name and binaries
// by type name.
type fakeEnv struct {
	sources  map[string]string
	pending  map[string]*frontend.SourceUnit
	binaries map[string]*artifact.ClassFile
	err      error
	asked    []string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		sources:  map[string]string{},
		pending:  map[string]*frontend.SourceUnit{},
		binaries: map[string]*artifact.ClassFile{},
	}
}

func (e *fakeEnv) add(locator, src string) *frontend.SourceUnit {
	e.sources[locator] = src
	return frontend.NewSourceUnit(testRoot, locator, false)
}

func (e *fakeEnv) FindType(_ context.Context, name string) (frontend.Answer, error) {
	e.asked = append(e.asked, name)
	if e.err != nil {
		return frontend.Answer{}, e.err
	}
	if u, ok := e.pending[name]; ok {
		return frontend.Answer{Source: u}, nil
	}
	if cf, ok := e.binaries[name]; ok {
		return frontend.Answer{Binary: cf}, nil
	}
	return frontend.Answer{}, nil
}

func (e *fakeEnv) IsPackage(_ context.Context, pkg string) bool {
	return pkg == "p" || pkg == "q"
}

func (e *fakeEnv) ReadSource(u *frontend.SourceUnit) ([]byte, error) {
	src, ok := e.sources[u.Locator]
	if !ok {
		return nil, fmt.Errorf("no source for %s", u.Locator)
	}
	return []byte(src), nil
}

func compile(t *testing.T, env *fakeEnv, opts Options, units ...*frontend.SourceUnit) []*frontend.Result {
	t.Helper()
	var results []*frontend.Result
	err := New(opts).Compile(context.Background(), &frontend.Request{
		Units: units,
		Env:   env,
		Accept: func(r *frontend.Result) error {
			results = append(results, r)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return results
}

func decodeOutput(t *testing.T, r *frontend.Result, typeName string) *artifact.ClassFile {
	t.Helper()
	for _, o := range r.Outputs {
		if o.TypeName == typeName {
			cf, err := artifact.Decode(o.Bytes)
			if err != nil {
				t.Fatalf("decode %s: %v", typeName, err)
			}
			return cf
		}
	}
	t.Fatalf("no output %s in %s", typeName, r.Unit)
	return nil
}

func problemCodes(r *frontend.Result) []diag.Code {
	var out []diag.Code
	for _, p := range r.Problems {
		out = append(out, p.Code)
	}
	return out
}

func TestCompileRecordsSupertypeReferences(t *testing.T) {
	env := newFakeEnv()
	a := env.add("src/p/A.kl", "package p;\npublic class A extends B {}\n")
	b := env.add("src/p/B.kl", "package p;\npublic class B { public void m() {} }\n")
	results := compile(t, env, Options{}, a, b)
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	ra := results[0]
	if len(ra.Problems) != 0 {
		t.Fatalf("problems: %v", ra.Problems)
	}
	if !slices.Contains(ra.Simple, "B") || !slices.Contains(ra.Qualified, "p") || !slices.Contains(ra.Root, "p") {
		t.Fatalf("refs of A: q=%v s=%v r=%v", ra.Qualified, ra.Simple, ra.Root)
	}
	if cf := decodeOutput(t, ra, "p/A"); cf.Super != "p/B" || cf.Source != "src/p/A.kl" {
		t.Fatalf("A artifact = %+v", cf)
	}
	cb := decodeOutput(t, results[1], "p/B")
	if cb.Super != "kiln/lang/Object" || len(cb.Methods) != 2 {
		t.Fatalf("B artifact = %+v", cb)
	}
	if ra.CheckSecondaryTypes || ra.HasInconsistentHierarchy {
		t.Fatalf("unexpected flags on A: %+v", ra)
	}
}

func TestCompileUndefinedSupertype(t *testing.T) {
	env := newFakeEnv()
	a := env.add("src/p/A.kl", "package p;\npublic class A extends Missing {}\n")
	r := compile(t, env, Options{}, a)[0]
	if !r.HasProblem(diag.ResUndefinedType) || !r.HasInconsistentHierarchy {
		t.Fatalf("problems %v inconsistent %v", problemCodes(r), r.HasInconsistentHierarchy)
	}
	if got := r.Problems[0].Arguments; len(got) != 1 || got[0] != "Missing" {
		t.Fatalf("arguments = %v", got)
	}
	if !slices.Contains(env.asked, "p/Missing") {
		t.Fatalf("environment not asked for p/Missing: %v", env.asked)
	}
	if !slices.Contains(r.Simple, "Missing") {
		t.Fatalf("failed lookup not recorded: %v", r.Simple)
	}
	if cf := decodeOutput(t, r, "p/A"); cf.Super != "kiln/lang/Object" {
		t.Fatalf("super = %q", cf.Super)
	}
}

func TestCompilePullsPendingUnits(t *testing.T) {
	env := newFakeEnv()
	a := env.add("src/p/A.kl", "package p;\nclass A { B b; }\n")
	env.pending["p/B"] = env.add("src/p/B.kl", "package p;\nclass B {}\n")
	results := compile(t, env, Options{}, a)
	if len(results) != 2 || results[0].Unit.Locator != "src/p/A.kl" || results[1].Unit.Locator != "src/p/B.kl" {
		t.Fatalf("results = %v", results)
	}
	if cf := decodeOutput(t, results[0], "p/A"); cf.Fields[0].Type != "p/B" {
		t.Fatalf("field type = %q", cf.Fields[0].Type)
	}
}

func TestCompileUsesBinaries(t *testing.T) {
	env := newFakeEnv()
	env.binaries["q/Base"] = &artifact.ClassFile{Name: "q/Base", Kind: artifact.KindClass, Modifiers: artifact.ModPublic | artifact.ModFinal}
	env.binaries["q/Shape"] = &artifact.ClassFile{Name: "q/Shape", Kind: artifact.KindInterface}
	a := env.add("src/p/A.kl", "package p;\nimport q.Base;\nimport q.*;\nclass A extends Base implements Shape {}\n")
	r := compile(t, env, Options{}, a)[0]
	if !r.HasProblem(diag.ResHierarchyHasProblems) {
		t.Fatalf("final superclass not reported: %v", problemCodes(r))
	}
	cf := decodeOutput(t, r, "p/A")
	if cf.Super != "q/Base" || len(cf.Interfaces) != 1 || cf.Interfaces[0] != "q/Shape" {
		t.Fatalf("A artifact = %+v", cf)
	}
	if !slices.Contains(r.Qualified, "q") || !slices.Contains(r.Simple, "Shape") {
		t.Fatalf("refs q=%v s=%v", r.Qualified, r.Simple)
	}
}

func TestCompileHierarchyChecks(t *testing.T) {
	env := newFakeEnv()
	u := env.add("src/p/A.kl", `package p;
class A extends I {}
class C implements A {}
class X extends Y {}
class Y extends X {}
interface I {}
`)
	r := compile(t, env, Options{}, u)[0]
	for _, want := range []diag.Code{diag.ResClassExtendsInterface, diag.ResImplementsNonInterface, diag.ResCycleInHierarchy} {
		if !r.HasProblem(want) {
			t.Fatalf("missing %s in %v", want.ID(), problemCodes(r))
		}
	}
	if !r.CheckSecondaryTypes || !r.HasInconsistentHierarchy {
		t.Fatalf("flags: secondary %v inconsistent %v", r.CheckSecondaryTypes, r.HasInconsistentHierarchy)
	}
}

func TestCompileDuplicateTypes(t *testing.T) {
	env := newFakeEnv()
	c := env.add("src/p/C.kl", "package p;\nclass C {}\n")
	d := env.add("src/p/D.kl", "package p;\nclass D {}\nclass C {}\n")
	results := compile(t, env, Options{}, c, d)
	rd := results[1]
	if !rd.HasProblem(diag.ResDuplicateType) {
		t.Fatalf("duplicate not reported: %v", problemCodes(rd))
	}
	if len(rd.Outputs) != 1 || rd.Outputs[0].TypeName != "p/D" {
		t.Fatalf("outputs = %+v", rd.Outputs)
	}
	if !slices.Contains(rd.Simple, "C") {
		t.Fatalf("duplicate simple name not recorded: %v", rd.Simple)
	}
}

func TestCompileNestedAndLocalOutputs(t *testing.T) {
	env := newFakeEnv()
	a := env.add("src/p/A.kl", `package p;
public class A {
    static class In {}
    void m() {
        Runnable r = new Runnable() {};
        In i = new In();
    }
}
`)
	r := compile(t, env, Options{}, a)[0]
	if len(r.Problems) != 0 {
		t.Fatalf("problems: %v", r.Problems)
	}
	var names []string
	for _, o := range r.Outputs {
		names = append(names, o.TypeName)
		if o.OuterMost != "p/A" {
			t.Fatalf("outer most of %s = %s", o.TypeName, o.OuterMost)
		}
	}
	if !slices.Equal(names, []string{"p/A", "p/A$In", "p/A$1"}) {
		t.Fatalf("outputs = %v", names)
	}
	anon := decodeOutput(t, r, "p/A$1")
	if !anon.Anonymous || !anon.IsLocalOrAnonymous() || anon.Interfaces[0] != "kiln/lang/Runnable" || anon.Enclosing != "p/A" {
		t.Fatalf("anonymous artifact = %+v", anon)
	}
	if top := decodeOutput(t, r, "p/A"); len(top.MemberTypes) != 1 || top.MemberTypes[0] != "p/A$In" {
		t.Fatalf("member types = %v", top.MemberTypes)
	}
}

func TestCompileBodyOnlyChangeIsNotStructural(t *testing.T) {
	env := newFakeEnv()
	before := compile(t, env, Options{}, env.add("src/p/B.kl", "package p;\npublic class B { public int m() { return 1; } }\n"))[0]
	after := compile(t, env, Options{}, env.add("src/p/B.kl", "package p;\npublic class B { public int m() { return 2; } }\n"))[0]
	oldCF, newCF := decodeOutput(t, before, "p/B"), decodeOutput(t, after, "p/B")
	if string(before.Outputs[0].Bytes) == string(after.Outputs[0].Bytes) {
		t.Fatalf("body change should change bytes")
	}
	if artifact.HasStructuralChanges(oldCF, newCF) {
		t.Fatalf("body change reported as structural")
	}

	sig := compile(t, env, Options{}, env.add("src/p/B.kl", "package p;\npublic class B { public int m() { return 2; } public void n() {} }\n"))[0]
	if !artifact.HasStructuralChanges(newCF, decodeOutput(t, sig, "p/B")) {
		t.Fatalf("new public method not structural")
	}
}

func TestCompilePackageInfo(t *testing.T) {
	env := newFakeEnv()
	u := env.add("src/p/package-info.kl", "@Deprecated\npackage p;\n")
	r := compile(t, env, Options{}, u)[0]
	if len(r.Problems) != 0 || !r.HasAnnotations {
		t.Fatalf("problems %v annotations %v", r.Problems, r.HasAnnotations)
	}
	cf := decodeOutput(t, r, "p/package-info")
	if cf.Kind != artifact.KindPackageInfo || len(cf.Annotations) != 1 || cf.Annotations[0] != "kiln/lang/Deprecated" {
		t.Fatalf("package-info artifact = %+v", cf)
	}
}

func TestCompilePackageMismatch(t *testing.T) {
	env := newFakeEnv()
	r := compile(t, env, Options{}, env.add("src/p/A.kl", "package q;\npublic class A {}\n"))[0]
	if !r.HasProblem(diag.ResPackageMismatch) {
		t.Fatalf("problems = %v", problemCodes(r))
	}
	r = compile(t, env, Options{}, env.add("src/p/Other.kl", "package p;\npublic class A {}\n"))[0]
	if !r.HasProblem(diag.ResPublicTypeFileMismatch) || !r.CheckSecondaryTypes {
		t.Fatalf("problems = %v", problemCodes(r))
	}
}

func TestCompileBodySeverityOption(t *testing.T) {
	env := newFakeEnv()
	u := env.add("src/p/A.kl", "package p;\nclass A { void m() { Nope n = null; } }\n")
	r := compile(t, env, Options{BodyTypeSeverity: diag.SevWarning}, u)[0]
	if r.HasErrors() || !r.HasProblem(diag.ResUndefinedType) {
		t.Fatalf("problems = %v", r.Problems)
	}
}

func TestCompileEnvironmentErrorAborts(t *testing.T) {
	env := newFakeEnv()
	boom := errors.New("boom")
	env.err = boom
	u := env.add("src/p/A.kl", "package p;\nclass A extends B {}\n")
	accepted := 0
	err := New(Options{}).Compile(context.Background(), &frontend.Request{
		Units:  []*frontend.SourceUnit{u},
		Env:    env,
		Accept: func(*frontend.Result) error { accepted++; return nil },
	})
	if !errors.Is(err, boom) || accepted != 0 {
		t.Fatalf("err = %v accepted = %d", err, accepted)
	}
}

func TestCompileCancelled(t *testing.T) {
	env := newFakeEnv()
	u := env.add("src/p/A.kl", "package p;\nclass A {}\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(Options{}).Compile(ctx, &frontend.Request{
		Units:  []*frontend.SourceUnit{u},
		Env:    env,
		Accept: func(*frontend.Result) error { return nil },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestOptionsFor(t *testing.T) {
	p := &project.Project{
		Tasks:           project.TaskConfig{Tags: []string{"TODO"}, Priorities: []string{"high"}},
		CompilerOptions: map[string]string{OptionBodyTypes: "warning"},
	}
	opts, err := OptionsFor(p)
	if err != nil {
		t.Fatalf("OptionsFor: %v", err)
	}
	if opts.BodyTypeSeverity != diag.SevWarning || opts.TaskPriorities[0] != diag.PriorityHigh {
		t.Fatalf("opts = %+v", opts)
	}
	p.CompilerOptions[OptionBodyTypes] = "loud"
	if _, err := OptionsFor(p); err == nil {
		t.Fatalf("expected invalid severity error")
	}
}
