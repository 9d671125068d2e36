package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"kiln/internal/builder"
	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/observ"
	"kiln/internal/project"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func manifest(name string, deps ...string) string {
	var sb strings.Builder
	sb.WriteString(project.DefaultManifest(name))
	for _, d := range deps {
		sb.WriteString("\n[[dependency]]\npath = \"" + d + "\"\n")
	}
	return sb.String()
}

// twoProjects lays out lib and app, app requiring lib.
func twoProjects(t *testing.T) (dir string) {
	dir = t.TempDir()
	writeFile(t, filepath.Join(dir, "lib", project.ManifestName), manifest("lib"))
	writeFile(t, filepath.Join(dir, "lib", "src", "l", "Base.kl"), "package l;\npublic class Base { public int m() { return 1; } }\n")
	writeFile(t, filepath.Join(dir, "app", project.ManifestName), manifest("app", "../lib"))
	writeFile(t, filepath.Join(dir, "app", "src", "p", "A.kl"), "package p;\nimport l.Base;\npublic class A extends Base {}\n")
	writeFile(t, filepath.Join(dir, "app", "src", "p", "B.kl"), "package p;\nclass B {}\n")
	return dir
}

func load(t *testing.T, dir string) *Workspace {
	t.Helper()
	ws, err := LoadWorkspace(filepath.Join(dir, "app", project.ManifestName))
	if err != nil {
		t.Fatalf("load workspace: %v", err)
	}
	return ws
}

func build(t *testing.T, ws *Workspace, opts BuildOptions) *Report {
	t.Helper()
	rep, err := Build(context.Background(), ws, opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, p := range rep.Failed() {
		t.Fatalf("%s failed: %v", p.Project.Name, p.Err)
	}
	return rep
}

func outcomes(rep *Report) []string {
	var out []string
	for _, p := range rep.Projects {
		out = append(out, p.Project.Name+":"+p.Result.Outcome.String())
	}
	return out
}

func projectReport(t *testing.T, rep *Report, name string) *ProjectReport {
	t.Helper()
	for _, p := range rep.Projects {
		if p.Project.Name == name {
			return p
		}
	}
	t.Fatalf("no report for %s", name)
	return nil
}

func TestWorkspaceOrder(t *testing.T) {
	ws := load(t, twoProjects(t))
	var names []string
	for _, p := range ws.Projects() {
		names = append(names, p.Name)
	}
	if !slices.Equal(names, []string{"lib", "app"}) || len(ws.Problems) != 0 {
		t.Fatalf("order = %v problems = %v", names, ws.Problems)
	}
}

func TestBuildAcrossRuns(t *testing.T) {
	dir := twoProjects(t)
	timer := observ.NewTimer()
	var phases []string
	rep := build(t, load(t, dir), BuildOptions{
		Timings: timer,
		OnPhase: func(e PhaseEvent) {
			if e.Status == PhaseEnd {
				phases = append(phases, e.Project+"/"+e.Name)
			}
		},
	})
	if got := outcomes(rep); !slices.Equal(got, []string{"lib:full", "app:full"}) {
		t.Fatalf("outcomes = %v", got)
	}
	if rep.HasErrors() {
		t.Fatalf("unexpected problems in %v", projectReport(t, rep, "app").Markers.All())
	}
	if !slices.Contains(phases, "app/build") || len(timer.Report().Phases) == 0 {
		t.Fatalf("phases = %v", phases)
	}
	if _, err := os.Stat(filepath.Join(dir, "app", "bin", "p", "A.klass")); err != nil {
		t.Fatalf("artifact of A: %v", err)
	}

	// a fresh run reads the saved state and snapshots
	rep = build(t, load(t, dir), BuildOptions{})
	if got := outcomes(rep); !slices.Equal(got, []string{"lib:nothing to do", "app:nothing to do"}) {
		t.Fatalf("outcomes = %v", got)
	}

	writeFile(t, filepath.Join(dir, "lib", "src", "l", "Base.kl"), "package l;\npublic class Base { public int m() { return 2; } }\n")
	rep = build(t, load(t, dir), BuildOptions{})
	if got := outcomes(rep); !slices.Equal(got, []string{"lib:incremental", "app:nothing to do"}) {
		t.Fatalf("body change: outcomes = %v", got)
	}

	writeFile(t, filepath.Join(dir, "lib", "src", "l", "Base.kl"), "package l;\npublic class Base { public int m() { return 2; } public void n() {} }\n")
	rep = build(t, load(t, dir), BuildOptions{})
	app := projectReport(t, rep, "app")
	if app.Result.Outcome != builder.OutcomeIncremental || !slices.Equal(app.Result.Compiled, []string{"src/p/A.kl"}) {
		t.Fatalf("app = %v compiled %v", app.Result.Outcome, app.Result.Compiled)
	}
}

func TestFailedBuildForgetsState(t *testing.T) {
	dir := twoProjects(t)
	build(t, load(t, dir), BuildOptions{})

	boom := errors.New("boom")
	writeFile(t, filepath.Join(dir, "app", "src", "p", "B.kl"), "package p;\nclass B { int x; }\n")
	rep, err := Build(context.Background(), load(t, dir), BuildOptions{
		Compiler: func(p *project.Project) (frontend.Compiler, error) {
			if p.Name == "app" {
				return frontend.CompilerFunc(func(context.Context, *frontend.Request) error { return boom }), nil
			}
			return embeddedCompiler(p)
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	failed := rep.Failed()
	if len(failed) != 1 || failed[0].Project.Name != "app" || !errors.Is(failed[0].Err, boom) {
		t.Fatalf("failed = %v", failed)
	}
	if !rep.HasErrors() {
		t.Fatalf("report without errors")
	}

	rep = build(t, load(t, dir), BuildOptions{})
	if app := projectReport(t, rep, "app"); app.Result.Outcome != builder.OutcomeFull || app.Result.Reason != "no saved build state" {
		t.Fatalf("app = %v (%s)", app.Result.Outcome, app.Result.Reason)
	}
}

func TestEditDuringBuildIsSeenNextTime(t *testing.T) {
	dir := twoProjects(t)
	build(t, load(t, dir), BuildOptions{})

	unitB := filepath.Join(dir, "app", "src", "p", "B.kl")
	writeFile(t, unitB, "package p;\nclass B { int v1; }\n")
	var saveErr error
	edited := false
	rep := build(t, load(t, dir), BuildOptions{
		Compiler: func(p *project.Project) (frontend.Compiler, error) {
			c, err := embeddedCompiler(p)
			if err != nil || p.Name != "app" {
				return c, err
			}
			return frontend.CompilerFunc(func(ctx context.Context, req *frontend.Request) error {
				err := c.Compile(ctx, req)
				if !edited {
					edited = true
					saveErr = os.WriteFile(unitB, []byte("package p;\nclass B { int v2; }\n"), 0o644)
				}
				return err
			}), nil
		},
	})
	if saveErr != nil {
		t.Fatal(saveErr)
	}
	if app := projectReport(t, rep, "app"); !slices.Equal(app.Result.Compiled, []string{"src/p/B.kl"}) {
		t.Fatalf("compiled = %v", app.Result.Compiled)
	}

	rep = build(t, load(t, dir), BuildOptions{})
	app := projectReport(t, rep, "app")
	if app.Result.Outcome != builder.OutcomeIncremental || !slices.Equal(app.Result.Compiled, []string{"src/p/B.kl"}) {
		t.Fatalf("app = %v compiled %v", app.Result.Outcome, app.Result.Compiled)
	}
	rep = build(t, load(t, dir), BuildOptions{})
	if got := outcomes(rep); !slices.Equal(got, []string{"lib:nothing to do", "app:nothing to do"}) {
		t.Fatalf("outcomes = %v", got)
	}
}

func TestCleanForcesFullBuild(t *testing.T) {
	dir := twoProjects(t)
	ws := load(t, dir)
	build(t, ws, BuildOptions{})
	if err := Clean(context.Background(), ws, CleanOptions{}); err != nil {
		t.Fatalf("clean: %v", err)
	}
	for _, p := range []string{"app/bin", "app/.kiln", "lib/bin"} {
		if _, err := os.Stat(filepath.Join(dir, p)); !os.IsNotExist(err) {
			t.Fatalf("%s survived clean: %v", p, err)
		}
	}
	rep := build(t, load(t, dir), BuildOptions{})
	if got := outcomes(rep); !slices.Equal(got, []string{"lib:full", "app:full"}) {
		t.Fatalf("outcomes = %v", got)
	}
}

func TestFullOption(t *testing.T) {
	dir := twoProjects(t)
	build(t, load(t, dir), BuildOptions{})
	rep := build(t, load(t, dir), BuildOptions{Full: true})
	if app := projectReport(t, rep, "app"); app.Result.Reason != "full build requested" {
		t.Fatalf("reason = %s", app.Result.Reason)
	}
}

func TestMissingPrerequisite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app", project.ManifestName), manifest("app", "../gone"))
	writeFile(t, filepath.Join(dir, "app", "src", "p", "A.kl"), "package p;\nclass A {}\n")
	ws := load(t, dir)
	if len(ws.Problems) != 1 || ws.Problems[0].Code != diag.BldMissingPrereq {
		t.Fatalf("problems = %v", ws.Problems)
	}
	rep := build(t, ws, BuildOptions{})
	if !rep.HasErrors() || len(rep.Projects) != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestCycleSettles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", project.ManifestName), manifest("a", "../b"))
	writeFile(t, filepath.Join(dir, "a", "src", "pa", "A.kl"), "package pa;\npublic class A {}\n")
	writeFile(t, filepath.Join(dir, "b", project.ManifestName), manifest("b", "../a"))
	writeFile(t, filepath.Join(dir, "b", "src", "pb", "B.kl"), "package pb;\nimport pa.A;\npublic class B extends A {}\n")

	ws, err := LoadWorkspace(filepath.Join(dir, "b", project.ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	if len(ws.Cycles) != 2 || len(ws.Order) != 0 {
		t.Fatalf("order %v cycles %v", ws.Order, ws.Cycles)
	}
	rep := build(t, ws, BuildOptions{})
	if len(rep.Projects) != 2 {
		t.Fatalf("projects = %v", outcomes(rep))
	}
	if b := projectReport(t, rep, "b"); b.Markers.HasErrors() {
		t.Fatalf("b problems = %v", b.Markers.All())
	}
}

func TestInspectAndMarkers(t *testing.T) {
	dir := twoProjects(t)
	writeFile(t, filepath.Join(dir, "app", "src", "p", "C.kl"), "package p;\nclass C extends Missing {}\n")
	ws := load(t, dir)
	build(t, ws, BuildOptions{})

	sums, err := InspectState(context.Background(), ws, true)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(sums) != 2 || !sums[1].Saved || sums[1].Types < 2 || len(sums[1].Units) != 3 {
		t.Fatalf("summaries = %+v", sums)
	}

	all, err := LoadMarkers(ws)
	if err != nil {
		t.Fatalf("markers: %v", err)
	}
	if all[1].Project.Name != "app" || !all[1].Markers.HasErrors() {
		t.Fatalf("markers = %+v", all)
	}
	if ds := all[1].Markers.Problems("src/p/C.kl"); len(ds) == 0 || ds[0].Code != diag.ResUndefinedType {
		t.Fatalf("C problems = %v", ds)
	}
}
