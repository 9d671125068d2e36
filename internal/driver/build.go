package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kiln/internal/builder"
	"kiln/internal/delta"
	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/frontend/kilnc"
	"kiln/internal/markers"
	"kiln/internal/observ"
	"kiln/internal/progress"
	"kiln/internal/project"
	"kiln/internal/state"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

// DefaultCycleRounds bounds how often projects in a prerequisite cycle
// are rebuilt while structural changes keep propagating.
const DefaultCycleRounds = 3

type BuildOptions struct {
	Full     bool
	Progress progress.Sink
	// MaxAtOnce overrides the manifests' chunk size when set.
	MaxAtOnce   *int
	CycleRounds int
	// Compiler overrides the embedded front-end; used by tests.
	Compiler func(p *project.Project) (frontend.Compiler, error)
	// Participants returns the build participants of a project.
	Participants func(p *project.Project) []builder.Participant
	// Timings collects phase durations; nil disables them.
	Timings *observ.Timer
	// OnPhase observes phase boundaries.
	OnPhase PhaseObserver
}

// ProjectReport is the outcome of building one project. Err is set when
// the build failed; the project's saved state was then dropped.
type ProjectReport struct {
	Project *project.Project
	Result  *builder.Result
	Err     error
	Markers *markers.Store
	Elapsed time.Duration
}

func (r *ProjectReport) HasErrors() bool {
	return r.Err != nil || r.Markers != nil && r.Markers.HasErrors()
}

// Report covers a workspace build. A project built more than once while
// a cycle settles is reported once, with its last result.
type Report struct {
	Projects []*ProjectReport
	Problems []diag.Diagnostic
	Elapsed  time.Duration
}

func (r *Report) HasErrors() bool {
	for _, p := range r.Problems {
		if p.Severity >= diag.SevError {
			return true
		}
	}
	for _, p := range r.Projects {
		if p.HasErrors() {
			return true
		}
	}
	return false
}

// Failed returns the projects whose build returned an error.
func (r *Report) Failed() []*ProjectReport {
	var out []*ProjectReport
	for _, p := range r.Projects {
		if p.Err != nil {
			out = append(out, p)
		}
	}
	return out
}

// run is one workspace build.
type run struct {
	ws    *Workspace
	opts  BuildOptions
	built map[string]*ProjectReport
	// states are the states produced in this run, by project root
	states map[string]*state.State
}

// Build builds every project of ws, prerequisites first. It returns an
// error only when the build could not run at all; per-project failures
// are in the report.
func Build(ctx context.Context, ws *Workspace, opts BuildOptions) (*Report, error) {
	if opts.CycleRounds <= 0 {
		opts.CycleRounds = DefaultCycleRounds
	}
	if opts.Compiler == nil {
		opts.Compiler = embeddedCompiler
	}
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "workspace.build")
	span.WithExtra("root", ws.Root.Name)
	start := time.Now()
	r := &run{
		ws:     ws,
		opts:   opts,
		built:  map[string]*ProjectReport{},
		states: map[string]*state.State{},
	}

	report := &Report{Problems: ws.Problems}
	for _, p := range ws.Order {
		if err := ctx.Err(); err != nil {
			span.End("cancelled")
			return nil, err
		}
		r.build(ctx, p)
	}
	if err := r.settleCycles(ctx); err != nil {
		span.End("cancelled")
		return nil, err
	}
	for _, p := range ws.Projects() {
		if pr, ok := r.built[p.Root]; ok {
			report.Projects = append(report.Projects, pr)
		}
	}
	report.Elapsed = time.Since(start)
	span.End(fmt.Sprintf("%d projects", len(report.Projects)))
	return report, nil
}

// settleCycles rebuilds the projects of a prerequisite cycle until a
// round produces no structural change or the round limit is hit.
func (r *run) settleCycles(ctx context.Context) error {
	if len(r.ws.Cycles) == 0 {
		return nil
	}
	for round := 1; round <= r.opts.CycleRounds; round++ {
		changed := false
		for _, p := range r.ws.Cycles {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep := r.build(ctx, p)
			if rep.Err == nil && rep.Result.Outcome != builder.OutcomeNothing && rep.Result.StructuralChanges {
				changed = true
			}
		}
		trace.Log(ctx, trace.ScopeDriver, "cycle.round", fmt.Sprintf("%d changed=%v", round, changed))
		if !changed {
			return nil
		}
	}
	return nil
}

func embeddedCompiler(p *project.Project) (frontend.Compiler, error) {
	opts, err := kilnc.OptionsFor(p)
	if err != nil {
		return nil, err
	}
	return kilnc.New(opts), nil
}

func (r *run) phase(p *project.Project, name string) func(note string) {
	full := p.Name + "/" + name
	done := r.opts.Timings.Track(full)
	if r.opts.OnPhase != nil {
		r.opts.OnPhase(PhaseEvent{Project: p.Name, Name: name, Status: PhaseStart})
	}
	start := time.Now()
	return func(note string) {
		done(note)
		if r.opts.OnPhase != nil {
			r.opts.OnPhase(PhaseEvent{Project: p.Name, Name: name, Status: PhaseEnd, Elapsed: time.Since(start)})
		}
	}
}

func (r *run) build(ctx context.Context, p *project.Project) *ProjectReport {
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "project.build")
	span.WithExtra("project", p.Name)
	outer := r.opts.Timings.Track(p.Name)
	start := time.Now()

	rep := &ProjectReport{Project: p}
	err := r.buildProject(ctx, p, rep)
	rep.Elapsed = time.Since(start)
	if err != nil {
		rep.Err = err
		rep.Result = nil
		if rep.Markers != nil {
			rep.Markers.AddProblems(project.ManifestName,
				diag.NewError(diag.BldInternal, diag.Span{Locator: project.ManifestName}, err.Error()))
		}
		delete(r.states, p.Root)
		span.End("error: " + err.Error())
		outer("failed")
	} else {
		r.states[p.Root] = rep.Result.State
		span.End(rep.Result.Outcome.String())
		outer(rep.Result.Outcome.String())
	}
	r.built[p.Root] = rep
	return rep
}

func (r *run) buildProject(ctx context.Context, p *project.Project, rep *ProjectReport) error {
	st, err := openStores(p)
	if err != nil {
		return err
	}
	fsys := workspace.NewOSFileSystem(p.Root)

	done := r.phase(p, "load")
	last, err := st.loadState(ctx)
	if err == nil {
		rep.Markers, err = loadMarkers(st)
	}
	done("")
	if err != nil {
		return err
	}

	done = r.phase(p, "scan")
	sc, err := r.scan(ctx, p, st, fsys, last)
	done("")
	if err != nil {
		return err
	}

	compiler, err := r.opts.Compiler(p)
	if err != nil {
		return fmt.Errorf("%s: %w", p.Name, err)
	}
	cfg := builder.Config{
		Project:   p,
		FS:        fsys,
		Compiler:  compiler,
		Prereqs:   sc.prereqs,
		Markers:   rep.Markers,
		Progress:  r.opts.Progress,
		MaxAtOnce: r.opts.MaxAtOnce,
	}
	if r.opts.Participants != nil {
		cfg.Participants = r.opts.Participants(p)
	}
	bl, err := builder.New(cfg)
	if err != nil {
		return err
	}

	done = r.phase(p, "build")
	res, err := bl.Build(ctx, sc.req)
	if err != nil {
		done("failed")
		return errors.Join(err, st.forget(), rep.Markers.Save(st.markers))
	}
	done(fmt.Sprintf("%s, %d compiled", res.Outcome, len(res.Compiled)))
	rep.Result = res

	done = r.phase(p, "save")
	defer done("")
	return r.save(ctx, p, st, fsys, res, rep.Markers, sc)
}

// scanResult is what a build starts from: the request, the prerequisites
// and the snapshots to save once the build succeeds.
type scanResult struct {
	req         builder.Request
	prereqs     []*builder.Prereq
	self        *delta.Snapshot
	prereqSnaps map[string]*delta.Snapshot
}

// scan snapshots the project and every prerequisite's outputs and diffs
// them against the snapshots saved by the last build.
func (r *run) scan(ctx context.Context, p *project.Project, st *stores, fsys workspace.FileSystem, last *state.State) (*scanResult, error) {
	sc := &scanResult{
		req:         builder.Request{Last: last, PrereqDeltas: map[string]*delta.Delta{}},
		prereqSnaps: map[string]*delta.Snapshot{},
	}
	if r.opts.Full {
		sc.req.Kind = builder.KindFull
	}
	// sources edited while the build runs must show up as changes next
	// time, so they are recorded as they were before the build
	cur, err := takeSnapshot(ctx, fsys, snapshotRoots(p))
	if err != nil {
		return nil, err
	}
	sc.self = cur
	if last != nil && !r.opts.Full {
		prev, err := st.loadSnapshot(ctx, selfKey)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			sc.req.Delta = delta.Diff(prev, cur)
			trace.Log(ctx, trace.ScopeDriver, "delta", fmt.Sprintf("%d changes", len(sc.req.Delta.Lines())))
		}
	}

	for _, pp := range r.ws.prereqsOf(p) {
		pfs := workspace.NewOSFileSystem(pp.Root)
		sc.prereqs = append(sc.prereqs, &builder.Prereq{Project: pp, FS: pfs, State: r.stateOf(ctx, pp)})
		cur, err := takeSnapshot(ctx, pfs, pp.Outputs())
		if err != nil {
			return nil, err
		}
		sc.prereqSnaps[pp.Root] = cur
		prev, err := st.loadSnapshot(ctx, prereqKey(pp))
		if err != nil {
			return nil, err
		}
		if prev != nil {
			sc.req.PrereqDeltas[pp.Root] = delta.Diff(prev, cur)
		}
	}
	return sc, nil
}

// stateOf returns the state of a prerequisite: the one built in this run,
// or the saved one for a prerequisite not built yet.
func (r *run) stateOf(ctx context.Context, p *project.Project) *state.State {
	if s, ok := r.states[p.Root]; ok {
		return s
	}
	if rep, ok := r.built[p.Root]; ok && rep.Err != nil {
		return nil
	}
	st, err := openStores(p)
	if err != nil {
		return nil
	}
	s, err := st.loadState(ctx)
	if err != nil {
		trace.Log(ctx, trace.ScopeDriver, "prereq.state", err.Error())
		return nil
	}
	return s
}

func (r *run) save(ctx context.Context, p *project.Project, st *stores, fsys workspace.FileSystem, res *builder.Result, mk *markers.Store, sc *scanResult) error {
	if res.Outcome != builder.OutcomeNothing {
		if err := st.state.Save(p.ID(), res.State); err != nil {
			return fmt.Errorf("save state of %s: %w", p.Name, err)
		}
	}
	// outputs are taken again so the build's own writes are not seen as
	// changes next time
	outputs, err := takeSnapshot(ctx, fsys, p.Outputs())
	if err != nil {
		return err
	}
	if err := st.snaps.Save(selfKey, sc.self.Overlay(outputs)); err != nil {
		return fmt.Errorf("save snapshot of %s: %w", p.Name, err)
	}
	for _, pp := range r.ws.prereqsOf(p) {
		if snap, ok := sc.prereqSnaps[pp.Root]; ok {
			if err := st.snaps.Save(prereqKey(pp), snap); err != nil {
				return fmt.Errorf("save snapshot of %s: %w", pp.Name, err)
			}
		}
	}
	return mk.Save(st.markers)
}
