// Package builder keeps a project's output folders consistent with its
// sources. A build is either full (clean outputs, compile everything) or
// incremental: compile what changed, then keep compiling the units that
// reference types whose shape changed until nothing is left.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kiln/internal/delta"
	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/progress"
	"kiln/internal/project"
	"kiln/internal/state"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

// Prereq is a prerequisite project whose output folders are searched for
// compiled types.
type Prereq struct {
	Project *project.Project
	FS      workspace.FileSystem // rooted at Project.Root
	State   *state.State         // nil when it has never been built
}

// Markers receives the problems and tasks of compiled units.
type Markers interface {
	SetProblems(locator string, ds []diag.Diagnostic)
	AddProblems(locator string, ds ...diag.Diagnostic)
	SetTasks(locator string, ds []diag.Diagnostic)
	Remove(locator string)
	RemoveUnder(dir string)
	Clear()
}

type Config struct {
	Project  *project.Project
	FS       workspace.FileSystem // rooted at Project.Root
	Compiler frontend.Compiler

	Prereqs      []*Prereq
	Participants []Participant
	Markers      Markers
	Progress     progress.Sink

	// MaxAtOnce and MaxCompileLoop override the project options when set.
	MaxAtOnce      *int
	MaxCompileLoop int
	// Clock drives structural build times; nil uses the wall clock.
	Clock func() time.Time
}

// Kind selects the build strategy.
type Kind uint8

const (
	// KindAuto builds incrementally when the saved state allows it.
	KindAuto Kind = iota
	KindFull
)

type Request struct {
	Kind Kind
	Last *state.State
	// Delta is the change to the project since Last was saved; nil
	// means unknown and forces a full build.
	Delta *delta.Delta
	// PrereqDeltas holds the change to each prerequisite, keyed by its
	// project root.
	PrereqDeltas map[string]*delta.Delta
}

// Outcome tells what a build did.
type Outcome uint8

const (
	OutcomeNothing Outcome = iota
	OutcomeFull
	OutcomeIncremental
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFull:
		return "full"
	case OutcomeIncremental:
		return "incremental"
	default:
		return "nothing to do"
	}
}

type Result struct {
	Outcome Outcome
	// Reason explains why a full build ran.
	Reason string
	// State is the state to persist. It is req.Last when nothing was
	// done.
	State *state.State
	// Compiled lists the locators compiled, in acceptance order.
	Compiled          []string
	Loops             int
	StructuralChanges bool
	Elapsed           time.Duration
}

type Builder struct {
	cfg Config
}

func New(cfg Config) (*Builder, error) {
	if cfg.Project == nil || cfg.FS == nil || cfg.Compiler == nil {
		return nil, errors.New("builder: project, file system and compiler are required")
	}
	return &Builder{cfg: cfg}, nil
}

// Build runs one build. An incremental build that cannot be completed
// safely falls back to a full build. On error the outputs are in an
// unknown state and no state should be saved.
func (bl *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	p := bl.cfg.Project
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "build")
	span.WithExtra("project", p.Name)
	start := time.Now()

	needsFull := false
	for _, pt := range bl.cfg.Participants {
		if pt.AboutToBuild(p) {
			needsFull = true
		}
	}
	defer func() {
		for _, pt := range bl.cfg.Participants {
			pt.BuildFinished(p)
		}
	}()

	res, err := bl.build(ctx, req, needsFull)
	if err != nil {
		span.End("error: " + err.Error())
		bl.emit(progress.Event{Stage: progress.StageCompile, Status: progress.StatusError, Err: err, Elapsed: time.Since(start)})
		return nil, err
	}
	res.Elapsed = time.Since(start)
	span.End(res.Outcome.String())
	bl.emit(progress.Event{Stage: progress.StageCompile, Status: progress.StatusDone, Elapsed: res.Elapsed})
	return res, nil
}

func (bl *Builder) build(ctx context.Context, req Request, needsFull bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := bl.cfg.Project
	if len(p.SourceRoots) == 0 {
		st := bl.newState(req.Last)
		st.TagAsNoopBuild()
		return &Result{Outcome: OutcomeFull, Reason: "no source roots", State: st}, nil
	}

	reason := bl.fullBuildReason(req, needsFull)
	if reason == "" {
		if !bl.hasChanges(req) {
			trace.Log(ctx, trace.ScopeDriver, "build.skip", "no changes")
			return &Result{Outcome: OutcomeNothing, State: req.Last}, nil
		}
		res, err := bl.buildIncremental(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrAbortIncremental) {
			return nil, err
		}
		reason = err.Error()
		trace.Log(ctx, trace.ScopeDriver, "build.escalate", reason)
	}
	return bl.buildFull(ctx, req, reason)
}

func (bl *Builder) fullBuildReason(req Request, needsFull bool) string {
	p := bl.cfg.Project
	switch {
	case req.Kind == KindFull:
		return "full build requested"
	case req.Last == nil:
		return "no saved build state"
	case req.Last.ConfigFingerprint != p.ConfigFingerprint():
		return "project configuration changed"
	case req.Last.CompilerFingerprint != p.CompilerFingerprint():
		return "compiler options changed"
	case needsFull:
		return "a build participant asked for a full build"
	case req.Delta == nil:
		return "workspace delta unavailable"
	}
	for _, pr := range bl.cfg.Prereqs {
		if _, ok := req.PrereqDeltas[pr.Project.Root]; !ok {
			return fmt.Sprintf("delta of prerequisite %s unavailable", pr.Project.Name)
		}
	}
	return ""
}

func (bl *Builder) hasChanges(req Request) bool {
	if !req.Delta.Empty() {
		return true
	}
	for _, pr := range bl.cfg.Prereqs {
		if pr.State != nil && !req.Last.PrereqChanged(pr.State) {
			continue
		}
		if !req.PrereqDeltas[pr.Project.Root].Empty() {
			return true
		}
	}
	return false
}

func (bl *Builder) newState(last *state.State) *state.State {
	st := state.New(bl.cfg.Project, last)
	if bl.cfg.Clock != nil {
		st.SetClock(bl.cfg.Clock)
	}
	return st
}

func (bl *Builder) buildIncremental(ctx context.Context, req Request) (*Result, error) {
	st := state.Incremental(req.Last)
	if bl.cfg.Clock != nil {
		st.SetClock(bl.cfg.Clock)
	}
	b := newImage(&bl.cfg, st, true)
	if err := b.incrementalBuild(ctx, &req); err != nil {
		return nil, err
	}
	bl.recordPrereqs(st)
	return &Result{
		Outcome:           OutcomeIncremental,
		State:             st,
		Compiled:          b.compiled,
		Loops:             b.loops,
		StructuralChanges: b.hasStructuralChanges,
	}, nil
}

func (bl *Builder) buildFull(ctx context.Context, req Request, reason string) (*Result, error) {
	trace.Log(ctx, trace.ScopeDriver, "build.full", reason)
	st := bl.newState(req.Last)
	b := newImage(&bl.cfg, st, false)
	if err := b.batchBuild(ctx); err != nil {
		if errors.Is(err, ErrAbortIncremental) {
			// the follow-up passes of a full build cannot fall back further
			return nil, &InternalError{Op: "full build", Err: err}
		}
		return nil, err
	}
	bl.recordPrereqs(st)
	return &Result{
		Outcome:           OutcomeFull,
		Reason:            reason,
		State:             st,
		Compiled:          b.compiled,
		Loops:             b.loops,
		StructuralChanges: true,
	}, nil
}

func (bl *Builder) recordPrereqs(st *state.State) {
	for _, pr := range bl.cfg.Prereqs {
		st.RecordStructuralDependency(pr.State)
	}
}

func (bl *Builder) emit(evt progress.Event) {
	if bl.cfg.Progress == nil {
		return
	}
	evt.Project = bl.cfg.Project.Name
	bl.cfg.Progress.OnEvent(evt)
}
