package builder

import (
	"context"
	"slices"

	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/project"
	"kiln/internal/trace"
)

// Participant takes part in every build of a project: it sees the units
// about to compile and may generate or delete source files.
type Participant interface {
	Name() string
	// IsAnnotationProcessor selects ProcessAnnotations after each pass.
	IsAnnotationProcessor() bool
	// AboutToBuild runs before strategy selection; true forces a full
	// build.
	AboutToBuild(p *project.Project) (needsFullBuild bool)
	// Process runs before each compile pass with the units of the pass.
	Process(ctx context.Context, units []*frontend.SourceUnit, full bool) ([]ParticipantResult, error)
	// ProcessAnnotations runs after a pass for annotation processors.
	ProcessAnnotations(ctx context.Context, units []AnnotatedUnit) ([]ParticipantResult, error)
	BuildFinished(p *project.Project)
}

// AnnotatedUnit is a unit a pass compiled, for annotation processors.
type AnnotatedUnit struct {
	Unit           *frontend.SourceUnit
	HasAnnotations bool
}

// ParticipantResult is what a participant reports for one unit. Added
// and Deleted hold locators of generated source files.
type ParticipantResult struct {
	Unit     *frontend.SourceUnit
	Added    []string
	Deleted  []string
	Problems []diag.Diagnostic
}

func (b *image) notifyParticipants(ctx context.Context, units []*frontend.SourceUnit) ([]*frontend.SourceUnit, []ParticipantResult, error) {
	if len(b.cfg.Participants) == 0 {
		return units, nil, nil
	}
	var all []ParticipantResult
	seen := newUnitSet()
	for _, u := range units {
		seen.add(u)
	}
	for _, pt := range b.cfg.Participants {
		results, err := pt.Process(ctx, units, !b.incremental)
		if err != nil {
			return nil, nil, &InternalError{Op: "participant " + pt.Name(), Err: err}
		}
		for _, r := range results {
			if b.incremental {
				if err := b.deleteGeneratedFiles(ctx, r.Deleted); err != nil {
					return nil, nil, err
				}
			}
			for _, loc := range r.Added {
				u := b.findSourceUnit(loc, true)
				if u == nil || !seen.add(u) {
					continue
				}
				trace.Log(ctx, trace.ScopeModule, "participant.added", loc)
				b.queue.add(u.Locator)
				units = append(units, u)
			}
		}
		all = append(all, results...)
	}
	return units, all, nil
}

func (b *image) recordParticipantResults(results []ParticipantResult) {
	for _, r := range results {
		if r.Unit == nil || len(r.Problems) == 0 || b.cfg.Markers == nil {
			continue
		}
		ds := slices.Clone(r.Problems)
		for i := range ds {
			if ds[i].Code == diag.UnknownCode {
				ds[i].Code = diag.BldParticipant
			}
		}
		b.cfg.Markers.AddProblems(r.Unit.Locator, ds...)
	}
}

// processAnnotations hands the compiled units to annotation processors.
// Generated files are compiled in a follow-up pass.
func (b *image) processAnnotations(ctx context.Context, units []*frontend.SourceUnit) error {
	var aps []Participant
	for _, pt := range b.cfg.Participants {
		if pt.IsAnnotationProcessor() {
			aps = append(aps, pt)
		}
	}
	if len(aps) == 0 {
		return nil
	}
	annotated := make([]AnnotatedUnit, 0, len(units))
	for _, u := range units {
		annotated = append(annotated, AnnotatedUnit{Unit: u, HasAnnotations: b.annotated[u.Locator]})
	}
	for _, ap := range aps {
		results, err := ap.ProcessAnnotations(ctx, annotated)
		if err != nil {
			return &InternalError{Op: "annotation processor " + ap.Name(), Err: err}
		}
		if err := b.processAnnotationResults(ctx, results); err != nil {
			return err
		}
	}
	return nil
}

func (b *image) processAnnotationResults(ctx context.Context, results []ParticipantResult) error {
	for _, r := range results {
		if err := b.deleteGeneratedFiles(ctx, r.Deleted); err != nil {
			return err
		}
		for _, loc := range r.Added {
			u := b.findSourceUnit(loc, true)
			if u == nil {
				continue
			}
			if b.pending.add(u) {
				b.followUp = true
			}
		}
		b.recordParticipantResults([]ParticipantResult{r})
	}
	return nil
}

// deleteGeneratedFiles forgets generated units that no longer exist and
// removes their artifacts.
func (b *image) deleteGeneratedFiles(ctx context.Context, locators []string) error {
	for _, loc := range locators {
		if b.fs.Exists(loc) {
			continue
		}
		u := b.findSourceUnit(loc, false)
		if u == nil {
			continue
		}
		b.addDependentsOf(ctx, u.InitialTypeName, true)
		b.previous = nil
		if names, ok := b.state.DefinedTypeNamesFor(loc); ok {
			pkg := u.PackageName()
			for _, name := range names {
				if err := b.removeArtifact(ctx, joinPackage(pkg, name), u.OutputDir()); err != nil {
					return err
				}
			}
		} else if err := b.removeArtifact(ctx, u.InitialTypeName, u.OutputDir()); err != nil {
			return err
		}
		b.state.RemoveLocator(loc)
		if b.cfg.Markers != nil {
			b.cfg.Markers.Remove(loc)
		}
	}
	return nil
}
