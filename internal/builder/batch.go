package builder

import (
	"context"
	"fmt"

	"kiln/internal/progress"
	"kiln/internal/refs"
	"kiln/internal/trace"
)

// batchBuild compiles every source unit from clean outputs.
func (b *image) batchBuild(ctx context.Context) error {
	ctx, span := trace.Start(ctx, trace.ScopePass, "build.batch")
	defer span.End("")

	if b.cfg.Markers != nil {
		b.cfg.Markers.Clear()
	}
	if err := b.cleanOutputs(ctx); err != nil {
		return err
	}
	if err := b.copyResources(ctx); err != nil {
		return err
	}
	units, err := b.addAllSourceFiles(ctx)
	if err != nil {
		return err
	}
	span.WithExtra("units", fmt.Sprint(len(units)))
	for _, u := range units {
		b.queue.add(u.Locator)
		b.emit(progress.Event{File: u.Locator, Stage: progress.StageCompile, Status: progress.StatusQueued})
	}
	if err := b.compile(ctx, units); err != nil {
		return err
	}

	if len(b.undefinedLocators) > 0 && len(b.secondaryTypes) > 0 {
		b.rebuildTypesAffectedBySecondaryTypes(ctx)
	}
	if b.followUp || b.pending.len() > 0 {
		return b.buildAfterBatch(ctx)
	}
	return nil
}

// rebuildTypesAffectedBySecondaryTypes recompiles the units that could
// not see a secondary type because it was compiled in a later chunk.
// Only units that reported an undefined type are candidates.
func (b *image) rebuildTypesAffectedBySecondaryTypes(ctx context.Context) {
	names := refs.NewNameSet()
	for _, typeName := range b.secondaryTypes {
		b.addDependentsTo(ctx, names, typeName, false)
	}
	b.addAffectedFrom(ctx, names, b.undefinedLocators)
}

// buildAfterBatch runs incremental passes over the units queued during
// the batch build.
func (b *image) buildAfterBatch(ctx context.Context) error {
	trace.Log(ctx, trace.ScopePass, "build.after_batch", fmt.Sprint(b.pending.len()))
	b.incremental = true
	b.compiledAllAtOnce = false
	b.previous = nil
	return b.compileLoop(ctx, true)
}
