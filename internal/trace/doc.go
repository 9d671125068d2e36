// Package trace provides structured tracing for kiln builds.
//
// Tracing covers the build driver, each compile pass of the incremental
// loop, and per-unit decisions such as which source files were added to
// the affected set and why. It doubles as the build log.
//
// # Usage
//
//	kiln build --trace=- --trace-level=detail
//
// # Tracers
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: immediate write to a file or stderr
//   - RingTracer: circular buffer dumped when a build fails
//   - MultiTracer: fan-out to several tracers
//
// # Levels
//
//   - LevelOff: nothing
//   - LevelError: only crash dumps
//   - LevelPhase: build strategy and compile loop boundaries
//   - LevelDetail: per-unit propagation decisions
//   - LevelDebug: everything, including name-environment lookups
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopePass, "compile-loop", parentID)
//	defer span.End("")
package trace
