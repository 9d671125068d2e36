// Package diag defines the problem and task model produced by a build.
//
// A Diagnostic is what the build attaches to a source unit: compile
// problems reported by the front-end, builder problems (duplicate types,
// artifact collisions, broken prerequisites) and task tags found in
// comments. Diagnostics are plain values so they can be persisted as
// markers between builds (see internal/markers) and rendered by
// internal/diagfmt.
//
// Producers emit through a Reporter; BagReporter collects into a Bag and
// DedupReporter drops repeats such as the same undefined type reported
// once per reference.
package diag
