// Package progress carries build progress events from the builder to
// whatever renders them.
package progress

import "time"

// Stage describes a build phase.
type Stage string

const (
	// StageScan covers snapshotting and delta computation.
	StageScan Stage = "scan"
	// StageAnalyze covers finding the units to compile.
	StageAnalyze Stage = "analyze"
	// StageCompile covers compiling a unit.
	StageCompile Stage = "compile"
	// StageWrite covers writing a unit's artifacts.
	StageWrite Stage = "write"
	// StageFinalize covers saving state and markers.
	StageFinalize Stage = "finalize"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the unit is waiting to compile.
	StatusQueued Status = "queued"
	// StatusWorking indicates the unit or phase is in progress.
	StatusWorking Status = "working"
	// StatusDone indicates the unit or phase finished.
	StatusDone Status = "done"
	// StatusError indicates the unit has errors or the phase failed.
	StatusError Status = "error"
)

// Event reports progress for a unit, or for the whole project when File
// is empty.
type Event struct {
	Project string
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
	// Problems is the number of errors and warnings the unit produced.
	Problems int
}

// Sink consumes progress events.
type Sink interface {
	OnEvent(Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) OnEvent(Event) {}

// Func adapts a function to Sink.
type Func func(Event)

func (f Func) OnEvent(evt Event) { f(evt) }

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// Multi fans an event out to every sink.
type Multi []Sink

func (m Multi) OnEvent(evt Event) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(evt)
		}
	}
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

// Add accumulates a duration for the given stage.
func (t *Timings) Add(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
	t.stages[stage] += dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
