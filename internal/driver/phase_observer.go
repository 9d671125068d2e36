package driver

import "time"

// PhaseStatus reports whether a phase started or finished.
type PhaseStatus int

const (
	PhaseStart PhaseStatus = iota
	PhaseEnd
)

// PhaseEvent marks a phase boundary of one project's build: load, scan,
// build or save.
type PhaseEvent struct {
	Project string
	Name    string
	Status  PhaseStatus
	Elapsed time.Duration // set on PhaseEnd
}

// PhaseObserver receives phase events in the order they happen.
type PhaseObserver func(PhaseEvent)
