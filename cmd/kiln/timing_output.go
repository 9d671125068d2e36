package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"kiln/internal/observ"
)

// printTimings lists every phase, nested ones indented under their
// project.
func printTimings(out io.Writer, timer *observ.Timer) error {
	rep := timer.Report()
	if len(rep.Phases) == 0 {
		return nil
	}
	for _, ph := range rep.Phases {
		indent := ""
		if isNested(ph.Name) {
			indent = "  "
		}
		line := fmt.Sprintf("%s%-24s %8.1f ms", indent, ph.Name, ph.DurationMS)
		if ph.Note != "" {
			line += "  " + ph.Note
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "%-26s %8.1f ms\n", "total", rep.TotalMS)
	return err
}

func isNested(name string) bool { return strings.Contains(name, "/") }

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
