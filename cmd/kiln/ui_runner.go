package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"kiln/internal/driver"
	"kiln/internal/progress"
	"kiln/internal/ui"
)

type buildOutcome struct {
	report *driver.Report
	err    error
}

func runBuildWithUI(ctx context.Context, title string, ws *driver.Workspace, opts driver.BuildOptions) (*driver.Report, error) {
	events := make(chan progress.Event, 256)
	outcomeCh := make(chan buildOutcome, 1)

	go func() {
		opts.Progress = progress.ChannelSink{Ch: events}
		rep, err := driver.Build(ctx, ws, opts)
		outcomeCh <- buildOutcome{report: rep, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.report, uiErr
	}
	return outcome.report, outcome.err
}
