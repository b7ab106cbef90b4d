package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"kforge/internal/buildpipeline"
	"kforge/internal/ui"
)

type pipelineOutcome struct {
	result buildpipeline.Result
	err    error
}

func runPipelineWithUI(ctx context.Context, title string, req *buildpipeline.Request) (buildpipeline.Result, error) {
	if req == nil {
		return buildpipeline.Result{}, fmt.Errorf("missing build request")
	}
	events := make(chan buildpipeline.Event, 64)
	outcomeCh := make(chan pipelineOutcome, 1)

	go func() {
		reqCopy := *req
		reqCopy.Progress = buildpipeline.ChannelSink{Ch: events}
		// The builder's own stdout would tear the TUI apart.
		reqCopy.Quiet = true
		res, err := buildpipeline.Run(ctx, &reqCopy)
		outcomeCh <- pipelineOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, events)
	program := tea.NewProgram(model)
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}
