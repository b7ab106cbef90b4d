package buildpipeline

import "time"

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageReset purges artifacts of previous runs.
	StageReset Stage = "reset"
	// StageConfigure loads the target descriptor and applies the codegen policy.
	StageConfigure Stage = "configure"
	// StageCompile builds the core library through the external staged builder.
	StageCompile Stage = "compile"
	// StageLink hands the artifact set to the external link script.
	StageLink Stage = "link"
)

// Stages lists the pipeline phases in execution order.
func Stages() []Stage {
	return []Stage{StageReset, StageConfigure, StageCompile, StageLink}
}

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the stage is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the stage is currently working.
	StatusWorking Status = "working"
	// StatusDone indicates the stage is done.
	StatusDone Status = "done"
	// StatusError indicates the stage encountered an error.
	StatusError Status = "error"
	// StatusSkipped indicates the stage was not run (e.g. --no-link).
	StatusSkipped Status = "skipped"
)

// State is the lifecycle state of one pipeline run.
type State string

const (
	// StateIdle is the state before the run starts.
	StateIdle State = "idle"
	// StateConfiguring covers descriptor loading and policy validation.
	StateConfiguring State = "configuring"
	// StateCompiling covers the external builder invocation.
	StateCompiling State = "compiling"
	// StateComplete is the terminal success state.
	StateComplete State = "complete"
	// StateFailed is the terminal failure state. No retries follow: for a
	// from-scratch target a failure is a configuration defect, not a
	// transient condition.
	StateFailed State = "failed"
)

// Event reports progress for one pipeline stage.
type Event struct {
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

func emitStage(sink ProgressSink, stage Stage, status Status, err error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.OnEvent(Event{Stage: stage, Status: status, Err: err, Elapsed: elapsed})
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
