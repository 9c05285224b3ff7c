package ui

import (
	"fmt"
	"io"
	"os"

	"dockhand/internal/engine"
	"dockhand/internal/graph"
)

// OutputMode selects how task progress is rendered.
type OutputMode uint8

const (
	// OutputAuto picks fancy when the terminal supports it, simple otherwise.
	OutputAuto OutputMode = iota + 1
	OutputFancy
	OutputSimple
	OutputQuiet
)

// EventLogger observes a task run and renders it. StepStarting and
// EventPosted arrive from different goroutines; implementations serialize
// internally.
type EventLogger interface {
	StepStarting(step engine.TaskStep)
	EventPosted(event engine.TaskEvent)
	DisplayFailure(message string)
	RunFinished(result engine.RunResult, taskName string)
}

// SelectEventLogger picks the logger for a run. Fancy output needs an
// interactive terminal with a known width; without one it downgrades to
// simple.
func SelectEventLogger(mode OutputMode, g *graph.Graph) EventLogger {
	out := os.Stderr
	switch mode {
	case OutputQuiet:
		return NewQuietLogger(out)
	case OutputSimple:
		return NewSimpleLogger(out)
	case OutputFancy:
		if width := TerminalWidth(); width > 0 {
			return NewFancyLogger(out, g, width)
		}
		return NewSimpleLogger(out)
	default:
		if IsInteractive() {
			if width := TerminalWidth(); width > 0 {
				return NewFancyLogger(out, g, width)
			}
		}
		return NewSimpleLogger(out)
	}
}

// failureBlock renders a failure message as a red paragraph.
func failureBlock(w io.Writer, message string) {
	fmt.Fprintln(w, ErrorStyle.Render(message))
}

// finalFailureLine closes a failed run, pointing at the details above.
func finalFailureLine(w io.Writer, taskName string) {
	fmt.Fprintln(w, ErrorStyle.Render(fmt.Sprintf("The task %q failed. See above for details.", taskName)))
}
