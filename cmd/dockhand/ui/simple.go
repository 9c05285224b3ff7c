package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"dockhand/internal/engine"
)

// SimpleLogger writes one line per salient event. Output is append-only; no
// cursor movement.
type SimpleLogger struct {
	mu         sync.Mutex
	out        io.Writer
	cleaningUp bool
}

func NewSimpleLogger(out io.Writer) *SimpleLogger {
	return &SimpleLogger{out: out}
}

func (l *SimpleLogger) StepStarting(step engine.TaskStep) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch s := step.(type) {
	case engine.BuildImageStep:
		fmt.Fprintf(l.out, "Building %s...\n", Bold(s.Container.Name))
	case engine.PullImageStep:
		fmt.Fprintf(l.out, "Pulling %s...\n", Bold(s.Reference))
	case engine.StartContainerStep:
		fmt.Fprintf(l.out, "Starting dependency %s...\n", Bold(s.ContainerName))
	case engine.WaitForHealthStep:
		fmt.Fprintf(l.out, "Waiting for dependency %s to become healthy...\n", Bold(s.ContainerName))
	case engine.RunContainerStep:
		if len(s.Command) > 0 {
			fmt.Fprintf(l.out, "Running %s in %s...\n", Bold(strings.Join(s.Command, " ")), Bold(s.ContainerName))
			return
		}
		fmt.Fprintf(l.out, "Running %s...\n", Bold(s.ContainerName))
	case engine.StopContainerStep, engine.RemoveContainerStep, engine.CleanUpContainerStep, engine.DeleteTaskNetworkStep:
		l.printCleaningUp()
	}
}

func (l *SimpleLogger) printCleaningUp() {
	if l.cleaningUp {
		return
	}
	l.cleaningUp = true
	fmt.Fprintln(l.out, Muted("Cleaning up..."))
}

func (l *SimpleLogger) EventPosted(event engine.TaskEvent) {
	failure, ok := event.(engine.FailureEvent)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	failureBlock(l.out, failure.FailureMessage())
}

func (l *SimpleLogger) DisplayFailure(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	failureBlock(l.out, message)
}

func (l *SimpleLogger) RunFinished(result engine.RunResult, taskName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if result.Aborted {
		finalFailureLine(l.out, taskName)
	}
}
