package ui

import (
	"io"
	"sync"

	"dockhand/internal/engine"
)

// QuietLogger stays silent except for failures.
type QuietLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func NewQuietLogger(out io.Writer) *QuietLogger {
	return &QuietLogger{out: out}
}

func (l *QuietLogger) StepStarting(engine.TaskStep) {}

func (l *QuietLogger) EventPosted(event engine.TaskEvent) {
	failure, ok := event.(engine.FailureEvent)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	failureBlock(l.out, failure.FailureMessage())
}

func (l *QuietLogger) DisplayFailure(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	failureBlock(l.out, message)
}

func (l *QuietLogger) RunFinished(result engine.RunResult, taskName string) {
	if !result.Aborted && result.ExitCode == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if result.Aborted {
		finalFailureLine(l.out, taskName)
	}
}
