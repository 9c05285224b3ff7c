package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"dockhand/internal/engine"
	"dockhand/internal/graph"
)

type containerPhase uint8

const (
	phaseWaiting containerPhase = iota + 1
	phasePulling
	phaseBuilding
	phaseCreating
	phaseCreated
	phaseStarting
	phaseHealthWait
	phaseHealthy
	phaseRunning
	phaseExited
	phaseStopping
	phaseRemoving
	phaseRemoved
	phaseFailed
)

// FancyLogger maintains a cursor-addressed live region with one line per
// container, then transitions to a cleanup view once the task has run. Every
// update erases the previous region and rewrites it in place.
type FancyLogger struct {
	mu    sync.Mutex
	out   io.Writer
	width int

	order []string
	task  string
	// byImage maps a pull reference to the containers created from it.
	byImage map[string][]string

	phase  map[string]containerPhase
	detail map[string]string

	// suspended pauses redraws while the task container owns the terminal.
	suspended     bool
	cleanup       bool
	renderedLines int
}

func NewFancyLogger(out io.Writer, g *graph.Graph, width int) *FancyLogger {
	l := &FancyLogger{
		out:     out,
		width:   width,
		task:    g.TaskContainer,
		byImage: make(map[string][]string),
		phase:   make(map[string]containerPhase),
		detail:  make(map[string]string),
	}
	for _, container := range g.Containers() {
		l.order = append(l.order, container.Name)
		l.phase[container.Name] = phaseWaiting
		if container.Build == nil {
			l.byImage[container.Image] = append(l.byImage[container.Image], container.Name)
		}
	}
	return l
}

func (l *FancyLogger) StepStarting(step engine.TaskStep) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch s := step.(type) {
	case engine.BuildImageStep:
		l.setPhase(s.Container.Name, phaseBuilding, "")
	case engine.PullImageStep:
		for _, name := range l.byImage[s.Reference] {
			l.setPhase(name, phasePulling, "")
		}
	case engine.CreateContainerStep:
		l.setPhase(s.Container.Name, phaseCreating, "")
	case engine.StartContainerStep:
		l.setPhase(s.ContainerName, phaseStarting, "")
	case engine.WaitForHealthStep:
		l.setPhase(s.ContainerName, phaseHealthWait, "")
	case engine.RunContainerStep:
		// The task container takes over stdio; clear the region so its
		// output does not fight the cursor.
		l.phase[s.ContainerName] = phaseRunning
		l.clearRegion()
		l.suspended = true
		if len(s.Command) > 0 {
			fmt.Fprintf(l.out, "Running %s in %s...\n", Bold(strings.Join(s.Command, " ")), Bold(s.ContainerName))
		} else {
			fmt.Fprintf(l.out, "Running %s...\n", Bold(s.ContainerName))
		}
	case engine.StopContainerStep:
		l.enterCleanup()
		l.setPhase(s.ContainerName, phaseStopping, "")
	case engine.RemoveContainerStep:
		l.enterCleanup()
		l.setPhase(s.ContainerName, phaseRemoving, "")
	case engine.CleanUpContainerStep:
		l.enterCleanup()
		l.setPhase(s.ContainerName, phaseRemoving, "")
	}
}

func (l *FancyLogger) EventPosted(event engine.TaskEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if failure, ok := event.(engine.FailureEvent); ok {
		l.printAbove(ErrorStyle.Render(failure.FailureMessage()))
		if named, ok := failureContainer(failure); ok {
			l.setPhase(named, phaseFailed, "")
		}
		return
	}

	switch e := event.(type) {
	case engine.ImageBuildProgressEvent:
		l.setPhase(e.ContainerName, phaseBuilding, fmt.Sprintf("(%d/%d)", e.Step, e.Total))
	case engine.ImageBuiltEvent:
		l.setPhase(e.ContainerName, phaseWaiting, "image ready")
	case engine.ImagePulledEvent:
		for _, name := range l.byImage[e.Reference] {
			if l.phase[name] == phasePulling {
				l.setPhase(name, phaseWaiting, "image ready")
			}
		}
	case engine.ContainerCreatedEvent:
		l.setPhase(e.ContainerName, phaseCreated, "")
	case engine.ContainerStartedEvent:
		l.setPhase(e.ContainerName, phaseStarting, "")
	case engine.ContainerBecameHealthyEvent:
		l.setPhase(e.ContainerName, phaseHealthy, "")
	case engine.RunningContainerExitedEvent:
		l.phase[e.ContainerName] = phaseExited
		l.detail[e.ContainerName] = fmt.Sprintf("exit code %d", e.ExitCode)
		l.enterCleanup()
	case engine.ContainerStoppedEvent:
		l.setPhase(e.ContainerName, phaseStopping, "stopped")
	case engine.ContainerRemovedEvent:
		l.setPhase(e.ContainerName, phaseRemoved, "")
	}
}

func (l *FancyLogger) DisplayFailure(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.printAbove(ErrorStyle.Render(message))
}

func (l *FancyLogger) RunFinished(result engine.RunResult, taskName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.redraw()
	l.renderedLines = 0
	if result.Aborted {
		finalFailureLine(l.out, taskName)
	}
}

// setPhase updates one container line and redraws the region.
func (l *FancyLogger) setPhase(name string, phase containerPhase, detail string) {
	if _, ok := l.phase[name]; !ok {
		return
	}
	l.phase[name] = phase
	l.detail[name] = detail
	l.redraw()
}

// enterCleanup switches the region to the cleanup view.
func (l *FancyLogger) enterCleanup() {
	if l.cleanup {
		return
	}
	l.cleanup = true
	l.suspended = false
	l.renderedLines = 0
	fmt.Fprintln(l.out, Muted("Cleaning up..."))
	l.redraw()
}

// redraw reprints all lines in place. Caller must hold l.mu.
func (l *FancyLogger) redraw() {
	if l.suspended {
		return
	}
	lines := l.renderLines()
	if l.renderedLines > 0 {
		fmt.Fprintf(l.out, "\033[%dA", l.renderedLines)
	}
	for _, line := range lines {
		fmt.Fprintf(l.out, "\r%s\033[K\n", line)
	}
	for i := len(lines); i < l.renderedLines; i++ {
		fmt.Fprint(l.out, "\r\033[K\n")
	}
	l.renderedLines = len(lines)
}

// clearRegion erases the live region entirely. Caller must hold l.mu.
func (l *FancyLogger) clearRegion() {
	if l.renderedLines == 0 {
		return
	}
	fmt.Fprintf(l.out, "\033[%dA", l.renderedLines)
	for i := 0; i < l.renderedLines; i++ {
		fmt.Fprint(l.out, "\r\033[K\n")
	}
	fmt.Fprintf(l.out, "\033[%dA", l.renderedLines)
	l.renderedLines = 0
}

// printAbove writes a line that must survive above the live region.
func (l *FancyLogger) printAbove(message string) {
	rendered := l.renderedLines
	l.clearRegion()
	fmt.Fprintln(l.out, message)
	if rendered > 0 {
		l.redraw()
	}
}

func (l *FancyLogger) renderLines() []string {
	var lines []string
	for _, name := range l.order {
		phase := l.phase[name]
		if l.cleanup && !cleanupRelevant(phase) {
			continue
		}
		lines = append(lines, l.renderLine(name, phase))
	}
	return lines
}

func cleanupRelevant(phase containerPhase) bool {
	switch phase {
	case phaseCreated, phaseStarting, phaseHealthWait, phaseHealthy, phaseRunning,
		phaseExited, phaseStopping, phaseRemoving, phaseRemoved, phaseFailed:
		return true
	default:
		return false
	}
}

func (l *FancyLogger) renderLine(name string, phase containerPhase) string {
	icon, label := phaseStyle(phase)
	text := label
	if detail := l.detail[name]; detail != "" {
		if phase == phaseWaiting {
			text = detail
		} else {
			text += " " + detail
		}
	}

	plain := fmt.Sprintf("%s: %s", name, text)
	if l.width > 4 && len(plain)+4 > l.width {
		plain = plain[:l.width-5] + "…"
	}
	styled := plain
	if phase == phaseFailed {
		styled = ErrorStyle.Render(plain)
	} else if phase == phaseWaiting {
		styled = Muted(plain)
	}
	return "  " + icon + " " + styled
}

func phaseStyle(phase containerPhase) (icon, label string) {
	switch phase {
	case phasePulling:
		return Accent("↓"), "pulling"
	case phaseBuilding:
		return Accent("⚒"), "building"
	case phaseCreating:
		return Accent("·"), "creating"
	case phaseCreated:
		return Accent("·"), "created"
	case phaseStarting:
		return Accent("▸"), "starting"
	case phaseHealthWait:
		return Accent("…"), "waiting for healthcheck"
	case phaseHealthy:
		return Success("✓"), "healthy"
	case phaseRunning:
		return Accent("▸"), "running"
	case phaseExited:
		return Success("✓"), "finished"
	case phaseStopping:
		return Muted("▪"), "stopping"
	case phaseRemoving:
		return Muted("▪"), "removing"
	case phaseRemoved:
		return Success("✓"), "removed"
	case phaseFailed:
		return ErrorStyle.Render("✗"), "failed"
	default:
		return Muted("●"), "waiting"
	}
}

// failureContainer extracts the container a failure event is about, when it
// names one.
func failureContainer(failure engine.FailureEvent) (string, bool) {
	switch e := failure.(type) {
	case engine.ImageBuildFailedEvent:
		return e.ContainerName, true
	case engine.ContainerCreationFailedEvent:
		return e.ContainerName, true
	case engine.ContainerStartFailedEvent:
		return e.ContainerName, true
	case engine.ContainerDidNotBecomeHealthyEvent:
		return e.ContainerName, true
	case engine.ContainerStopFailedEvent:
		return e.ContainerName, true
	case engine.ContainerRemovalFailedEvent:
		return e.ContainerName, true
	default:
		return "", false
	}
}
