package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrchestrationFailedExitCode is returned when the run aborted before the
// task container produced an exit code of its own.
const OrchestrationFailedExitCode = 253

// EventSink observes the run for rendering. StepStarting is called from
// worker goroutines and EventPosted from the event goroutine, so
// implementations must be safe for concurrent use.
type EventSink interface {
	StepStarting(step TaskStep)
	EventPosted(event TaskEvent)
}

// RunResult summarizes one task run.
type RunResult struct {
	ExitCode int
	Aborted  bool
}

// Dispatcher drains the context's step queue with a bounded worker pool.
//
// Workers execute steps and post the resulting events back over a single
// channel; only the dispatcher goroutine touches the TaskContext, so event
// application is serialized while runtime calls run in parallel.
type Dispatcher struct {
	Context *TaskContext
	Runner  *StepRunner
	Sink    EventSink

	// Workers bounds step parallelism. Defaults to the logical core count.
	Workers int

	// Tracer, when set, records a span per executed step.
	Tracer trace.Tracer
}

type workerMsg struct {
	event TaskEvent
	done  bool
}

// Run drives the task to completion and returns its result. Cancelling ctx
// aborts the run; cleanup still executes, detached from the cancelled
// context.
func (d *Dispatcher) Run(ctx context.Context) RunResult {
	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Cleanup must survive ctx cancellation, so workers get their own
	// context that is only cancelled once the run has finished.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	stepCh := make(chan TaskStep)
	msgCh := make(chan workerMsg)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.worker(workerCtx, stepCh, msgCh, &wg)
	}

	d.Context.QueueStep(BeginTaskStep{})

	cancelled := ctx.Done()
	inflight := 0
	finished := false

	for !finished {
		step, ok := d.nextDispatchable(inflight)

		var sendCh chan TaskStep
		if ok {
			sendCh = stepCh
		} else if inflight == 0 {
			// No step is runnable and nothing is in flight: the state
			// machine cannot make progress. This is a programming error;
			// fail the run rather than hang.
			slog.Error("task run stalled with no runnable steps", "pending", len(d.Context.pending))
			break
		}

		select {
		case sendCh <- step:
			d.Context.popPendingStep(step.Key())
			inflight++
		case m := <-msgCh:
			if m.done {
				inflight--
				continue
			}
			d.Context.PostEvent(m.event)
			d.Sink.EventPosted(m.event)
			if m.event.Kind() == KindTaskFinished {
				finished = true
			}
		case <-cancelled:
			cancelled = nil
			d.Context.QueueStep(DisplayTaskFailureStep{
				Message: "Interrupt received: cleaning up and stopping the task.",
			})
			d.Context.beginAbort()
		}
	}

	// Late results from cancelled workers are discarded: the log is closed
	// once the terminal event has been observed.
	cancelWorkers()
	close(stepCh)
	go func() {
		wg.Wait()
		close(msgCh)
	}()
	for range msgCh {
	}

	return d.result()
}

// nextDispatchable picks the next step to hand to a worker. FinishTask is
// held back until it is the only remaining step and nothing is in flight, so
// late cleanup steps always run before the terminal event.
func (d *Dispatcher) nextDispatchable(inflight int) (TaskStep, bool) {
	for _, s := range d.Context.pending {
		if s.Kind() == StepFinishTask {
			if len(d.Context.pending) == 1 && inflight == 0 {
				return s, true
			}
			continue
		}
		return s, true
	}
	return nil, false
}

func (d *Dispatcher) worker(ctx context.Context, stepCh <-chan TaskStep, msgCh chan<- workerMsg, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case step, ok := <-stepCh:
			if !ok {
				return
			}
			d.Sink.StepStarting(step)
			d.runStep(ctx, step, msgCh)
			select {
			case msgCh <- workerMsg{done: true}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Dispatcher) runStep(ctx context.Context, step TaskStep, msgCh chan<- workerMsg) {
	if d.Tracer != nil {
		var span trace.Span
		ctx, span = d.Tracer.Start(ctx, "step "+step.Kind().String(),
			trace.WithAttributes(attribute.String("dockhand.step", step.String())))
		defer span.End()
	}

	d.Runner.Run(ctx, step, func(e TaskEvent) {
		select {
		case msgCh <- workerMsg{event: e}:
		case <-ctx.Done():
		}
	})
}

func (d *Dispatcher) result() RunResult {
	if code, ok := d.Context.TaskExitCode(); ok {
		return RunResult{ExitCode: code, Aborted: d.Context.IsAborting()}
	}
	return RunResult{ExitCode: OrchestrationFailedExitCode, Aborted: true}
}
