package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/realtime"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Snapshot is a point-in-time copy of an Execution.
type Snapshot struct {
	State     State
	Step      string
	Err       error
	Fragments domain.Fragments
}

// Execution is the state of one pipeline run. It moves
// Pending -> Running -> Succeeded | Failed | Cancelled exactly once.
type Execution struct {
	mu        sync.Mutex
	state     State
	step      string
	err       error
	fragments domain.Fragments

	cancelOnce sync.Once
	cancelled  chan struct{}
}

func NewExecution() *Execution {
	return &Execution{state: StatePending, cancelled: make(chan struct{})}
}

// Cancel requests cancellation. The pipeline notices at the next step boundary.
func (e *Execution) Cancel() {
	e.cancelOnce.Do(func() { close(e.cancelled) })
}

func (e *Execution) CancelRequested() bool {
	select {
	case <-e.cancelled:
		return true
	default:
		return false
	}
}

func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{State: e.state, Step: e.step, Err: e.err, Fragments: e.fragments}
}

func (e *Execution) start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePending {
		return false
	}
	e.state = StateRunning
	return true
}

func (e *Execution) enter(step string) {
	e.mu.Lock()
	e.step = step
	e.mu.Unlock()
}

func (e *Execution) finish(state State, frags domain.Fragments, err error) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.fragments = frags
	e.err = err
	return Snapshot{State: e.state, Step: e.step, Err: e.err, Fragments: e.fragments}
}

// Pipeline runs a fixed sequence of named steps strictly in order.
type Pipeline struct {
	log     *logger.Logger
	metrics *observability.Metrics
	steps   []Step
}

func NewPipeline(log *logger.Logger, metrics *observability.Metrics, steps ...Step) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: pipeline needs at least one step", domain.ErrInvalidArgument)
	}
	seen := map[string]bool{}
	for _, s := range steps {
		if s == nil || strings.TrimSpace(s.Name()) == "" {
			return nil, fmt.Errorf("%w: step without a name", domain.ErrInvalidArgument)
		}
		if seen[s.Name()] {
			return nil, fmt.Errorf("%w: duplicate step %q", domain.ErrInvalidArgument, s.Name())
		}
		seen[s.Name()] = true
	}
	return &Pipeline{log: log.With("component", "Pipeline"), metrics: metrics, steps: steps}, nil
}

func (p *Pipeline) StepNames() []string {
	out := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		out = append(out, s.Name())
	}
	return out
}

// Execute drives exec to a terminal state. Progress is handed to sink as
// progress events, synchronously and in order. Start and terminal events
// belong to the caller.
func (p *Pipeline) Execute(ctx context.Context, exec *Execution, in *Input, sink func(realtime.Event)) Snapshot {
	if !exec.start() {
		return exec.Snapshot()
	}
	if sink == nil {
		sink = func(realtime.Event) {}
	}
	var col collector

	for _, step := range p.steps {
		if p.stopRequested(ctx, exec) {
			return exec.finish(StateCancelled, nil, domain.ErrCancelled)
		}
		name := step.Name()
		exec.enter(name)

		sc := &StepContext{
			Ctx:   ctx,
			Input: in,
			step:  name,
			emit: func(pr Progress) {
				col.add(pr)
				sink(progressEvent(name, pr))
			},
		}
		res, err := p.runStep(step, sc)
		if err != nil {
			if p.stopRequested(ctx, exec) {
				return exec.finish(StateCancelled, nil, domain.ErrCancelled)
			}
			p.log.Warn("step failed", "step", name, "error", err)
			return exec.finish(StateFailed, nil, &domain.StepFailedError{Step: name, Err: err})
		}
		if p.stopRequested(ctx, exec) {
			return exec.finish(StateCancelled, nil, domain.ErrCancelled)
		}
		if res != nil && res.Fragments != nil {
			return p.succeed(exec, name, res.Fragments)
		}
	}
	return p.succeed(exec, exec.Snapshot().Step, col.result())
}

func (p *Pipeline) succeed(exec *Execution, step string, frags domain.Fragments) Snapshot {
	if err := frags.Validate(); err != nil {
		return exec.finish(StateFailed, nil, &domain.StepFailedError{Step: step, Err: err})
	}
	return exec.finish(StateSucceeded, frags, nil)
}

func (p *Pipeline) stopRequested(ctx context.Context, exec *Execution) bool {
	return exec.CancelRequested() || ctx.Err() != nil
}

func (p *Pipeline) runStep(step Step, sc *StepContext) (res *StepResult, err error) {
	ctx, span := observability.StartSpan(sc.Ctx, "agent.step", attribute.String("step.name", step.Name()))
	sc.Ctx = ctx
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		p.metrics.ObserveStep(step.Name(), outcome, time.Since(start))
		observability.EndSpan(span, err)
	}()
	res, err = step.Run(sc)
	if err == nil && res != nil && res.Fragments != nil && len(res.Fragments) == 0 {
		err = errors.New("step returned an empty fragment list")
	}
	return res, err
}

func progressEvent(step string, pr Progress) realtime.Event {
	details := make(map[string]any, len(pr.Details)+2)
	for k, v := range pr.Details {
		details[k] = v
	}
	details["kind"] = string(pr.Kind)
	if pr.Chunk {
		details["is_chunk"] = true
	}
	if pr.Table != nil {
		details["table"] = map[string]any{"headers": pr.Table.Headers, "rows": pr.Table.Rows}
	}
	return realtime.Event{
		Type:    realtime.EventProgress,
		Node:    step,
		Step:    pr.Stage,
		Status:  string(StateRunning),
		Content: pr.Content,
		Details: details,
	}
}
