package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/ctxutil"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/platform/openai"
	"github.com/yungbote/research-agent-backend/internal/realtime"
	"github.com/yungbote/research-agent-backend/internal/services"
)

var (
	ErrRunFinished  = errors.New("run already finished")
	ErrRunnerClosed = errors.New("runner is shut down")
	ErrMissingQuery = fmt.Errorf("%w: query is required", domain.ErrInvalidArgument)
)

const (
	DefaultRunRetention = 10 * time.Minute

	completedContent = "Processing completed"
	cancelledContent = "Run cancelled"
)

type RunnerConfig struct {
	// HistoryWindow is how many prior chat messages become LLM context.
	HistoryWindow int
	// Retention keeps finished runs addressable by Get.
	Retention time.Duration
}

// RunInfo is the externally visible state of a run.
type RunInfo struct {
	ID             string     `json:"run_id"`
	ChatID         string     `json:"chat_id,omitempty"`
	Query          string     `json:"query"`
	HumanMessageID string     `json:"human_message_id,omitempty"`
	AgentMessageID string     `json:"agent_message_id,omitempty"`
	State          State      `json:"state"`
	Step           string     `json:"step,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Handle is returned when a run starts. Events was subscribed before the
// start event, so it sees the whole stream; close it if unused.
type Handle struct {
	RunInfo
	Events *realtime.Subscription
}

type SendRequest struct {
	ChatID            string
	PreviousMessageID *string
	Text              string
}

type run struct {
	id        string
	chatID    string
	humanID   string
	input     *Input
	exec      *Execution
	cancel    context.CancelFunc
	startedAt time.Time

	mu             sync.Mutex
	finished       bool
	finishedAt     time.Time
	agentMessageID string
	failure        string
}

// Runner owns agent runs: it starts them in the background, routes their
// events to the publisher and persists the outcome on the chat chain.
type Runner struct {
	log      *logger.Logger
	metrics  *observability.Metrics
	pipeline *Pipeline
	chain    services.ChainStore
	history  services.HistoryService
	chats    services.ChatService
	pub      *realtime.Publisher
	emit     realtime.Emitter
	cfg      RunnerConfig
	now      func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   map[string]*run
	closed bool
}

// NewRunner wires a runner. emit may be nil, in which case events go straight
// to pub.
func NewRunner(
	log *logger.Logger,
	metrics *observability.Metrics,
	pipeline *Pipeline,
	chain services.ChainStore,
	history services.HistoryService,
	chats services.ChatService,
	pub *realtime.Publisher,
	emit realtime.Emitter,
	cfg RunnerConfig,
) *Runner {
	if emit == nil {
		emit = pub
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRunRetention
	}
	return &Runner{
		log:      log.With("component", "AgentRunner"),
		metrics:  metrics,
		pipeline: pipeline,
		chain:    chain,
		history:  history,
		chats:    chats,
		pub:      pub,
		emit:     emit,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		runs:     make(map[string]*run),
	}
}

// SendAndRespond appends the human message after req.PreviousMessageID and
// starts an agent run answering it. The append happens before this returns,
// so a ChainConflict surfaces here and no run is started.
func (r *Runner) SendAndRespond(ctx context.Context, req SendRequest) (*Handle, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is required", domain.ErrEmptyContent)
	}
	if r.isClosed() {
		return nil, ErrRunnerClosed
	}
	dbc := dbctx.From(ctx)
	c, err := r.chats.GetChat(dbc, req.ChatID)
	if err != nil {
		return nil, err
	}
	human, err := r.chain.Append(dbc, c.ID, req.PreviousMessageID, domain.AuthorHuman,
		domain.Fragments{domain.Text{Content: text}})
	if err != nil {
		return nil, err
	}

	in := &Input{
		Query:   text,
		UserID:  c.UserID,
		ChatID:  c.ID,
		History: r.loadHistory(dbc, c.ID, human.ID),
	}
	return r.start(ctx, in, human.ID)
}

// Run starts a run that is not attached to a chat. Nothing is appended; the
// done event carries the fragments instead.
func (r *Runner) Run(ctx context.Context, userID, query string) (*Handle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrMissingQuery
	}
	return r.start(ctx, &Input{Query: query, UserID: userID}, "")
}

func (r *Runner) start(ctx context.Context, in *Input, humanID string) (*Handle, error) {
	// The run outlives the request but keeps its values (trace, request data).
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := &run{
		id:        uuid.NewString(),
		chatID:    in.ChatID,
		humanID:   humanID,
		input:     in,
		exec:      NewExecution(),
		cancel:    cancel,
		startedAt: r.now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrRunnerClosed
	}
	r.pruneLocked()
	r.runs[rn.id] = rn
	r.wg.Add(1)
	r.mu.Unlock()

	sub := r.pub.Subscribe(realtime.RunChannel(rn.id))
	go r.execute(runCtx, rn)

	return &Handle{RunInfo: r.info(rn), Events: sub}, nil
}

func (r *Runner) execute(ctx context.Context, rn *run) {
	defer r.wg.Done()
	defer rn.cancel()

	log := r.log.With("run_id", rn.id, "chat_id", rn.chatID)
	if rd := ctxutil.RequestDataFrom(ctx); rd != nil {
		log = log.With("request_id", rd.RequestID, "trace_id", rd.TraceID)
	}
	ctx, span := observability.StartSpan(ctx, "agent.run",
		attribute.String("run.id", rn.id),
		attribute.String("chat.id", rn.chatID),
	)
	var runErr error
	defer func() { observability.EndSpan(span, runErr) }()

	r.send(ctx, rn, realtime.Event{
		Type:    realtime.EventStart,
		Content: "Starting processing",
		Status:  string(StateRunning),
		Details: map[string]any{"query": rn.input.Query},
	})
	if rn.humanID != "" {
		r.send(ctx, rn, realtime.Event{
			Type:      realtime.EventProgress,
			Step:      "user_message_saved",
			Status:    string(StateRunning),
			MessageID: rn.humanID,
			Content:   "Message saved",
			Details:   map[string]any{"message_id": rn.humanID},
		})
	}

	snap := r.pipeline.Execute(ctx, rn.exec, rn.input, func(ev realtime.Event) {
		r.send(ctx, rn, ev)
	})

	switch snap.State {
	case StateSucceeded:
		if rn.chatID == "" {
			r.finish(ctx, rn, StateSucceeded, realtime.Event{
				Type:    realtime.EventDone,
				Content: completedContent,
				Status:  "success",
				Details: map[string]any{"fragments": snap.Fragments},
			}, "")
			return
		}
		// Chain writes are short and not cancellable once the answer exists.
		msg, err := r.chain.Append(dbctx.From(context.WithoutCancel(ctx)), rn.chatID, domain.OptionalID(rn.humanID), domain.AuthorAgent, snap.Fragments)
		if err != nil {
			runErr = err
			log.Warn("agent message append failed", "error", err)
			r.finish(ctx, rn, StateFailed, errorEvent(err), err.Error())
			return
		}
		rn.mu.Lock()
		rn.agentMessageID = msg.ID
		rn.mu.Unlock()
		r.finish(ctx, rn, StateSucceeded, realtime.Event{
			Type:      realtime.EventDone,
			Content:   completedContent,
			Status:    "success",
			MessageID: msg.ID,
			Details:   map[string]any{"message_id": msg.ID, "fragments": len(snap.Fragments)},
		}, "")
	case StateCancelled:
		log.Info("run cancelled", "step", snap.Step)
		r.finish(ctx, rn, StateCancelled, realtime.Event{
			Type:    realtime.EventCancelled,
			Content: cancelledContent,
			Node:    snap.Step,
			Status:  string(StateCancelled),
		}, "")
	default:
		runErr = snap.Err
		if runErr == nil {
			runErr = errors.New("pipeline ended without a result")
		}
		log.Warn("run failed", "step", snap.Step, "error", runErr)
		ev := errorEvent(runErr)
		ev.Node = snap.Step
		r.finish(ctx, rn, StateFailed, ev, runErr.Error())
	}
}

func errorEvent(err error) realtime.Event {
	details := map[string]any{}
	var sf *domain.StepFailedError
	if errors.As(err, &sf) {
		details["step"] = sf.Step
	}
	switch {
	case errors.Is(err, domain.ErrChainConflict):
		details["code"] = "chain_conflict"
	case errors.Is(err, domain.ErrPipelineStepFailed):
		details["code"] = "step_failed"
	default:
		details["code"] = "internal_error"
	}
	return realtime.Event{
		Type:    realtime.EventError,
		Content: "Error while processing: " + err.Error(),
		Status:  "error",
		Details: details,
	}
}

// finish marks the run finished before emitting the terminal event, so a
// Subscribe that loses the race is refused instead of waiting forever.
func (r *Runner) finish(ctx context.Context, rn *run, state State, ev realtime.Event, failure string) {
	rn.mu.Lock()
	rn.finished = true
	rn.finishedAt = r.now()
	rn.failure = failure
	rn.mu.Unlock()

	r.metrics.ObserveRun(string(state))
	r.send(ctx, rn, ev)
}

func (r *Runner) send(ctx context.Context, rn *run, ev realtime.Event) {
	ev.RunID = rn.id
	ev.ChatID = rn.chatID
	r.emit.Emit(context.WithoutCancel(ctx), realtime.Message{Channel: realtime.RunChannel(rn.id), Event: ev})
}

// Cancel requests cancellation; the run stops at its next step boundary.
func (r *Runner) Cancel(runID string) error {
	rn, err := r.lookup(runID)
	if err != nil {
		return err
	}
	rn.mu.Lock()
	finished := rn.finished
	rn.mu.Unlock()
	if finished {
		return ErrRunFinished
	}
	rn.exec.Cancel()
	return nil
}

// Subscribe joins a live run. Events emitted before the call are not replayed.
func (r *Runner) Subscribe(runID string) (*realtime.Subscription, error) {
	rn, err := r.lookup(runID)
	if err != nil {
		return nil, err
	}
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.finished {
		return nil, ErrRunFinished
	}
	return r.pub.Subscribe(realtime.RunChannel(rn.id)), nil
}

func (r *Runner) Get(runID string) (RunInfo, error) {
	rn, err := r.lookup(runID)
	if err != nil {
		return RunInfo{}, err
	}
	return r.info(rn), nil
}

// Shutdown cancels every live run and waits for them to emit their terminal
// event. If ctx expires first, the streams of runs still going are closed
// without one so their subscribers are released.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*run, 0, len(r.runs))
	for _, rn := range r.runs {
		live = append(live, rn)
	}
	r.mu.Unlock()

	for _, rn := range live {
		rn.exec.Cancel()
		rn.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	for _, rn := range live {
		rn.mu.Lock()
		finished := rn.finished
		rn.mu.Unlock()
		if !finished {
			r.log.Warn("run still going at shutdown; closing its stream", "run_id", rn.id, "chat_id", rn.chatID)
			r.pub.CloseChannel(realtime.RunChannel(rn.id))
		}
	}
	return ctx.Err()
}

func (r *Runner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runner) lookup(runID string) (*run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[strings.TrimSpace(runID)]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return rn, nil
}

func (r *Runner) pruneLocked() {
	cutoff := r.now().Add(-r.cfg.Retention)
	for id, rn := range r.runs {
		rn.mu.Lock()
		expired := rn.finished && rn.finishedAt.Before(cutoff)
		rn.mu.Unlock()
		if expired {
			delete(r.runs, id)
		}
	}
}

func (r *Runner) info(rn *run) RunInfo {
	snap := rn.exec.Snapshot()
	rn.mu.Lock()
	defer rn.mu.Unlock()
	info := RunInfo{
		ID:             rn.id,
		ChatID:         rn.chatID,
		Query:          rn.input.Query,
		HumanMessageID: rn.humanID,
		AgentMessageID: rn.agentMessageID,
		State:          snap.State,
		Step:           snap.Step,
		Error:          rn.failure,
		StartedAt:      rn.startedAt,
	}
	if rn.finished {
		at := rn.finishedAt
		info.FinishedAt = &at
		// The pipeline can succeed and the append still fail.
		if rn.failure != "" {
			info.State = StateFailed
		}
	}
	return info
}

// loadHistory returns up to HistoryWindow messages preceding humanID as LLM
// context. A broken chain only costs context, so it is logged and skipped.
func (r *Runner) loadHistory(dbc dbctx.Context, chatID, humanID string) []openai.Message {
	if r.cfg.HistoryWindow == 0 {
		return nil
	}
	msgs, err := r.history.ListPage(dbc, chatID, 0, r.cfg.HistoryWindow+1)
	if err != nil {
		r.log.Warn("history unavailable for agent context", "chat_id", chatID, "error", err)
		return nil
	}
	return historyMessages(msgs, humanID, r.cfg.HistoryWindow)
}

func historyMessages(msgs []*domain.Message, skipID string, window int) []openai.Message {
	out := make([]openai.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.ID == skipID {
			continue
		}
		text := m.Fragments.PlainText()
		if text == "" {
			continue
		}
		role := openai.RoleUser
		if m.AuthorKind == domain.AuthorAgent {
			role = openai.RoleAssistant
		}
		out = append(out, openai.Message{Role: role, Content: text})
	}
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}
