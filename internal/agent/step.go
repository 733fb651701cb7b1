package agent

import (
	"context"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/openai"
)

type ProgressKind string

const (
	// ProgressThought is kept as a thought fragment.
	ProgressThought ProgressKind = "thought"
	// ProgressText is kept as a text fragment; with Chunk set it is a streamed
	// piece of the answer and is concatenated with its siblings instead.
	ProgressText  ProgressKind = "text"
	ProgressTable ProgressKind = "table"
	// ProgressInfo is shown to subscribers and never persisted.
	ProgressInfo ProgressKind = "info"
)

// Progress is one item a step reports while it runs.
type Progress struct {
	Kind    ProgressKind
	Content string
	Table   *domain.Table
	Chunk   bool
	Stage   string
	Details map[string]any
}

// Input is what a run works on. History is prior chat context, oldest first,
// and excludes the query itself.
type Input struct {
	Query   string
	UserID  string
	ChatID  string
	History []openai.Message
}

/*
StepContext is the capability handle a step gets for one execution.
  - Ctx bounds the step body. It is not cancelled by a user cancel; those are
    honoured between steps.
  - Emit is the only way to report progress.
*/
type StepContext struct {
	Ctx   context.Context
	Input *Input
	step  string
	emit  func(Progress)
}

func (c *StepContext) Step() string { return c.step }

func (c *StepContext) Emit(p Progress) {
	if c.emit != nil {
		c.emit(p)
	}
}

func (c *StepContext) Thought(stage, content string, details map[string]any) {
	c.Emit(Progress{Kind: ProgressThought, Content: content, Stage: stage, Details: details})
}

func (c *StepContext) Info(stage, content string, details map[string]any) {
	c.Emit(Progress{Kind: ProgressInfo, Content: content, Stage: stage, Details: details})
}

func (c *StepContext) Chunk(stage, delta string) {
	c.Emit(Progress{Kind: ProgressText, Content: delta, Chunk: true, Stage: stage})
}

// StepResult with non-nil Fragments ends the pipeline early with exactly
// those fragments. A nil result continues to the next step.
type StepResult struct {
	Fragments domain.Fragments
}

type Step interface {
	Name() string
	Run(sc *StepContext) (*StepResult, error)
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(sc *StepContext) (*StepResult, error)
}

func (s StepFunc) Name() string                             { return s.StepName }
func (s StepFunc) Run(sc *StepContext) (*StepResult, error) { return s.Fn(sc) }
