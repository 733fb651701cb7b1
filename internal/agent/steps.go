package agent

import (
	"fmt"
	"strings"

	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/platform/openai"
	"github.com/yungbote/research-agent-backend/internal/platform/promptstyle"
)

const (
	StepAnalyzeQuery     = "analyze_query"
	StepResearch         = "research"
	StepGenerateResponse = "generate_response"
	StepFinalize         = "finalize"
)

// ResearchSteps is the default four-step research flow.
func ResearchSteps(log *logger.Logger, llm openai.Client, cfg Config) []Step {
	return []Step{
		&analyzeQueryStep{log: log, llm: llm, cfg: cfg},
		researchStep{},
		&generateResponseStep{log: log, llm: llm, cfg: cfg},
		finalizeStep{},
	}
}

// analyzeQueryStep asks the LLM for intent and keywords. It never fails the
// run; without the LLM it falls back to a thought quoting the query.
type analyzeQueryStep struct {
	log *logger.Logger
	llm openai.Client
	cfg Config
}

func (s *analyzeQueryStep) Name() string { return StepAnalyzeQuery }

func (s *analyzeQueryStep) Run(sc *StepContext) (*StepResult, error) {
	query := sc.Input.Query
	prompt := fmt.Sprintf(`Analyse this user query:
%q

Provide:
- Main intent
- Keywords (at most 5)
- Kind of information needed
- Suggested approach`, query)

	analysis, err := s.llm.GenerateText(sc.Ctx,
		promptstyle.ApplySystem(s.cfg.AnalyzeSystemPrompt, promptstyle.ModeAnalysis),
		prompt,
		openai.Options{Temperature: s.cfg.AnalyzeTemperature, MaxTokens: s.cfg.AnalyzeMaxTokens},
	)
	if err != nil {
		s.log.Warn("query analysis failed; continuing with the raw query", "error", err)
		sc.Thought("query_analyzed", "Continuing with the original query: "+query, map[string]any{"step": "analysis_fallback"})
		return nil, nil
	}
	sc.Thought("query_analyzed", "Analysis complete:\n\n"+strings.TrimSpace(analysis), map[string]any{
		"query_length": len(query),
		"step":         "analysis_complete",
	})
	return nil, nil
}

// researchStep only announces the lookup; there are no external sources yet.
type researchStep struct{}

func (researchStep) Name() string { return StepResearch }

func (researchStep) Run(sc *StepContext) (*StepResult, error) {
	sc.Thought("researching", "Starting research in the available sources for the query "+sc.Input.Query,
		map[string]any{"step": "research_start"})
	return nil, nil
}

type generateResponseStep struct {
	log *logger.Logger
	llm openai.Client
	cfg Config
}

func (s *generateResponseStep) Name() string { return StepGenerateResponse }

func (s *generateResponseStep) Run(sc *StepContext) (*StepResult, error) {
	sc.Info("generating", "Generating response...", map[string]any{"step": "response_preparation"})

	msgs := make([]openai.Message, 0, len(sc.Input.History)+2)
	msgs = append(msgs, openai.Message{
		Role:    openai.RoleSystem,
		Content: promptstyle.ApplySystem(s.cfg.AnswerSystemPrompt, promptstyle.ModeAnswer),
	})
	msgs = append(msgs, sc.Input.History...)
	msgs = append(msgs, openai.Message{Role: openai.RoleUser, Content: sc.Input.Query})

	full, err := s.llm.StreamChat(sc.Ctx, msgs,
		openai.Options{Temperature: s.cfg.AnswerTemperature, MaxTokens: s.cfg.AnswerMaxTokens},
		func(delta string) { sc.Chunk("generating", delta) },
	)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}
	s.log.Info("response generated", "chars", len(full))
	sc.Info("response_generated", "", map[string]any{
		"step":         "response_complete",
		"total_length": len(full),
		"final":        true,
	})
	return nil, nil
}

type finalizeStep struct{}

func (finalizeStep) Name() string { return StepFinalize }

func (finalizeStep) Run(sc *StepContext) (*StepResult, error) {
	sc.Info("finalizing", "Validating response quality...", map[string]any{"check": "quality", "step": "finalizing"})
	sc.Info("completed", "Processing completed successfully", map[string]any{
		"total_steps": 4,
		"step":        "finalization_complete",
		"status":      "success",
	})
	return nil, nil
}
