package promptstyle

import "strings"

const marker = "RESEARCH_AGENT_PROMPT_STYLE_V1"

type Mode string

const (
	ModeAnalysis Mode = "analysis"
	ModeAnswer   Mode = "answer"
)

// ApplySystem prepends a short guidance block to a system prompt. Applying it
// twice is a no-op.
func ApplySystem(system string, mode Mode) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, marker) {
		return base
	}

	taskSummary := ""
	for _, line := range strings.Split(base, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			taskSummary = trimmed
			break
		}
	}

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou are the research assistant of a chat application.")
	if taskSummary != "" {
		b.WriteString("\nTask summary: " + taskSummary)
	}
	b.WriteString("\nFollow the system and user instructions precisely.")
	b.WriteString("\nDo not invent facts or citations; say so when you are unsure.")
	switch mode {
	case ModeAnalysis:
		b.WriteString("\nKeep the analysis short and structured as a list.")
	default:
		b.WriteString("\nAnswer in the language of the question, clearly organized.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return strings.TrimSpace(b.String())
}
