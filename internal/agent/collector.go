package agent

import (
	"strings"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
)

const DefaultResponseText = "Response processed"

// collector turns a run's progress into the agent message's fragments.
// Streamed chunks become one text fragment placed after everything else.
type collector struct {
	fragments domain.Fragments
	chunks    strings.Builder
	nchunks   int
}

func (c *collector) add(p Progress) {
	switch p.Kind {
	case ProgressThought:
		if strings.TrimSpace(p.Content) != "" {
			c.fragments = append(c.fragments, domain.Thought{Content: p.Content})
		}
	case ProgressText:
		if p.Chunk {
			if p.Content != "" {
				c.chunks.WriteString(p.Content)
				c.nchunks++
			}
			return
		}
		if strings.TrimSpace(p.Content) != "" {
			c.fragments = append(c.fragments, domain.Text{Content: p.Content})
		}
	case ProgressTable:
		if p.Table != nil {
			c.fragments = append(c.fragments, *p.Table)
		}
	}
}

func (c *collector) result() domain.Fragments {
	out := append(domain.Fragments{}, c.fragments...)
	if strings.TrimSpace(c.chunks.String()) != "" {
		out = append(out, domain.Text{Content: c.chunks.String()})
	}
	if len(out) == 0 {
		out = domain.Fragments{domain.Text{Content: DefaultResponseText}}
	}
	return out
}
