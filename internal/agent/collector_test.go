package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
)

func TestCollectorMergesChunksAfterThoughts(t *testing.T) {
	var c collector
	c.add(Progress{Kind: ProgressThought, Content: "analysis"})
	c.add(Progress{Kind: ProgressInfo, Content: "Generating response..."})
	c.add(Progress{Kind: ProgressText, Content: "Hel", Chunk: true})
	c.add(Progress{Kind: ProgressThought, Content: "   "})
	c.add(Progress{Kind: ProgressText, Content: "lo", Chunk: true})
	c.add(Progress{Kind: ProgressTable, Table: &domain.Table{Headers: []string{"a"}, Rows: [][]string{{"1"}}}})

	assert.Equal(t, domain.Fragments{
		domain.Thought{Content: "analysis"},
		domain.Table{Headers: []string{"a"}, Rows: [][]string{{"1"}}},
		domain.Text{Content: "Hello"},
	}, c.result())
}

func TestCollectorDefaultsWhenNothingCollected(t *testing.T) {
	var c collector
	c.add(Progress{Kind: ProgressInfo, Content: "only info"})
	assert.Equal(t, domain.Fragments{domain.Text{Content: DefaultResponseText}}, c.result())
}

func TestCollectorKeepsWholeText(t *testing.T) {
	var c collector
	c.add(Progress{Kind: ProgressText, Content: "summary"})
	c.add(Progress{Kind: ProgressText, Content: "tail", Chunk: true})
	assert.Equal(t, domain.Fragments{
		domain.Text{Content: "summary"},
		domain.Text{Content: "tail"},
	}, c.result())
}
