package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/research-agent-backend/internal/app"
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos"
	"github.com/yungbote/research-agent-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/services"
)

type cliFixture struct {
	store docstore.Store
	chain services.ChainStore
	msgs  repos.MessageRepo
	chat  *domain.Chat
}

func newCLIFixture(t *testing.T, texts ...string) (*cliFixture, []string) {
	t.Helper()
	log := logger.NewNop()
	store := testutil.MemoryStore(t)
	chats := repos.NewChatRepo(store, log)
	f := &cliFixture{
		store: store,
		msgs:  repos.NewMessageRepo(store, log),
		chat:  testutil.SeedChat(t, store, "user-1"),
	}
	f.chain = services.NewChainStore(log, chats, f.msgs, nil, nil, services.ChainStoreConfig{MaxRetries: 5})

	var ids []string
	for _, s := range texts {
		m, err := f.chain.AppendNext(dbctx.Background(), f.chat.ID, domain.AuthorHuman, testutil.Text(s))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	return f, ids
}

func (f *cliFixture) run(args ...string) (string, error) {
	var out bytes.Buffer
	open := func(context.Context) (*app.Toolkit, error) {
		return app.NewToolkit(logger.NewNop(), f.store), nil
	}
	cmd := newRootCmd(open, &out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryPrintsOldestFirst(t *testing.T) {
	f, ids := newCLIFixture(t, "first", "second", "third")

	out, err := f.run("history", f.chat.ID)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], ids[0]))
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[2], "third")
}

func TestPageHonorsSkipAndLimit(t *testing.T) {
	f, ids := newCLIFixture(t, "a", "b", "c", "d")

	out, err := f.run("page", f.chat.ID, "--skip", "1", "--limit", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], ids[1]))
	assert.True(t, strings.HasPrefix(lines[1], ids[2]))
}

func TestVerifyAndRepairDanglingTail(t *testing.T) {
	f, ids := newCLIFixture(t, "a", "b", "c")

	out, err := f.run("verify", f.chat.ID)
	require.NoError(t, err)
	var rep services.ChainReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 3, rep.Length)

	require.NoError(t, f.msgs.Delete(dbctx.Background(), ids[2]))
	out, err = f.run("verify", f.chat.ID)
	require.ErrorIs(t, err, domain.ErrBrokenChain)
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, ids[2], rep.MissingID)
	assert.Empty(t, rep.ReferencedBy)

	_, err = f.run("repair-tail", f.chat.ID)
	require.Error(t, err)

	// ids[0] is still followed by ids[1]; moving the tail there would fork.
	_, err = f.run("repair-tail", f.chat.ID, "--to", ids[0])
	require.ErrorIs(t, err, domain.ErrChainConflict)

	_, err = f.run("repair-tail", f.chat.ID, "--to", ids[1])
	require.NoError(t, err)

	out, err = f.run("history", f.chat.ID)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestSummarizeTruncatesAndMarksNonText(t *testing.T) {
	long := strings.Repeat("é", 100)
	s := summarize(domain.Fragments{domain.Thought{Content: "x"}, domain.Text{Content: long}})
	assert.True(t, strings.HasPrefix(s, "[thought] "))
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Len(t, []rune(s), 80)
}
