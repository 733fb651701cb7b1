package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos"
	"github.com/yungbote/research-agent-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []string
	updated []string
	deleted []string
}

func (n *recordingNotifier) MessageCreated(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, msg.ID)
}

func (n *recordingNotifier) MessageUpdated(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, msg.ID)
}

func (n *recordingNotifier) MessageDeleted(_ string, messageID string, _ *string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, messageID)
}

type fixture struct {
	store    docstore.Store
	chats    repos.ChatRepo
	messages repos.MessageRepo
	notify   *recordingNotifier
	chain    ChainStore
	history  HistoryService
	chatSvc  ChatService
}

func newFixture(t *testing.T, store docstore.Store) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{
		store:    store,
		chats:    repos.NewChatRepo(store, log),
		messages: repos.NewMessageRepo(store, log),
		notify:   &recordingNotifier{},
	}
	f.chain = NewChainStore(log, f.chats, f.messages, f.notify, nil, ChainStoreConfig{MaxRetries: 50})
	f.history = NewHistoryService(log, f.chats, f.messages, nil)
	f.chatSvc = NewChatService(log, f.chats)
	return f
}

func memoryFixture(t *testing.T) *fixture {
	return newFixture(t, testutil.MemoryStore(t))
}

func text(s string) domain.Fragments { return testutil.Text(s) }

func ids(msgs []*domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func seedChat(t *testing.T, f *fixture) *domain.Chat {
	t.Helper()
	c, err := f.chatSvc.CreateChat(dbcBG(), "user-1", "research")
	require.NoError(t, err)
	return c
}
