package repos

import (
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

type ChatRepo = chat.ChatRepo
type MessageRepo = chat.MessageRepo

func NewChatRepo(store docstore.Store, baseLog *logger.Logger) ChatRepo {
	return chat.NewChatRepo(store, baseLog)
}
func NewMessageRepo(store docstore.Store, baseLog *logger.Logger) MessageRepo {
	return chat.NewMessageRepo(store, baseLog)
}
