package services

import (
	"errors"
	"fmt"

	"github.com/yungbote/research-agent-backend/internal/data/repos"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

// ChainReport describes what a backward walk from a starting node found.
type ChainReport struct {
	ChatID string `json:"chat_id"`
	Start  string `json:"start"`
	Length int    `json:"length"`

	// MissingID is the first id that could not be loaded; ReferencedBy is the
	// node that pointed at it, empty when Start itself is missing.
	MissingID    string `json:"missing_id,omitempty"`
	ReferencedBy string `json:"referenced_by,omitempty"`
	// CycleAt is set when the walk came back to a node it had already seen.
	CycleAt string `json:"cycle_at,omitempty"`
	// Foreign lists nodes on the walk that belong to another chat.
	Foreign []string `json:"foreign,omitempty"`
}

func (r *ChainReport) Healthy() bool {
	return r.MissingID == "" && r.CycleAt == "" && len(r.Foreign) == 0
}

// DanglingTail reports the one break RepairTail is allowed to fix.
func (r *ChainReport) DanglingTail() bool {
	return r.MissingID != "" && r.ReferencedBy == ""
}

// ChainAuditor is the operator side of the chain: it inspects chats for
// broken links and can point a dangling tail at a healthy node.
type ChainAuditor interface {
	Verify(dbc dbctx.Context, chatID string) (*ChainReport, error)
	// RepairTail moves a chat whose tail record is gone onto target, which
	// must be a node of the same chat with an intact chain behind it and no
	// successor. An empty target resets the chat to an empty chain. Gaps are
	// never spliced.
	RepairTail(dbc dbctx.Context, chatID, target string) (*ChainReport, error)
}

type chainAuditor struct {
	log      *logger.Logger
	chats    repos.ChatRepo
	messages repos.MessageRepo
	chain    ChainStore
}

// NewChainAuditor reads through the repos and leaves every tail move to chain.
func NewChainAuditor(log *logger.Logger, chats repos.ChatRepo, messages repos.MessageRepo, chain ChainStore) ChainAuditor {
	return &chainAuditor{
		log:      log.With("service", "ChainAuditor"),
		chats:    chats,
		messages: messages,
		chain:    chain,
	}
}

func (a *chainAuditor) Verify(dbc dbctx.Context, chatID string) (*ChainReport, error) {
	vc, err := a.chats.Get(dbc, chatID)
	if err != nil {
		return nil, err
	}
	return a.inspect(dbc, chatID, vc.Tail())
}

func (a *chainAuditor) RepairTail(dbc dbctx.Context, chatID, target string) (*ChainReport, error) {
	current, err := a.Verify(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if !current.DanglingTail() {
		return nil, fmt.Errorf("%w: chat %s tail is not dangling", domain.ErrInvalidArgument, chatID)
	}

	next, err := a.inspect(dbc, chatID, target)
	if err != nil {
		return nil, err
	}
	if !next.Healthy() {
		return nil, fmt.Errorf("%w: chain behind %s is not intact", domain.ErrInvalidArgument, target)
	}
	if _, err := a.chain.RepairTail(dbc, chatID, target); err != nil {
		return nil, err
	}
	a.log.Info("Chain verified after repair", "chat_id", chatID, "length", next.Length)
	return next, nil
}

func (a *chainAuditor) inspect(dbc dbctx.Context, chatID, start string) (*ChainReport, error) {
	rep := &ChainReport{ChatID: chatID, Start: start}
	seen := map[string]struct{}{}
	referencedBy := ""
	for id := start; id != ""; {
		if _, dup := seen[id]; dup {
			rep.CycleAt = id
			return rep, nil
		}
		seen[id] = struct{}{}

		vm, err := a.messages.Get(dbc, id)
		if errors.Is(err, domain.ErrNotFound) {
			rep.MissingID = id
			rep.ReferencedBy = referencedBy
			return rep, nil
		}
		if err != nil {
			return nil, err
		}
		if vm.ChatID != chatID {
			rep.Foreign = append(rep.Foreign, id)
		}
		rep.Length++
		referencedBy = id
		id = vm.Previous()
	}
	return rep, nil
}
