package chat

import (
	"fmt"
	"strings"
	"time"
)

type AuthorKind string

const (
	AuthorHuman AuthorKind = "HUMAN"
	AuthorAgent AuthorKind = "AGENT"
)

func ParseAuthorKind(s string) (AuthorKind, error) {
	switch AuthorKind(strings.ToUpper(strings.TrimSpace(s))) {
	case AuthorHuman:
		return AuthorHuman, nil
	case AuthorAgent:
		return AuthorAgent, nil
	default:
		return "", fmt.Errorf("%w: author kind %q", ErrInvalidArgument, s)
	}
}

// Message is one node of a chat's chain. ID, ChatID and PreviousMessageID are
// fixed at creation; only Fragments (and UpdatedAt) change afterwards.
type Message struct {
	ID                string     `json:"id"`
	ChatID            string     `json:"chat_id"`
	PreviousMessageID *string    `json:"previous_message_id"`
	AuthorKind        AuthorKind `json:"author_kind"`
	Fragments         Fragments  `json:"fragments"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (m *Message) Previous() string {
	if m == nil || m.PreviousMessageID == nil {
		return ""
	}
	return *m.PreviousMessageID
}

// Chat is owned by the external CRUD layer; the chain store only ever moves
// LastMessageID.
type Chat struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Active        bool      `json:"active"`
	LastMessageID *string   `json:"last_message_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (c *Chat) Tail() string {
	if c == nil || c.LastMessageID == nil {
		return ""
	}
	return *c.LastMessageID
}

// OptionalID turns "" into nil so JSON carries null for an empty chain.
func OptionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
