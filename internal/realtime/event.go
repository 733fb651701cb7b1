package realtime

import "strings"

type EventType string

const (
	EventStart     EventType = "start"
	EventProgress  EventType = "progress"
	EventError     EventType = "error"
	EventDone      EventType = "done"
	EventCancelled EventType = "cancelled"

	EventMessageCreated EventType = "message_created"
	EventMessageUpdated EventType = "message_updated"
	EventMessageDeleted EventType = "message_deleted"
)

// Terminal reports whether t ends a run's stream.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError || t == EventCancelled
}

// Event is the wire shape of everything streamed to clients. Node and Status
// mirror the step that produced a progress item; MessageID is set on done and
// on chat notifications.
type Event struct {
	RunID     string         `json:"run_id,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
	Type      EventType      `json:"type"`
	Content   string         `json:"content"`
	Node      string         `json:"node,omitempty"`
	Step      string         `json:"step,omitempty"`
	Status    string         `json:"status,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Message routes an event to a channel. Run events go to RunChannel(runID),
// chat notifications to ChatChannel(chatID).
type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
}

const (
	runPrefix  = "run:"
	chatPrefix = "chat:"
)

func RunChannel(runID string) string   { return runPrefix + strings.TrimSpace(runID) }
func ChatChannel(chatID string) string { return chatPrefix + strings.TrimSpace(chatID) }

func isRunChannel(ch string) bool { return strings.HasPrefix(ch, runPrefix) }
