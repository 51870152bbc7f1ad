package chat

import "time"

// MessageType classifies persisted message content.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Message is a durably stored chat message. Immutable once persisted except
// for the IsImportant flag; read receipts live in separate side-state keyed
// by (messageId, readerId).
type Message struct {
	ID          string      `json:"messageId"`
	RoomID      string      `json:"roomId"`
	SenderID    string      `json:"senderId"`
	Type        MessageType `json:"type"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsImportant bool        `json:"isImportant"`
}
