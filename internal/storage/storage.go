// Package storage is the durable-storage collaborator boundary. The chat
// subsystem consumes it through these calls only; schema and query concerns
// stay behind the Postgres adapter.
package storage

import (
	"context"

	"github.com/studyrooms/chatcore/internal/chat"
)

// Store is everything the real-time subsystem asks of durable storage.
type Store interface {
	// PersistMessage creates the message, assigning its durable id and
	// creation time.
	PersistMessage(ctx context.Context, roomID, senderID string, typ chat.MessageType, content string) (chat.Message, error)

	// GetRoomParticipants returns the authoritative participant set.
	GetRoomParticipants(ctx context.Context, roomID string) ([]string, error)

	// GetPrincipalRooms is the reverse lookup: every room the principal
	// participates in. Used to target presence-transition broadcasts.
	GetPrincipalRooms(ctx context.Context, principalID string) ([]string, error)

	AddParticipant(ctx context.Context, roomID, principalID string) error
	RemoveParticipant(ctx context.Context, roomID, principalID string) error

	// MarkRead upserts the (messageId, readerId) read receipt.
	MarkRead(ctx context.Context, roomID, messageID, readerID string) error

	// SetImportant flips the one mutable flag a message carries.
	SetImportant(ctx context.Context, messageID string, important bool) error
}
