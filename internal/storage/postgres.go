package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/studyrooms/chatcore/internal/chat"
)

// Postgres implements Store on a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens the database and pings it with retries, since the
// database may still be starting when the gateway comes up.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	for attempt := 1; attempt <= 30; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			p := &Postgres{db: db}
			if err := p.ensureSchema(ctx); err != nil {
				db.Close()
				return nil, err
			}
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("ping postgres: %w", err)
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			room_id      TEXT NOT NULL,
			sender_id    TEXT NOT NULL,
			type         TEXT NOT NULL,
			content      TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			is_important BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE INDEX IF NOT EXISTS messages_room_created_idx
			ON messages (room_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS room_participants (
			room_id      TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			joined_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (room_id, principal_id)
		)`,
		`CREATE INDEX IF NOT EXISTS room_participants_principal_idx
			ON room_participants (principal_id)`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			message_id TEXT NOT NULL,
			reader_id  TEXT NOT NULL,
			room_id    TEXT NOT NULL,
			read_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (message_id, reader_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// NewPostgres wraps an already-open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) PersistMessage(ctx context.Context, roomID, senderID string, typ chat.MessageType, content string) (chat.Message, error) {
	msg := chat.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, type, content, created_at, is_important)
		 VALUES ($1, $2, $3, $4, $5, $6, false)`,
		msg.ID, msg.RoomID, msg.SenderID, string(msg.Type), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (p *Postgres) GetRoomParticipants(ctx context.Context, roomID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT principal_id FROM room_participants WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants %s: %w", roomID, err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants %s: %w", roomID, err)
	}
	return participants, nil
}

func (p *Postgres) GetPrincipalRooms(ctx context.Context, principalID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT room_id FROM room_participants WHERE principal_id = $1`, principalID)
	if err != nil {
		return nil, fmt.Errorf("query rooms of %s: %w", principalID, err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms of %s: %w", principalID, err)
	}
	return rooms, nil
}

func (p *Postgres) AddParticipant(ctx context.Context, roomID, principalID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO room_participants (room_id, principal_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (room_id, principal_id) DO NOTHING`,
		roomID, principalID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add participant %s to %s: %w", principalID, roomID, err)
	}
	return nil
}

func (p *Postgres) RemoveParticipant(ctx context.Context, roomID, principalID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM room_participants WHERE room_id = $1 AND principal_id = $2`,
		roomID, principalID,
	)
	if err != nil {
		return fmt.Errorf("remove participant %s from %s: %w", principalID, roomID, err)
	}
	return nil
}

func (p *Postgres) MarkRead(ctx context.Context, roomID, messageID, readerID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, reader_id, room_id, read_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, reader_id) DO UPDATE SET read_at = EXCLUDED.read_at`,
		messageID, readerID, roomID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark read %s by %s: %w", messageID, readerID, err)
	}
	return nil
}

func (p *Postgres) SetImportant(ctx context.Context, messageID string, important bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE messages SET is_important = $2 WHERE id = $1`, messageID, important)
	if err != nil {
		return fmt.Errorf("set important %s: %w", messageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set important %s: message not found", messageID)
	}
	return nil
}
