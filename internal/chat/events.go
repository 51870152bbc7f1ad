package chat

import (
	"encoding/json"
	"fmt"
)

// Server→client event names. The set is closed: DecodeClientEvent and
// EncodeServerEvent are the only places wire names appear, so adding an
// event means extending the unions here and the compiler flags every
// switch that misses the new case.
const (
	TypeMessageReceived    = "messageReceived"
	TypeUserTyping         = "userTyping"
	TypeMessageRead        = "messageRead"
	TypePresenceChanged    = "presenceChanged"
	TypeParticipantsUpdate = "participantsUpdated"
	TypeRecentMessages     = "recentMessages"
	TypeError              = "error"
)

// Client→server event names.
const (
	TypeJoin     = "join"
	TypeLeave    = "leave"
	TypeSend     = "send"
	TypeTyping   = "typing"
	TypeMarkRead = "markRead"
)

// Envelope is the wire frame for both directions: a tag and a payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is the closed union of events delivered to clients.
type ServerEvent interface {
	serverEvent() string
}

// MessageReceived carries a persisted message to every room connection.
type MessageReceived struct {
	Message Message `json:"message"`
}

// UserTyping is ephemeral: never persisted, never cached.
type UserTyping struct {
	RoomID      string `json:"roomId"`
	PrincipalID string `json:"principalId"`
}

// MessageRead is ephemeral on the wire; the receipt itself is durable
// side-state.
type MessageRead struct {
	RoomID      string `json:"roomId"`
	PrincipalID string `json:"principalId"`
	MessageID   string `json:"messageId"`
}

// PresenceChanged fires on a principal's first-online / last-offline
// transition, never on intermediate connection churn.
type PresenceChanged struct {
	PrincipalID string `json:"principalId"`
	Online      bool   `json:"online"`
}

// ParticipantsUpdated is broadcast after every join/leave so clients
// converge on membership without polling.
type ParticipantsUpdated struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}

// RecentMessages is the catch-up payload served to a freshly joined
// connection from the recency cache, most recent first.
type RecentMessages struct {
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

// ErrorEvent reports an operation failure to the originating connection only.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry,omitempty"`
}

func (MessageReceived) serverEvent() string     { return TypeMessageReceived }
func (UserTyping) serverEvent() string          { return TypeUserTyping }
func (MessageRead) serverEvent() string         { return TypeMessageRead }
func (PresenceChanged) serverEvent() string     { return TypePresenceChanged }
func (ParticipantsUpdated) serverEvent() string { return TypeParticipantsUpdate }
func (RecentMessages) serverEvent() string      { return TypeRecentMessages }
func (ErrorEvent) serverEvent() string          { return TypeError }

// EncodeServerEvent frames an event for the wire.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.serverEvent(), err)
	}
	return json.Marshal(Envelope{Type: ev.serverEvent(), Data: data})
}

// ClientEvent is the closed union of events a connection may send.
type ClientEvent interface {
	clientEvent() string
}

type JoinEvent struct {
	RoomID string `json:"roomId"`
}

type LeaveEvent struct {
	RoomID string `json:"roomId"`
}

type SendEvent struct {
	RoomID  string      `json:"roomId"`
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

type TypingEvent struct {
	RoomID string `json:"roomId"`
}

type MarkReadEvent struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

func (JoinEvent) clientEvent() string     { return TypeJoin }
func (LeaveEvent) clientEvent() string    { return TypeLeave }
func (SendEvent) clientEvent() string     { return TypeSend }
func (TypingEvent) clientEvent() string   { return TypeTyping }
func (MarkReadEvent) clientEvent() string { return TypeMarkRead }

// DecodeClientEvent parses a wire frame into one of the client event types.
// Unknown tags are an error, not a silently dropped frame.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev ClientEvent
	switch env.Type {
	case TypeJoin:
		ev = &JoinEvent{}
	case TypeLeave:
		ev = &LeaveEvent{}
	case TypeSend:
		ev = &SendEvent{}
	case TypeTyping:
		ev = &TypingEvent{}
	case TypeMarkRead:
		ev = &MarkReadEvent{}
	default:
		return nil, fmt.Errorf("unknown client event %q", env.Type)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return ev, nil
}
