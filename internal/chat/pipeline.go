package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Store is the durable-storage collaborator boundary the pipeline writes
// through. Persistence failures abort the send; nothing else does.
type Store interface {
	PersistMessage(ctx context.Context, roomID, senderID string, typ MessageType, content string) (Message, error)
	MarkRead(ctx context.Context, roomID, messageID, readerID string) error
	SetImportant(ctx context.Context, messageID string, important bool) error
}

// Membership answers whether a principal may act in a room. Implementations
// must answer from durable storage, not from the broadcast cache.
type Membership interface {
	IsParticipant(ctx context.Context, roomID, principalID string) (bool, error)
}

// Cache is the recency cache boundary. Append failures are logged and
// swallowed: the cache is an optimization, never a correctness dependency.
type Cache interface {
	Append(ctx context.Context, roomID string, msg Message) error
}

// Deliverer fans an event out to every connection of every room participant.
type Deliverer interface {
	Deliver(ctx context.Context, roomID string, ev ServerEvent)
}

// Pipeline runs the ordered send path: membership check, durable write,
// cache push, fan-out. Ephemeral events skip the middle two steps.
type Pipeline struct {
	store      Store
	membership Membership
	cache      Cache
	deliverer  Deliverer
	log        *zap.Logger
}

func NewPipeline(store Store, membership Membership, cache Cache, deliverer Deliverer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		membership: membership,
		cache:      cache,
		deliverer:  deliverer,
		log:        log,
	}
}

// Send persists, caches, and broadcasts a message. All-or-nothing with
// respect to persistence: if the durable write fails no connection observes
// the message. The persisted message is returned so the sender gets an
// authoritative echo including the durable id.
func (p *Pipeline) Send(ctx context.Context, roomID, senderID string, typ MessageType, content string) (Message, error) {
	ok, err := p.membership.IsParticipant(ctx, roomID, senderID)
	if err != nil {
		return Message{}, fmt.Errorf("check participant %s in %s: %v: %w", senderID, roomID, err, ErrUnavailable)
	}
	if !ok {
		return Message{}, fmt.Errorf("sender %s not in room %s: %w", senderID, roomID, ErrForbidden)
	}

	msg, err := p.store.PersistMessage(ctx, roomID, senderID, typ, content)
	if err != nil {
		return Message{}, fmt.Errorf("persist message in %s: %v: %w", roomID, err, ErrUnavailable)
	}

	if err := p.cache.Append(ctx, roomID, msg); err != nil {
		// Already durable; broadcast must still happen.
		p.log.Warn("recency cache append failed",
			zap.String("room", roomID),
			zap.String("message", msg.ID),
			zap.Error(err))
	}

	p.deliverer.Deliver(ctx, roomID, MessageReceived{Message: msg})
	return msg, nil
}

// SendSystem originates a system message on behalf of the REST layer
// (e.g. "X joined the room", moderation notices). System messages follow
// the full pipeline but skip the participant check: the sender is the
// service itself.
func (p *Pipeline) SendSystem(ctx context.Context, roomID, content string) (Message, error) {
	msg, err := p.store.PersistMessage(ctx, roomID, "system", MessageSystem, content)
	if err != nil {
		return Message{}, fmt.Errorf("persist system message in %s: %v: %w", roomID, err, ErrUnavailable)
	}
	if err := p.cache.Append(ctx, roomID, msg); err != nil {
		p.log.Warn("recency cache append failed",
			zap.String("room", roomID),
			zap.String("message", msg.ID),
			zap.Error(err))
	}
	p.deliverer.Deliver(ctx, roomID, MessageReceived{Message: msg})
	return msg, nil
}

// Typing relays an ephemeral typing indicator: membership check, then
// straight to fan-out. No messageId, no persistence, no cache entry.
func (p *Pipeline) Typing(ctx context.Context, roomID, principalID string) error {
	ok, err := p.membership.IsParticipant(ctx, roomID, principalID)
	if err != nil {
		return fmt.Errorf("check participant %s in %s: %v: %w", principalID, roomID, err, ErrUnavailable)
	}
	if !ok {
		return fmt.Errorf("%s not in room %s: %w", principalID, roomID, ErrForbidden)
	}
	p.deliverer.Deliver(ctx, roomID, UserTyping{RoomID: roomID, PrincipalID: principalID})
	return nil
}

// MarkRead records a read receipt and relays the ephemeral read event.
// The receipt lives in side-state keyed by (messageId, readerId); a failed
// receipt write degrades to fan-out only rather than failing the operation.
func (p *Pipeline) MarkRead(ctx context.Context, roomID, messageID, readerID string) error {
	ok, err := p.membership.IsParticipant(ctx, roomID, readerID)
	if err != nil {
		return fmt.Errorf("check participant %s in %s: %v: %w", readerID, roomID, err, ErrUnavailable)
	}
	if !ok {
		return fmt.Errorf("%s not in room %s: %w", readerID, roomID, ErrForbidden)
	}

	if err := p.store.MarkRead(ctx, roomID, messageID, readerID); err != nil {
		p.log.Warn("read receipt write failed",
			zap.String("room", roomID),
			zap.String("message", messageID),
			zap.String("reader", readerID),
			zap.Error(err))
	}

	p.deliverer.Deliver(ctx, roomID, MessageRead{RoomID: roomID, PrincipalID: readerID, MessageID: messageID})
	return nil
}

// MarkImportant flips the one mutable flag a persisted message carries.
func (p *Pipeline) MarkImportant(ctx context.Context, roomID, messageID, principalID string, important bool) error {
	ok, err := p.membership.IsParticipant(ctx, roomID, principalID)
	if err != nil {
		return fmt.Errorf("check participant %s in %s: %v: %w", principalID, roomID, err, ErrUnavailable)
	}
	if !ok {
		return fmt.Errorf("%s not in room %s: %w", principalID, roomID, ErrForbidden)
	}
	if err := p.store.SetImportant(ctx, messageID, important); err != nil {
		return fmt.Errorf("set important on %s: %v: %w", messageID, err, ErrUnavailable)
	}
	return nil
}
