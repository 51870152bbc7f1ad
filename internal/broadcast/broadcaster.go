// Package broadcast fans events out to every connection of every room
// participant. Routing state is process-local (which socket belongs to a
// connection id); truth state (who participates, who is online, and where)
// comes from the shared registries. Connections owned by other processes
// are reached through the relay.
package broadcast

import (
	"context"

	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/chat"
	"github.com/studyrooms/chatcore/internal/presence"
)

// Participants resolves the room's current participant set.
type Participants interface {
	CurrentParticipants(ctx context.Context, roomID string) ([]string, error)
}

// Connections resolves a principal's active connections across processes.
type Connections interface {
	ResolveConnections(ctx context.Context, principalID string) ([]presence.ConnRef, error)
}

// LocalSender routes a frame to a socket this process owns. Send reports
// whether the connection accepted the frame; a refused frame is this
// connection's problem alone.
type LocalSender interface {
	Send(connID string, frame []byte) bool
}

// Publisher hands a frame to the inter-process relay. Nil when the service
// runs as a single process.
type Publisher interface {
	Publish(ctx context.Context, roomID string, frame []byte) error
}

// Broadcaster resolves a room's connection set and delivers to each.
// Every delivery attempt is independent: one unreachable connection never
// fails the broadcast.
type Broadcaster struct {
	participants Participants
	connections  Connections
	local        LocalSender
	relay        Publisher
	processID    string
	log          *zap.Logger
}

func New(participants Participants, connections Connections, local LocalSender, relay Publisher, processID string, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		participants: participants,
		connections:  connections,
		local:        local,
		relay:        relay,
		processID:    processID,
		log:          log,
	}
}

// Deliver sends the event to every connection of every participant of the
// room. Locally owned connections get the frame directly; the frame is
// published once to the relay for connections owned by other processes.
// Resolution failures degrade to delivering what could be resolved.
func (b *Broadcaster) Deliver(ctx context.Context, roomID string, ev chat.ServerEvent) {
	frame, err := chat.EncodeServerEvent(ev)
	if err != nil {
		b.log.Error("encode event failed", zap.String("room", roomID), zap.Error(err))
		return
	}

	b.DeliverFrame(ctx, roomID, frame)

	if b.relay != nil {
		if err := b.relay.Publish(ctx, roomID, frame); err != nil {
			b.log.Warn("relay publish failed", zap.String("room", roomID), zap.Error(err))
		}
	}
}

// DeliverFrame routes an already-encoded frame to the room's locally owned
// connections. The relay calls this for frames originated elsewhere.
func (b *Broadcaster) DeliverFrame(ctx context.Context, roomID string, frame []byte) {
	participants, err := b.participants.CurrentParticipants(ctx, roomID)
	if err != nil {
		b.log.Warn("participant resolution failed", zap.String("room", roomID), zap.Error(err))
		return
	}

	delivered := 0
	for _, principalID := range participants {
		refs, err := b.connections.ResolveConnections(ctx, principalID)
		if err != nil {
			b.log.Warn("connection resolution failed",
				zap.String("room", roomID), zap.String("principal", principalID), zap.Error(err))
			continue
		}
		for _, ref := range refs {
			if ref.ProcessID != b.processID {
				continue
			}
			if b.local.Send(ref.ConnectionID, frame) {
				delivered++
			}
		}
	}
	if delivered > 0 {
		b.log.Debug("delivered frame",
			zap.String("room", roomID), zap.Int("connections", delivered))
	}
}

// ProcessID identifies this broadcaster's process in presence records and
// relay envelopes.
func (b *Broadcaster) ProcessID() string {
	return b.processID
}
