// Package gateway terminates client connections: handshake authentication,
// per-connection read/write pumps, client event dispatch, and disconnect
// cleanup. One goroutine pair serves each connection; connections never
// block one another.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/auth"
	"github.com/studyrooms/chatcore/internal/broadcast"
	"github.com/studyrooms/chatcore/internal/cache"
	"github.com/studyrooms/chatcore/internal/chat"
	"github.com/studyrooms/chatcore/internal/config"
	"github.com/studyrooms/chatcore/internal/presence"
	"github.com/studyrooms/chatcore/internal/rooms"
)

const maxFrameSize = 64 * 1024

// Server wires the per-connection machinery to the subsystem components.
type Server struct {
	cfg         config.Config
	authn       auth.Authenticator
	hub         *Hub
	presence    *presence.Registry
	rooms       *rooms.Manager
	pipeline    *chat.Pipeline
	recency     *cache.Recency
	broadcaster *broadcast.Broadcaster
	upgrader    websocket.Upgrader
	log         *zap.Logger
}

func NewServer(
	cfg config.Config,
	authn auth.Authenticator,
	hub *Hub,
	reg *presence.Registry,
	mgr *rooms.Manager,
	pipeline *chat.Pipeline,
	recency *cache.Recency,
	broadcaster *broadcast.Broadcaster,
	log *zap.Logger,
) *Server {
	return &Server{
		cfg:         cfg,
		authn:       authn,
		hub:         hub,
		presence:    reg,
		rooms:       mgr,
		pipeline:    pipeline,
		recency:     recency,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// credential pulls the bearer token from the query string or the
// Authorization header.
func credential(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ServeWS admits or refuses a connection. Authentication happens before the
// upgrade and before any presence or room state is touched; a refused
// connection leaves no trace.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	principalID, err := s.authn.Authenticate(r.Context(), credential(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), principalID, conn, s)
	s.hub.register(client)

	ctx := context.Background()
	first, err := s.presence.MarkOnline(ctx, principalID, client.id)
	if err != nil {
		// Presence is best-effort, not an admission gate.
		s.log.Warn("presence mark-online failed, connection degraded",
			zap.String("principal", principalID), zap.Error(err))
	} else if first {
		s.emitPresence(ctx, client, principalID, true)
	}

	s.log.Info("connection established",
		zap.String("principal", principalID),
		zap.String("conn", client.id),
		zap.Int("local_conns", s.hub.Len()))

	go client.writePump()
	client.readPump(ctx)
}

// cleanup runs exactly once per connection, from the read pump's exit path.
// The connection entry is removed from presence exactly once; the offline
// transition fires only when this was the principal's last connection
// anywhere.
func (s *Server) cleanup(ctx context.Context, c *Client) {
	s.hub.unregister(c)
	c.drop()

	last, err := s.presence.MarkOffline(ctx, c.principalID, c.id)
	if err != nil {
		s.log.Warn("presence mark-offline failed",
			zap.String("principal", c.principalID), zap.Error(err))
	} else if last {
		s.emitPresence(ctx, c, c.principalID, false)
	}

	s.log.Info("connection closed",
		zap.String("principal", c.principalID),
		zap.String("conn", c.id),
		zap.Int("local_conns", s.hub.Len()))
}

// emitPresence broadcasts the online/offline transition to every room the
// principal belongs to. If the durable reverse lookup fails, the rooms this
// connection joined are the degraded fallback target set.
func (s *Server) emitPresence(ctx context.Context, c *Client, principalID string, online bool) {
	roomIDs, err := s.rooms.RoomsOf(ctx, principalID)
	if err != nil {
		s.log.Warn("room lookup for presence broadcast failed",
			zap.String("principal", principalID), zap.Error(err))
		roomIDs = roomIDs[:0]
		for roomID := range c.joined {
			roomIDs = append(roomIDs, roomID)
		}
	}
	for _, roomID := range roomIDs {
		s.broadcaster.Deliver(ctx, roomID, chat.PresenceChanged{PrincipalID: principalID, Online: online})
	}
}

// dispatch routes one client event. The switch is exhaustive over the
// closed client-event union.
func (s *Server) dispatch(ctx context.Context, c *Client, ev chat.ClientEvent) {
	switch ev := ev.(type) {
	case *chat.JoinEvent:
		s.handleJoin(ctx, c, ev.RoomID)
	case *chat.LeaveEvent:
		s.handleLeave(ctx, c, ev.RoomID)
	case *chat.SendEvent:
		s.handleSend(ctx, c, ev)
	case *chat.TypingEvent:
		if err := s.pipeline.Typing(ctx, ev.RoomID, c.principalID); err != nil {
			s.reportEphemeral(c, ev.RoomID, "typing", err)
		}
	case *chat.MarkReadEvent:
		if err := s.pipeline.MarkRead(ctx, ev.RoomID, ev.MessageID, c.principalID); err != nil {
			s.reportEphemeral(c, ev.RoomID, "markRead", err)
		}
	default:
		c.sendEvent(chat.ErrorEvent{Code: "bad_request", Message: "unrecognized event"})
	}
}

func (s *Server) handleJoin(ctx context.Context, c *Client, roomID string) {
	if roomID == "" {
		c.sendEvent(chat.ErrorEvent{Code: "bad_request", Message: "roomId required"})
		return
	}

	participants, err := s.rooms.Join(ctx, roomID, c.principalID)
	if err != nil {
		c.sendEvent(chat.ErrorEvent{Code: "unavailable", Message: "join failed, retry", Retry: true})
		return
	}
	c.joined[roomID] = struct{}{}

	s.broadcaster.Deliver(ctx, roomID, chat.ParticipantsUpdated{RoomID: roomID, Participants: participants})

	// Catch-up straight from the recency cache; degrades to no catch-up.
	recent, err := s.recency.Recent(ctx, roomID)
	if err != nil {
		s.log.Warn("recency read failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	c.sendEvent(chat.RecentMessages{RoomID: roomID, Messages: recent})
}

func (s *Server) handleLeave(ctx context.Context, c *Client, roomID string) {
	if roomID == "" {
		c.sendEvent(chat.ErrorEvent{Code: "bad_request", Message: "roomId required"})
		return
	}

	participants, err := s.rooms.Leave(ctx, roomID, c.principalID)
	if err != nil {
		c.sendEvent(chat.ErrorEvent{Code: "unavailable", Message: "leave failed, retry", Retry: true})
		return
	}
	delete(c.joined, roomID)

	s.broadcaster.Deliver(ctx, roomID, chat.ParticipantsUpdated{RoomID: roomID, Participants: participants})
}

func (s *Server) handleSend(ctx context.Context, c *Client, ev *chat.SendEvent) {
	if ev.RoomID == "" || ev.Content == "" {
		c.sendEvent(chat.ErrorEvent{Code: "bad_request", Message: "roomId and content required"})
		return
	}
	typ := ev.Type
	if typ == "" {
		typ = chat.MessageText
	}

	if _, err := s.pipeline.Send(ctx, ev.RoomID, c.principalID, typ, ev.Content); err != nil {
		switch {
		case errors.Is(err, chat.ErrForbidden):
			c.sendEvent(chat.ErrorEvent{Code: "forbidden", Message: "not a room participant"})
		case errors.Is(err, chat.ErrUnavailable):
			c.sendEvent(chat.ErrorEvent{Code: "unavailable", Message: "send failed, retry", Retry: true})
		default:
			c.sendEvent(chat.ErrorEvent{Code: "unavailable", Message: "send failed, retry", Retry: true})
		}
		s.log.Warn("send failed",
			zap.String("room", ev.RoomID),
			zap.String("principal", c.principalID),
			zap.Error(err))
	}
}

// reportEphemeral surfaces forbidden ephemeral operations to the sender and
// silently degrades everything else: a typing indicator that never arrives
// is not an error the client needs to see.
func (s *Server) reportEphemeral(c *Client, roomID, op string, err error) {
	if errors.Is(err, chat.ErrForbidden) {
		c.sendEvent(chat.ErrorEvent{Code: "forbidden", Message: "not a room participant"})
		return
	}
	s.log.Warn("ephemeral event degraded",
		zap.String("op", op),
		zap.String("room", roomID),
		zap.String("principal", c.principalID),
		zap.Error(err))
}
