package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/chat"
	"github.com/studyrooms/chatcore/internal/presence"
)

type fakeParticipants struct {
	rooms map[string][]string
	fail  bool
}

func (f *fakeParticipants) CurrentParticipants(_ context.Context, roomID string) ([]string, error) {
	if f.fail {
		return nil, errors.New("resolution down")
	}
	return f.rooms[roomID], nil
}

type fakeConnections struct {
	conns map[string][]presence.ConnRef
}

func (f *fakeConnections) ResolveConnections(_ context.Context, principalID string) ([]presence.ConnRef, error) {
	return f.conns[principalID], nil
}

type fakeSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
	refuse map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[string][][]byte), refuse: make(map[string]bool)}
}

func (f *fakeSender) Send(connID string, frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse[connID] {
		return false
	}
	f.frames[connID] = append(f.frames[connID], frame)
	return true
}

type fakePublisher struct {
	published [][]byte
	rooms     []string
}

func (f *fakePublisher) Publish(_ context.Context, roomID string, frame []byte) error {
	f.rooms = append(f.rooms, roomID)
	f.published = append(f.published, frame)
	return nil
}

func TestDeliverReachesLocalConnectionsOnly(t *testing.T) {
	participants := &fakeParticipants{rooms: map[string][]string{"study-42": {"alice", "bob"}}}
	connections := &fakeConnections{conns: map[string][]presence.ConnRef{
		"alice": {
			{ProcessID: "proc-1", ConnectionID: "a1"},
			{ProcessID: "proc-2", ConnectionID: "a2"},
		},
		"bob": {
			{ProcessID: "proc-1", ConnectionID: "b1"},
		},
	}}
	sender := newFakeSender()
	publisher := &fakePublisher{}
	b := New(participants, connections, sender, publisher, "proc-1", zap.NewNop())

	b.Deliver(context.Background(), "study-42", chat.UserTyping{RoomID: "study-42", PrincipalID: "alice"})

	if len(sender.frames["a1"]) != 1 || len(sender.frames["b1"]) != 1 {
		t.Errorf("local connections a1/b1 should each get one frame, got %d/%d",
			len(sender.frames["a1"]), len(sender.frames["b1"]))
	}
	if len(sender.frames["a2"]) != 0 {
		t.Error("a2 belongs to another process and must not be delivered locally")
	}

	// The frame is published to the relay exactly once for the remote hop.
	if len(publisher.published) != 1 || publisher.rooms[0] != "study-42" {
		t.Fatalf("published %d frames to %v, want 1 to study-42", len(publisher.published), publisher.rooms)
	}

	var env chat.Envelope
	if err := json.Unmarshal(publisher.published[0], &env); err != nil {
		t.Fatalf("published frame is not an envelope: %v", err)
	}
	if env.Type != chat.TypeUserTyping {
		t.Errorf("published type = %q, want %q", env.Type, chat.TypeUserTyping)
	}
}

func TestDeliverIndependentPerConnection(t *testing.T) {
	participants := &fakeParticipants{rooms: map[string][]string{"study-42": {"alice", "bob"}}}
	connections := &fakeConnections{conns: map[string][]presence.ConnRef{
		"alice": {{ProcessID: "proc-1", ConnectionID: "a1"}},
		"bob":   {{ProcessID: "proc-1", ConnectionID: "b1"}},
	}}
	sender := newFakeSender()
	sender.refuse["a1"] = true
	b := New(participants, connections, sender, nil, "proc-1", zap.NewNop())

	b.Deliver(context.Background(), "study-42", chat.UserTyping{RoomID: "study-42", PrincipalID: "bob"})

	if len(sender.frames["b1"]) != 1 {
		t.Error("one refused connection must not fail delivery to the rest")
	}
}

func TestDeliverNoRelayConfigured(t *testing.T) {
	participants := &fakeParticipants{rooms: map[string][]string{"study-42": {"alice"}}}
	connections := &fakeConnections{conns: map[string][]presence.ConnRef{
		"alice": {{ProcessID: "proc-1", ConnectionID: "a1"}},
	}}
	sender := newFakeSender()
	b := New(participants, connections, sender, nil, "proc-1", zap.NewNop())

	// Must not panic without a relay.
	b.Deliver(context.Background(), "study-42", chat.PresenceChanged{PrincipalID: "alice", Online: true})

	if len(sender.frames["a1"]) != 1 {
		t.Error("local delivery must work without a relay")
	}
}

func TestDeliverResolutionFailureDegrades(t *testing.T) {
	participants := &fakeParticipants{fail: true}
	sender := newFakeSender()
	b := New(participants, &fakeConnections{}, sender, nil, "proc-1", zap.NewNop())

	// Degrades to no delivery, no panic, no error surfaced.
	b.Deliver(context.Background(), "study-42", chat.UserTyping{RoomID: "study-42", PrincipalID: "alice"})

	if len(sender.frames) != 0 {
		t.Errorf("unexpected deliveries: %v", sender.frames)
	}
}
