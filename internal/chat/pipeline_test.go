package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errDown = errors.New("dependency down")

type fakeStore struct {
	persisted   []Message
	receipts    map[string]string // messageId -> readerId
	important   map[string]bool
	failPersist bool
	failReceipt bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{receipts: make(map[string]string), important: make(map[string]bool)}
}

func (f *fakeStore) PersistMessage(_ context.Context, roomID, senderID string, typ MessageType, content string) (Message, error) {
	if f.failPersist {
		return Message{}, errDown
	}
	msg := Message{
		ID:        "m" + content,
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	f.persisted = append(f.persisted, msg)
	return msg, nil
}

func (f *fakeStore) MarkRead(_ context.Context, _, messageID, readerID string) error {
	if f.failReceipt {
		return errDown
	}
	f.receipts[messageID] = readerID
	return nil
}

func (f *fakeStore) SetImportant(_ context.Context, messageID string, important bool) error {
	f.important[messageID] = important
	return nil
}

type fakeMembership struct {
	members map[string]bool // "room/principal"
	fail    bool
}

func (f *fakeMembership) IsParticipant(_ context.Context, roomID, principalID string) (bool, error) {
	if f.fail {
		return false, errDown
	}
	return f.members[roomID+"/"+principalID], nil
}

type fakeCache struct {
	appended []Message
	fail     bool
}

func (f *fakeCache) Append(_ context.Context, _ string, msg Message) error {
	if f.fail {
		return errDown
	}
	f.appended = append(f.appended, msg)
	return nil
}

type fakeDeliverer struct {
	delivered []ServerEvent
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ string, ev ServerEvent) {
	f.delivered = append(f.delivered, ev)
}

type fixture struct {
	store      *fakeStore
	membership *fakeMembership
	cache      *fakeCache
	deliverer  *fakeDeliverer
	pipeline   *Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		store:      newFakeStore(),
		membership: &fakeMembership{members: map[string]bool{"study-42/alice": true, "study-42/bob": true}},
		cache:      &fakeCache{},
		deliverer:  &fakeDeliverer{},
	}
	f.pipeline = NewPipeline(f.store, f.membership, f.cache, f.deliverer, zap.NewNop())
	return f
}

func TestSendPersistsCachesAndDelivers(t *testing.T) {
	f := newFixture()

	msg, err := f.pipeline.Send(context.Background(), "study-42", "alice", MessageText, "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == "" {
		t.Error("returned message has no durable id")
	}
	if len(f.store.persisted) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(f.store.persisted))
	}
	if len(f.cache.appended) != 1 || f.cache.appended[0].ID != msg.ID {
		t.Errorf("cache got %v, want the persisted message", f.cache.appended)
	}
	if len(f.deliverer.delivered) != 1 {
		t.Fatalf("delivered %d events, want 1", len(f.deliverer.delivered))
	}
	got, ok := f.deliverer.delivered[0].(MessageReceived)
	if !ok {
		t.Fatalf("delivered %T, want MessageReceived", f.deliverer.delivered[0])
	}
	if got.Message.ID != msg.ID {
		t.Errorf("broadcast id %s != returned id %s", got.Message.ID, msg.ID)
	}
}

func TestSendForbiddenForNonParticipant(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline.Send(context.Background(), "study-42", "mallory", MessageText, "hi")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if len(f.store.persisted) != 0 {
		t.Error("nothing may be persisted on a forbidden send")
	}
	if len(f.cache.appended) != 0 || len(f.deliverer.delivered) != 0 {
		t.Error("nothing may be cached or broadcast on a forbidden send")
	}
}

func TestSendAllOrNothingOnPersistFailure(t *testing.T) {
	f := newFixture()
	f.store.failPersist = true

	_, err := f.pipeline.Send(context.Background(), "study-42", "alice", MessageText, "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), errDown.Error()) {
		t.Errorf("err = %v, must name the underlying cause", err)
	}
	if len(f.cache.appended) != 0 {
		t.Error("cache must be untouched when persistence fails")
	}
	if len(f.deliverer.delivered) != 0 {
		t.Error("no broadcast without a durable write")
	}
}

func TestSendMembershipCheckFailureIsUnavailable(t *testing.T) {
	f := newFixture()
	f.membership.fail = true

	_, err := f.pipeline.Send(context.Background(), "study-42", "alice", MessageText, "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), errDown.Error()) {
		t.Errorf("err = %v, must name the underlying cause", err)
	}
}

func TestSendCacheFailureStillBroadcasts(t *testing.T) {
	f := newFixture()
	f.cache.fail = true

	msg, err := f.pipeline.Send(context.Background(), "study-42", "alice", MessageText, "hi")
	if err != nil {
		t.Fatalf("Send must survive a cache failure: %v", err)
	}
	if len(f.deliverer.delivered) != 1 {
		t.Fatal("broadcast must still happen, the message is durable")
	}
	if got := f.deliverer.delivered[0].(MessageReceived); got.Message.ID != msg.ID {
		t.Errorf("broadcast id %s != returned id %s", got.Message.ID, msg.ID)
	}
}

func TestTypingBypassesPersistenceAndCache(t *testing.T) {
	f := newFixture()

	if err := f.pipeline.Typing(context.Background(), "study-42", "alice"); err != nil {
		t.Fatalf("Typing: %v", err)
	}
	if len(f.store.persisted) != 0 || len(f.cache.appended) != 0 {
		t.Error("ephemeral events must not be persisted or cached")
	}
	if len(f.deliverer.delivered) != 1 {
		t.Fatalf("delivered %d events, want 1", len(f.deliverer.delivered))
	}
	if _, ok := f.deliverer.delivered[0].(UserTyping); !ok {
		t.Errorf("delivered %T, want UserTyping", f.deliverer.delivered[0])
	}
}

func TestTypingForbiddenForNonParticipant(t *testing.T) {
	f := newFixture()

	err := f.pipeline.Typing(context.Background(), "study-42", "mallory")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if len(f.deliverer.delivered) != 0 {
		t.Error("no delivery for a forbidden typing event")
	}
}

func TestMarkReadRecordsReceiptAndDelivers(t *testing.T) {
	f := newFixture()

	if err := f.pipeline.MarkRead(context.Background(), "study-42", "m1", "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if f.store.receipts["m1"] != "bob" {
		t.Error("read receipt not recorded")
	}
	ev, ok := f.deliverer.delivered[0].(MessageRead)
	if !ok || ev.MessageID != "m1" || ev.PrincipalID != "bob" {
		t.Errorf("delivered %v, want MessageRead{m1, bob}", f.deliverer.delivered[0])
	}
}

func TestMarkReadReceiptFailureStillDelivers(t *testing.T) {
	f := newFixture()
	f.store.failReceipt = true

	if err := f.pipeline.MarkRead(context.Background(), "study-42", "m1", "bob"); err != nil {
		t.Fatalf("MarkRead must degrade, not fail: %v", err)
	}
	if len(f.deliverer.delivered) != 1 {
		t.Error("read event must still be delivered")
	}
}

func TestSendSystemSkipsParticipantCheck(t *testing.T) {
	f := newFixture()

	msg, err := f.pipeline.SendSystem(context.Background(), "study-42", "alice joined the room")
	if err != nil {
		t.Fatalf("SendSystem: %v", err)
	}
	if msg.Type != MessageSystem || msg.SenderID != "system" {
		t.Errorf("got type=%s sender=%s, want system/system", msg.Type, msg.SenderID)
	}
	if len(f.deliverer.delivered) != 1 {
		t.Error("system message must be broadcast")
	}
}

func TestMarkImportant(t *testing.T) {
	f := newFixture()

	if err := f.pipeline.MarkImportant(context.Background(), "study-42", "m1", "alice", true); err != nil {
		t.Fatalf("MarkImportant: %v", err)
	}
	if !f.store.important["m1"] {
		t.Error("important flag not set")
	}

	err := f.pipeline.MarkImportant(context.Background(), "study-42", "m1", "mallory", true)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}
