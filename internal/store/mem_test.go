package store

import (
	"context"
	"testing"
	"time"
)

func TestMemSetAddReportsTransition(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	added, card, err := m.SetAdd(ctx, "k", "a", 0)
	if err != nil {
		t.Fatalf("SetAdd: %v", err)
	}
	if !added || card != 1 {
		t.Errorf("first add: got added=%v card=%d, want true 1", added, card)
	}

	added, card, err = m.SetAdd(ctx, "k", "a", 0)
	if err != nil {
		t.Fatalf("SetAdd: %v", err)
	}
	if added || card != 1 {
		t.Errorf("duplicate add: got added=%v card=%d, want false 1", added, card)
	}
}

func TestMemSetRemoveReportsTransition(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	m.SetAdd(ctx, "k", "a", 0)
	m.SetAdd(ctx, "k", "b", 0)

	removed, card, err := m.SetRemove(ctx, "k", "a")
	if err != nil {
		t.Fatalf("SetRemove: %v", err)
	}
	if !removed || card != 1 {
		t.Errorf("remove present: got removed=%v card=%d, want true 1", removed, card)
	}

	removed, card, err = m.SetRemove(ctx, "k", "a")
	if err != nil {
		t.Fatalf("SetRemove: %v", err)
	}
	if removed || card != 1 {
		t.Errorf("remove absent: got removed=%v card=%d, want false 1", removed, card)
	}
}

func TestMemSetExpiry(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	now := time.Now()
	m.Now = func() time.Time { return now }

	m.SetAdd(ctx, "k", "a", time.Minute)

	now = now.Add(30 * time.Second)
	if card, _ := m.SetCard(ctx, "k"); card != 1 {
		t.Errorf("before expiry: card = %d, want 1", card)
	}

	now = now.Add(31 * time.Second)
	if card, _ := m.SetCard(ctx, "k"); card != 0 {
		t.Errorf("after expiry: card = %d, want 0", card)
	}
}

func TestMemListPushNewestFirst(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	m.ListPush(ctx, "k", []byte("one"), time.Hour)
	m.ListPush(ctx, "k", []byte("two"), time.Hour)
	m.ListPush(ctx, "k", []byte("three"), time.Hour)

	got, err := m.ListRange(ctx, "k", 0, 1)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if len(got) != 2 || string(got[0]) != "three" || string(got[1]) != "two" {
		t.Errorf("ListRange = %q, want [three two]", got)
	}

	all, _ := m.ListRange(ctx, "k", 0, -1)
	if len(all) != 3 {
		t.Errorf("full range = %d entries, want 3", len(all))
	}
}

func TestMemListTTLResetsOnPush(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	now := time.Now()
	m.Now = func() time.Time { return now }

	m.ListPush(ctx, "k", []byte("one"), time.Hour)

	// A push just before expiry keeps the whole key alive.
	now = now.Add(59 * time.Minute)
	m.ListPush(ctx, "k", []byte("two"), time.Hour)

	now = now.Add(59 * time.Minute)
	got, _ := m.ListRange(ctx, "k", 0, -1)
	if len(got) != 2 {
		t.Fatalf("after refresh: %d entries, want 2", len(got))
	}

	// An hour of silence clears the key as a unit.
	now = now.Add(2 * time.Minute)
	got, _ = m.ListRange(ctx, "k", 0, -1)
	if len(got) != 0 {
		t.Errorf("after expiry: %d entries, want 0", len(got))
	}
}

func TestMemDelete(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	m.SetAdd(ctx, "k", "a", 0)
	m.Delete(ctx, "k")
	if card, _ := m.SetCard(ctx, "k"); card != 0 {
		t.Errorf("card after delete = %d, want 0", card)
	}
}
