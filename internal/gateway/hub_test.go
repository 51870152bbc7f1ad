package gateway

import "testing"

func TestHubRoutesToRegisteredConnections(t *testing.T) {
	h := NewHub()
	c := &Client{id: "c1", send: make(chan []byte, 4)}
	h.register(c)

	if !h.Send("c1", []byte("frame")) {
		t.Fatal("Send to a registered connection should succeed")
	}
	if got := <-c.send; string(got) != "frame" {
		t.Errorf("frame = %q, want %q", got, "frame")
	}
	if h.Len() != 1 {
		t.Errorf("Len = %d, want 1", h.Len())
	}
}

func TestHubUnknownConnection(t *testing.T) {
	h := NewHub()
	if h.Send("nope", []byte("frame")) {
		t.Error("Send to an unknown connection must report failure")
	}
}

func TestHubUnregisterStopsRouting(t *testing.T) {
	h := NewHub()
	c := &Client{id: "c1", send: make(chan []byte, 4)}
	h.register(c)
	h.unregister(c)

	if h.Send("c1", []byte("frame")) {
		t.Error("Send after unregister must report failure")
	}
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h := NewHub()
	c := &Client{id: "c1", send: make(chan []byte)} // no buffer, always full
	h.register(c)

	if h.Send("c1", []byte("frame")) {
		t.Error("a full send buffer must refuse the frame")
	}
}
