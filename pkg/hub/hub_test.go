package hub

import (
	"context"
	"testing"
	"time"
)

func startHub(t *testing.T, opts ...Option) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

// attach registers a connectionless client with the given queue depth.
func attach(h *Hub, depth int) *Client {
	c := &Client{hub: h, send: make(chan Message, depth)}
	h.register <- c
	return c
}

func recv(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	h, _ := startHub(t)
	a, b := attach(h, 4), attach(h, 4)

	h.BroadcastBinary([]byte{0xff, 0xd8})
	if err := h.BroadcastJSON(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{a, b} {
		m, _ := recv(t, c)
		if m.Type != BinaryMessage || len(m.Data) != 2 {
			t.Errorf("first message = %+v", m)
		}
		m, _ = recv(t, c)
		if m.Type != JSONMessage || string(m.Data) != `{"n":1}` {
			t.Errorf("second message = %+v", m)
		}
	}
	if n := h.ClientCount(); n != 2 {
		t.Errorf("ClientCount = %d, want 2", n)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h, _ := startHub(t)
	slow := attach(h, 1)
	fast := attach(h, 8)

	for i := 0; i < 3; i++ {
		h.BroadcastBinary([]byte{byte(i)})
		recv(t, fast)
	}

	if _, ok := recv(t, slow); !ok {
		t.Fatal("slow client should still get its buffered message")
	}
	if _, ok := recv(t, slow); ok {
		t.Error("slow client channel should be closed")
	}
	if n := h.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d, want 1", n)
	}
}

func TestReplayLastMessage(t *testing.T) {
	h, _ := startHub(t, WithReplay())
	first := attach(h, 4)

	h.BroadcastBinary([]byte("old"))
	h.BroadcastBinary([]byte("new"))
	recv(t, first)
	recv(t, first)

	late := attach(h, 4)
	m, _ := recv(t, late)
	if string(m.Data) != "new" {
		t.Errorf("late client got %q, want the latest message", m.Data)
	}
}

func TestReplayDoesNotRepeatQueuedMessage(t *testing.T) {
	h := New("test", WithReplay())
	h.BroadcastBinary([]byte("queued"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	// "queued" is delivered before the client joins, so it only arrives
	// through replay.
	c := attach(h, 4)
	h.BroadcastBinary([]byte("next"))

	var got []string
	for len(got) == 0 || got[len(got)-1] != "next" {
		m, _ := recv(t, c)
		got = append(got, string(m.Data))
	}
	if len(got) != 2 || got[0] != "queued" {
		t.Errorf("client got %q, want [queued next]", got)
	}
}

func TestRegisterSkipsQueuedBroadcasts(t *testing.T) {
	h := New("test")
	h.BroadcastBinary([]byte("a"))
	h.BroadcastBinary([]byte("b"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	c := attach(h, 4)
	h.BroadcastBinary([]byte("c"))

	if m, _ := recv(t, c); string(m.Data) != "c" {
		t.Errorf("first message = %q, want c", m.Data)
	}
	select {
	case m := <-c.send:
		t.Errorf("unexpected message %q", m.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h, cancel := startHub(t)
	c := attach(h, 1)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on shutdown")
	}
	if h.IsRunning() || h.ClientCount() != 0 {
		t.Error("hub should report stopped and empty")
	}
	if NewClient(h, nil) != nil {
		t.Error("NewClient on a stopped hub should return nil")
	}
}
