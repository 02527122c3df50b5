package messaging

import (
	"testing"
	"time"
)

func TestSubjects(t *testing.T) {
	cases := map[string]string{
		MatchFormedSubject(42):  "arena.match.formed.42",
		MatchVotingSubject(7):   "arena.match.voting.7",
		MatchResolvedSubject(7): "arena.match.resolved.7",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("subject = %q, want %q", got, want)
		}
	}
}

func setupTestClient(t *testing.T) *NATSClient {
	t.Helper()

	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPublishMatchFormed_Delivered(t *testing.T) {
	c := setupTestClient(t)

	got := make(chan []byte, 1)
	if err := c.SubscribeMatchFormed(42, func(data []byte) { got <- data }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := c.PublishMatchFormed(42, []byte(`{"matchId":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != `{"matchId":1}` {
			t.Errorf("unexpected payload %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestUnsubscribe_Unknown(t *testing.T) {
	c := setupTestClient(t)

	if err := c.Unsubscribe("arena.nothing"); err == nil {
		t.Error("expected error for unknown subscription")
	}
}

func TestSubscribeMatchResolved_AllMatches(t *testing.T) {
	c := setupTestClient(t)

	got := make(chan string, 2)
	if err := c.SubscribeMatchResolved(func(data []byte) { got <- string(data) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	for _, id := range []int64{3, 11} {
		if err := c.PublishMatchResolved(id, []byte(MatchResolvedSubject(id))); err != nil {
			t.Fatalf("publish %d: %v", id, err)
		}
	}
	// Not a resolution; must not reach the handler.
	if err := c.PublishVotingStarted(3, []byte("voting")); err != nil {
		t.Fatalf("publish voting: %v", err)
	}

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case s := <-got:
			seen[s] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", seen)
		}
	}
	if !seen["arena.match.resolved.3"] || !seen["arena.match.resolved.11"] {
		t.Errorf("unexpected payloads %v", seen)
	}

	select {
	case s := <-got:
		t.Errorf("unexpected extra message %q", s)
	case <-time.After(100 * time.Millisecond):
	}
}
