package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func setupNotifier(t *testing.T) *Notifier {
	t.Helper()
	s := miniredis.RunT(t)
	n, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestPublishSubscribe(t *testing.T) {
	n := setupNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refID := uuid.New()
	got := make(chan RefUpdate, 1)
	if err := n.Subscribe(ctx, refID, func(u RefUpdate) { got <- u }); err != nil {
		t.Fatal(err)
	}

	update := RefUpdate{RefID: refID, Actor: "alice", Snapshot: 7}
	if err := n.Publish(ctx, update); err != nil {
		t.Fatal(err)
	}

	select {
	case u := <-got:
		if u.RefID != refID || u.Actor != "alice" || u.Snapshot != 7 {
			t.Fatalf("update = %+v", u)
		}
		if u.At.IsZero() {
			t.Fatal("publish did not stamp the update")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}

func TestSubscribeScopedToRef(t *testing.T) {
	n := setupNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watched := uuid.New()
	other := uuid.New()
	got := make(chan RefUpdate, 1)
	if err := n.Subscribe(ctx, watched, func(u RefUpdate) { got <- u }); err != nil {
		t.Fatal(err)
	}

	if err := n.Publish(ctx, RefUpdate{RefID: other}); err != nil {
		t.Fatal(err)
	}
	if err := n.Publish(ctx, RefUpdate{RefID: watched}); err != nil {
		t.Fatal(err)
	}

	select {
	case u := <-got:
		if u.RefID != watched {
			t.Fatalf("delivered update for %s", u.RefID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}
