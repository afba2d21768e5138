package notify

import (
	"testing"
	"time"
)

func TestNotifier_PublishToSubscriber(t *testing.T) {
	n := NewNotifier(8)
	ch := n.SubscribeAutoID()

	n.Publish(Event{Type: CommitApplied, Path: "/tmp/a.db", Version: 7})

	select {
	case ev := <-ch:
		if ev.Type != CommitApplied {
			t.Errorf("expected CommitApplied, got %v", ev.Type)
		}
		if ev.Path != "/tmp/a.db" || ev.Version != 7 {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Timestamp == 0 {
			t.Error("expected timestamp to be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNotifier_PathPrefixFilter(t *testing.T) {
	n := NewNotifier(8)
	ch := n.SubscribeAutoID("/var/lib/app")

	n.Publish(Event{Type: CommitApplied, Path: "/tmp/other.db", Version: 1})
	n.Publish(Event{Type: CommitApplied, Path: "/var/lib/app/main.db", Version: 2})

	select {
	case ev := <-ch:
		if ev.Version != 2 {
			t.Errorf("expected filtered event version 2, got %d", ev.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case ev := <-ch:
		t.Errorf("unexpected second event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_EmptyFilterReceivesAll(t *testing.T) {
	n := NewNotifier(8)
	sub := n.Subscribe("watcher", nil)

	n.Publish(Event{Type: SchemaChanged, Path: "a.db", SchemaVersion: 3})
	n.Publish(Event{Type: HistoryTrimmed, Path: "b.db", Version: 9})

	for i := 0; i < 2; i++ {
		select {
		case <-sub.Ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestNotifier_FullChannelDropsEvent(t *testing.T) {
	n := NewNotifier(1)
	ch := n.SubscribeAutoID()

	n.Publish(Event{Type: CommitApplied, Path: "a.db", Version: 1})
	n.Publish(Event{Type: CommitApplied, Path: "a.db", Version: 2}) // dropped

	select {
	case ev := <-ch:
		if ev.Version != 1 {
			t.Errorf("expected first event, got version %d", ev.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case ev := <-ch:
		t.Errorf("dropped event was delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(8)
	sub := n.Subscribe("temp", nil)
	n.Unsubscribe("temp")

	select {
	case _, ok := <-sub.Ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}

	// Publishing after unsubscribe must not panic.
	n.Publish(Event{Type: CommitApplied, Path: "a.db", Version: 1})
}

func TestNotifier_MultipleSubscribers(t *testing.T) {
	n := NewNotifier(8)
	a := n.SubscribeAutoID()
	b := n.SubscribeAutoID()

	n.Publish(Event{Type: CommitApplied, Path: "shared.db", Version: 5})

	for name, ch := range map[string]chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Version != 5 {
				t.Errorf("subscriber %s: unexpected event %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: timeout waiting for event", name)
		}
	}
}
