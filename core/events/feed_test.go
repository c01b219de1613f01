package events

import (
	"testing"

	"whistlechain/core/types"
)

type testEvent struct {
	evt *types.Event
}

func (e testEvent) EventType() string { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func TestFeedDeliversToSubscribers(t *testing.T) {
	feed := NewFeed()
	a := feed.Subscribe(4)
	b := feed.Subscribe(4)
	defer a.Close()
	defer b.Close()

	feed.Emit(testEvent{evt: &types.Event{Type: "bounty.created", Attributes: map[string]string{"id": "0x01"}}})

	for _, sub := range []*Subscription{a, b} {
		select {
		case got := <-sub.C():
			if got.Type != "bounty.created" || got.Attributes["id"] != "0x01" {
				t.Fatalf("unexpected event %+v", got)
			}
		default:
			t.Fatalf("expected event to be delivered")
		}
	}
}

func TestFeedDropsWhenBufferFull(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(1)
	defer sub.Close()

	evt := testEvent{evt: &types.Event{Type: "bounty.closed"}}
	feed.Emit(evt)
	feed.Emit(evt)
	feed.Emit(evt)

	if got := sub.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
	<-sub.C()
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(1)
	if feed.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Close()
	sub.Close()
	if feed.Subscribers() != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	feed.Emit(testEvent{evt: &types.Event{Type: "bounty.closed"}})
}

func TestMultiAndRender(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(2)
	defer sub.Close()
	Multi{NoopEmitter{}, nil, feed}.Emit(testEvent{evt: &types.Event{Type: "bounty.tip.submitted"}})
	if got := <-sub.C(); got.Type != "bounty.tip.submitted" {
		t.Fatalf("unexpected type %q", got.Type)
	}
	if Render(nil) != nil {
		t.Fatalf("expected nil render for nil event")
	}
}
