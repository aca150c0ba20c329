package stream

import "testing"

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBus(4)
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)
	b.Publish(Message{Type: AlertRaised, Summary: "VEXOR Warning"})
	msg := <-ch
	if msg.Type != AlertRaised || msg.Timestamp.IsZero() {
		t.Fatalf("message: %+v", msg)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus(1)
	id, _ := b.Subscribe()
	b.Publish(Message{Type: AlertRaised})
	b.Publish(Message{Type: AlertRaised})
	if b.Dropped() != 1 {
		t.Fatalf("dropped: %d", b.Dropped())
	}
	b.Unsubscribe(id)
	if b.SubscriberCount() != 0 {
		t.Fatalf("subscriber not removed")
	}
}
