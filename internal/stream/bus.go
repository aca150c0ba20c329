// Package stream fans engine activity out to live subscribers such as the
// websocket alert feed.
package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	AlertRaised      Type = "alert.raised"
	RuleChanged      Type = "rule.changed"
	SnapshotDegraded Type = "snapshot.degraded"
	SnapshotRestored Type = "snapshot.restored"
	PoliceArmed      Type = "police.armed"
	PoliceDisarmed   Type = "police.disarmed"
)

type Message struct {
	Type      Type      `json:"type"`
	Summary   string    `json:"summary,omitempty"`
	Detail    any       `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Message) JSON() []byte {
	data, _ := json.Marshal(m)
	return data
}

// Bus drops messages for subscribers that fall behind rather than blocking
// the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Message
	bufferSize  int
	dropped     atomic.Uint64
}

func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]chan Message),
		bufferSize:  bufferSize,
	}
}

func (b *Bus) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (b *Bus) Subscribe() (string, <-chan Message) {
	id := uuid.NewString()
	ch := make(chan Message, b.bufferSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
