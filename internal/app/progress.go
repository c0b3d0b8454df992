package app

import (
	"sync"

	"github.com/ayusman/repcoach/internal/session"
)

// Update types sent to progress subscribers.
const (
	UpdateProgress = "progress"
	UpdateFinished = "finished"
)

// Update is one message on the live progress feed.
type Update struct {
	Type      string
	SessionID string
	Progress  session.Progress
	Outcome   *Outcome
}

// Broadcaster fans session updates out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses updates.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	buffer  int
	dropped int64
}

type subscriber struct {
	sessionID string
	ch        chan Update
}

// NewBroadcaster creates a Broadcaster whose subscribers buffer up to buffer updates.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe returns a channel of updates for sessionID, or of every session
// when sessionID is empty, and a function that ends the subscription and
// closes the channel.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{sessionID: sessionID, ch: make(chan Update, b.buffer)}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
}

// Publish delivers u to every matching subscriber without blocking.
func (b *Broadcaster) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != u.SessionID {
			continue
		}
		select {
		case sub.ch <- u:
		default:
			b.dropped++
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many updates were discarded for slow subscribers.
func (b *Broadcaster) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
