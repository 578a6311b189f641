package stream

import (
	"sync"

	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

const defaultBuffer = 64

// Broadcaster fans events from a single producer out to any number of
// subscribers. Publish never blocks: a subscriber that falls behind loses
// its oldest buffered events, never the newest, so terminal events always
// arrive.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	buffer  int
	closed  bool
	dropped int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a receive channel and a function that detaches it.
// The channel is closed on unsubscribe or when the broadcaster closes.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		b.deliver(ch, e)
	}
}

// deliver runs under b.mu, so it is the only sender on ch.
func (b *Broadcaster) deliver(ch chan Event, e Event) {
	for {
		select {
		case ch <- e:
			return
		default:
		}
		select {
		case old := <-ch:
			b.dropped++
			logx.Debug().Str("kind", string(old.Kind)).Uint64("query_id", old.QueryID).Msg("slow subscriber, dropping oldest event")
		default:
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (b *Broadcaster) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
