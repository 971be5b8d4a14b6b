// Package eventbus is a small in-memory fanout for lifecycle signals.
package eventbus

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Event is a lightweight signal. Data should be small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks publishers: a subscriber whose buffer is full misses
// the event.
type Bus interface {
	Publish(e Event)
	// Subscribe receives events whose Type is in types, or every event when
	// types is empty.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types mapset.Set[string] // nil = all
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// The read lock is held while sending so unsubscribe cannot close a
	// channel mid-send; sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.types != nil && !s.types.Contains(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = mapset.NewThreadUnsafeSet(types...)
	}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}
