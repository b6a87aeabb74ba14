// Package changefeed carries "the draft for profile X changed" notifications
// between the parts of the process that care (the synchronizer, open
// lifecycle views) and, through Redis pub/sub, between server instances that
// serve different tabs of the same browser profile.
package changefeed

import (
	"context"
	"sync"
	"time"
)

// Kind tells subscribers what happened to the stored draft.
type Kind string

const (
	KindWrite Kind = "write"
	KindClear Kind = "clear"
)

// Change is a single notification.  Source identifies the emitting process
// so a bus can skip echoes of its own messages.
type Change struct {
	Profile string    `json:"profile"`
	Kind    Kind      `json:"kind"`
	Source  string    `json:"source,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher emits changes.
type Publisher interface {
	Publish(ctx context.Context, ch Change) error
}

// Subscriber registers a handler for one profile.  The returned func removes
// the handler.
type Subscriber interface {
	Subscribe(profile string, fn func(Change)) (unsubscribe func())
}

// Bus is both.
type Bus interface {
	Publisher
	Subscriber
}

type handler struct {
	id int
	fn func(Change)
}

// LocalBus delivers changes synchronously to in-process subscribers.
// Handlers run outside the bus lock, so a handler may publish again.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string][]handler
}

// NewLocalBus returns an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string][]handler)}
}

func (b *LocalBus) Publish(_ context.Context, ch Change) error {
	b.deliver(ch)
	return nil
}

func (b *LocalBus) deliver(ch Change) {
	b.mu.RLock()
	hs := append([]handler(nil), b.handlers[ch.Profile]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h.fn(ch)
	}
}

func (b *LocalBus) Subscribe(profile string, fn func(Change)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[profile] = append(b.handlers[profile], handler{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[profile]
			for i, h := range hs {
				if h.id == id {
					b.handlers[profile] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			if len(b.handlers[profile]) == 0 {
				delete(b.handlers, profile)
			}
		})
	}
}
