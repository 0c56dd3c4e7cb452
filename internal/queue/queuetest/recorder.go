// Package queuetest records published events for assertions.
package queuetest

import (
	"context"
	"sync"
)

// Message is one recorded publication.
type Message struct {
	Key   string
	Event any
}

// Recorder implements queue.Publisher in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Publish(_ context.Context, key string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Key: key, Event: v})
	return nil
}

// Keys returns the routing keys in publication order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Key
	}
	return out
}

// Count returns how many events were published under key.
func (r *Recorder) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Key == key {
			n++
		}
	}
	return n
}

// Messages returns a copy of everything recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}
