package eventbus

import (
	"context"
	"sync"
)

// maxLogEntries bounds the retained log so a long-lived process does not
// grow without limit. Subscribers are unaffected; only the replayable
// tail shrinks.
const maxLogEntries = 1024

// Memory is an in-process fan-out bus. It acknowledges a publish once the
// message is appended to its log and offered to every live subscriber;
// slow subscribers drop, the log keeps the most recent messages. Backs
// single-process mode and the live websocket feed.
type Memory struct {
	mu   sync.RWMutex
	subs map[chan Message]struct{}
	log  []Message

	failWith error
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[chan Message]struct{})}
}

func (b *Memory) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	if b.failWith != nil {
		err := b.failWith
		b.mu.Unlock()
		return err
	}
	b.log = append(b.log, msg)
	if len(b.log) > maxLogEntries {
		b.log = append(b.log[:0:0], b.log[len(b.log)-maxLogEntries:]...)
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

func (b *Memory) Subscribe() chan Message {
	ch := make(chan Message, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(ch chan Message) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Log returns a copy of the retained acknowledged messages, for tests.
func (b *Memory) Log() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.log))
	copy(out, b.log)
	return out
}

// FailWith makes subsequent publishes fail with err until called again
// with nil. Simulates broker outages in tests.
func (b *Memory) FailWith(err error) {
	b.mu.Lock()
	b.failWith = err
	b.mu.Unlock()
}
