package stream

import (
	"context"
	"sync"
)

// Tap is an observer that buffers matching events in a Queue for a consumer
// running on its own goroutine.
type Tap struct {
	queue   *Queue[Event]
	symbols map[string]struct{} // nil matches every symbol
	remove  func()
	once    sync.Once
}

// NewTap registers a tap on d for the given kinds. If symbols is non-empty only
// events for those symbols are buffered; control events carry no symbol and
// always pass.
func NewTap(d *Dispatcher, bufferSize, maxBufferSize int, symbols []string, kinds ...Kind) *Tap {
	t := &Tap{queue: NewQueue[Event](bufferSize, maxBufferSize)}
	if len(symbols) > 0 {
		t.symbols = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			t.symbols[s] = struct{}{}
		}
	}
	t.remove = d.Register(t, kinds...)
	return t
}

// OnEvent implements Observer.
func (t *Tap) OnEvent(ev Event) {
	if t.symbols != nil && ev.Symbol != "" {
		if _, ok := t.symbols[ev.Symbol]; !ok {
			return
		}
	}
	t.queue.Push(ev)
}

// Next waits for the next buffered event.
func (t *Tap) Next(ctx context.Context) (Event, bool) {
	return t.queue.Pop(ctx)
}

// Stats returns the tap's queue statistics.
func (t *Tap) Stats() QueueStats {
	return t.queue.Stats()
}

// Close unregisters the tap and closes its queue. Idempotent.
func (t *Tap) Close() {
	t.once.Do(func() {
		t.remove()
		t.queue.Close()
	})
}
