package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/agora/internal/codec"
)

// Observer receives events of the kinds it was registered for.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64 `json:"messages_received"`
	FramesDecoded    int64 `json:"frames_decoded"`
	EventsDispatched int64 `json:"events_dispatched"`
	ParseErrors      int64 `json:"parse_errors"`
	UnknownFrames    int64 `json:"unknown_frames"`
	ObserverFaults   int64 `json:"observer_faults"`
}

type registration struct {
	id  uint64
	obs Observer
}

// Dispatcher decodes inbound messages, classifies their frames and invokes the
// observers registered for each event kind.
type Dispatcher struct {
	logger  *slog.Logger
	decoder *codec.Decoder

	// Observer lists are replaced, never mutated, so Dispatch can iterate a
	// snapshot without holding the lock.
	mu        sync.RWMutex
	observers map[Kind][]registration
	nextID    uint64

	authenticated atomic.Bool

	received       atomic.Int64
	decoded        atomic.Int64
	dispatched     atomic.Int64
	unknown        atomic.Int64
	observerFaults atomic.Int64
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		logger:    logger,
		decoder:   codec.NewDecoder(logger),
		observers: make(map[Kind][]registration),
	}
}

// Register adds obs for the given kinds and returns a function that removes
// it. The returned function is idempotent.
func (d *Dispatcher) Register(obs Observer, kinds ...Kind) (remove func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	for _, kind := range kinds {
		if kind == KindUnknown {
			continue
		}
		current := d.observers[kind]
		next := make([]registration, len(current), len(current)+1)
		copy(next, current)
		d.observers[kind] = append(next, registration{id: id, obs: obs})
	}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.unregister(id, kinds) })
	}
}

// RegisterFunc is Register for a plain function.
func (d *Dispatcher) RegisterFunc(fn func(Event), kinds ...Kind) (remove func()) {
	return d.Register(ObserverFunc(fn), kinds...)
}

func (d *Dispatcher) unregister(id uint64, kinds []Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, kind := range kinds {
		current := d.observers[kind]
		next := make([]registration, 0, len(current))
		for _, r := range current {
			if r.id != id {
				next = append(next, r)
			}
		}
		if len(next) == 0 {
			delete(d.observers, kind)
		} else {
			d.observers[kind] = next
		}
	}
}

// ObserverCount returns the number of observers registered for kind.
func (d *Dispatcher) ObserverCount(kind Kind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers[kind])
}

// HandleMessage processes one inbound text message: every frame is classified
// and dispatched in array order. It never panics on bad input.
func (d *Dispatcher) HandleMessage(data []byte, receivedAt time.Time) {
	d.received.Add(1)
	d.logger.Debug("received message", "message", string(data))

	for frame := range d.decoder.Decode(data) {
		d.decoded.Add(1)

		ev := Classify(frame)
		ev.ReceivedAt = receivedAt

		switch ev.Kind {
		case KindUnknown:
			d.unknown.Add(1)
			if !frame.HasType {
				d.logger.Warn("message element without discriminator", "element", string(frame.Raw))
			} else {
				d.logger.Warn("unknown message type", "type", frame.Type, "element", string(frame.Raw))
			}
			continue
		case KindSuccess:
			d.logger.Info("stream success", "msg", ev.Message)
			if ev.Authenticated() {
				d.authenticated.Store(true)
				d.logger.Info("authenticated with market data stream")
			}
		case KindError:
			d.logger.Error("stream error", "code", ev.Code, "msg", ev.Message)
		case KindSubscription:
			d.logger.Info("subscription status update", "subscription", string(frame.Raw))
		}

		d.Dispatch(ev)
	}
}

// Dispatch invokes every observer registered for ev.Kind and returns how many
// were invoked. Unknown events are never delivered.
func (d *Dispatcher) Dispatch(ev Event) int {
	if ev.Kind == KindUnknown {
		return 0
	}

	d.mu.RLock()
	snapshot := d.observers[ev.Kind]
	d.mu.RUnlock()

	for _, r := range snapshot {
		d.invoke(r, ev)
	}
	d.dispatched.Add(1)
	return len(snapshot)
}

func (d *Dispatcher) invoke(r registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			d.observerFaults.Add(1)
			d.logger.Error("observer panicked",
				"observer_id", r.id,
				"kind", ev.Kind.String(),
				"panic", p,
			)
		}
	}()
	r.obs.OnEvent(ev)
}

// Authenticated reports whether an "authenticated" success event has been
// seen since the last Reset.
func (d *Dispatcher) Authenticated() bool {
	return d.authenticated.Load()
}

// Reset clears per-session state. Called when a new connection is made.
func (d *Dispatcher) Reset() {
	d.authenticated.Store(false)
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		MessagesReceived: d.received.Load(),
		FramesDecoded:    d.decoded.Load(),
		EventsDispatched: d.dispatched.Load(),
		ParseErrors:      d.decoder.ParseErrors(),
		UnknownFrames:    d.unknown.Load(),
		ObserverFaults:   d.observerFaults.Load(),
	}
}
