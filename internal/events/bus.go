package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/metrics"
)

type Type string

const (
	TypeAlert   Type = "alert"
	TypeCascade Type = "cascade"
)

// Event is what subscribers receive. Exactly one of Alert or Cascade is set.
type Event struct {
	ID      string                `json:"id"`
	Type    Type                  `json:"type"`
	At      time.Time             `json:"at"`
	Alert   *domain.AlertUpdate   `json:"alert,omitempty"`
	Cascade *domain.CascadeUpdate `json:"cascade,omitempty"`
}

func NewAlertEvent(u domain.AlertUpdate, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: TypeAlert, At: at, Alert: &u}
}

func NewCascadeEvent(u domain.CascadeUpdate, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: TypeCascade, At: at, Cascade: &u}
}

// Key is the device or tank the event concerns; sinks use it for partitioning.
func (e Event) Key() string {
	switch e.Type {
	case TypeAlert:
		if e.Alert != nil {
			return e.Alert.Alert.DeviceOrTankID
		}
	case TypeCascade:
		if e.Cascade != nil {
			return e.Cascade.Tank.TankID
		}
	}
	return ""
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full loses the event; the drop is counted.
type Bus struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

type subscription struct {
	name string
	ch   chan Event
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "bus").Logger(),
		subs:   make(map[int]*subscription),
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			metrics.EventsDropped.WithLabelValues(s.name).Inc()
			b.logger.Warn().Str("subscriber", s.name).Str("event", string(e.Type)).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribe registers a buffered channel. The returned func unsubscribes and
// closes the channel.
func (b *Bus) Subscribe(name string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	if name == "" {
		name = "subscriber-" + strconv.Itoa(id)
	}
	b.subs[id] = &subscription{name: name, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Sink is an outbound consumer of bus events (broker, cache, database).
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

const sendTimeout = 10 * time.Second

// Forward subscribes sink to the bus and delivers events until the bus closes,
// draining whatever is still buffered at that point. Cancelling ctx does not
// stop delivery; sends run on a detached context bounded by sendTimeout. Send
// errors are logged and the event is skipped. The returned channel closes once
// the last event was handed to the sink.
func Forward(ctx context.Context, b *Bus, sink Sink, buffer int) <-chan struct{} {
	ch, _ := b.Subscribe(sink.Name(), buffer)
	base := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log := b.logger.With().Str("sink", sink.Name()).Logger()
		for e := range ch {
			sendCtx, cancel := context.WithTimeout(base, sendTimeout)
			if err := sink.Send(sendCtx, e); err != nil {
				log.Error().Err(err).Str("event_id", e.ID).Str("key", e.Key()).Msg("sink send failed")
			}
			cancel()
		}
	}()
	return done
}
