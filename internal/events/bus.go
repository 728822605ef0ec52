// internal/events/bus.go
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// Handler reacts to one event. Returned errors are logged by the Bus; they
// never reach the publisher.
type Handler func(ctx context.Context, ev Event) error

// Publisher is what producers of domain events depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Bus dispatches events synchronously, in subscription order, on the
// publisher's goroutine. A failing or panicking listener does not stop the
// remaining listeners.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   logrus.FieldLogger
}

var _ Publisher = (*Bus)(nil)

func NewBus(logger logrus.FieldLogger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers h for events with the given name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Subscribe registers a typed listener for events of type T.
func Subscribe[T Event](b *Bus, fn func(ctx context.Context, ev T) error) {
	var zero T
	b.Subscribe(zero.EventName(), func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return fmt.Errorf("unexpected event type %T for %s", ev, zero.EventName())
		}
		return fn(ctx, typed)
	})
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.EventName()]...)
	b.mu.RUnlock()

	for _, h := range hs {
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = h(ctx, ev) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"event": ev.EventName(),
				"error": err,
			}).Error("domain event listener failed")
		}
	}
}
