// internal/messaging/memory.go
package messaging

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("broker closed")

const memoryQueueDepth = 256

type memoryQueue struct {
	binding Binding
	ch      chan Message
}

// MemoryBroker is an in-process Broker. Each queue is a buffered channel;
// every subscription to a queue runs its own goroutine reading from it.
type MemoryBroker struct {
	mu     sync.RWMutex
	queues map[string]*memoryQueue // by queue name
	closed bool
	done   chan struct{}
	seq    atomic.Uint64
	wg     conc.WaitGroup
	logger logrus.FieldLogger
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker(logger logrus.FieldLogger) *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memoryQueue),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var targets []*memoryQueue
	for _, q := range b.queues {
		if q.binding.Exchange == exchange && q.binding.RoutingKey == routingKey {
			targets = append(targets, q)
		}
	}
	b.mu.RUnlock()

	id := strconv.FormatUint(b.seq.Add(1), 10)
	for _, q := range targets {
		msg := Message{ID: id, Exchange: exchange, RoutingKey: routingKey, Queue: q.binding.Queue, Body: body}
		select {
		case q.ch <- msg:
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, binding Binding, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	q, ok := b.queues[binding.Queue]
	if !ok {
		q = &memoryQueue{binding: binding, ch: make(chan Message, memoryQueueDepth)}
		b.queues[binding.Queue] = q
	}
	b.mu.Unlock()

	b.wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg := <-q.ch:
				dispatch(ctx, b.logger, h, msg)
			}
		}
	})
	return nil
}

// Close stops all consumers and waits for in-flight handlers.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
