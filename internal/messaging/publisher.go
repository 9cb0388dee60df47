package messaging

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDropped is returned when an event could not be queued for publishing.
var ErrDropped = errors.New("event dropped")

// Publish is a function that publishes a typed event.
type Publish[T any] func(event *T) error

// NewPublishFunc creates a typed publish function for a specific topic.
func NewPublishFunc[T any](publisher message.Publisher, topic string) Publish[T] {
	return func(event *T) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)

		return publisher.Publish(topic, msg)
	}
}

// AsyncPublisher queues events and publishes them from a single goroutine so that
// callers on a request path never wait for the broker. When the queue is full the
// event is dropped.
type AsyncPublisher[T any] struct {
	publish Publish[T]
	queue   chan *T
	logger  *zap.Logger
	warn    *rate.Limiter

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncPublisher starts a publisher with a queue of the given size.
func NewAsyncPublisher[T any](publish Publish[T], size int, logger *zap.Logger) *AsyncPublisher[T] {
	p := &AsyncPublisher[T]{
		publish: publish,
		queue:   make(chan *T, max(size, 1)),
		logger:  logger,
		warn:    rate.NewLimiter(rate.Every(time.Second), 5),
		done:    make(chan struct{}),
	}

	go p.run()

	return p
}

// Publish queues event without blocking. It returns ErrDropped when the queue is
// full or the publisher is shut down.
func (p *AsyncPublisher[T]) Publish(event *T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrDropped
	}

	select {
	case p.queue <- event:
		return nil
	default:
		if p.warn.Allow() {
			p.logger.Warn("event queue full, dropping event", zap.Int("capacity", cap(p.queue)))
		}

		return ErrDropped
	}
}

func (p *AsyncPublisher[T]) run() {
	defer close(p.done)

	for event := range p.queue {
		if err := p.publish(event); err != nil && p.warn.Allow() {
			p.logger.Warn("failed to publish event", zap.Error(err))
		}
	}
}

// Shutdown stops accepting events and waits until the queued ones are published.
func (p *AsyncPublisher[T]) Shutdown() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	<-p.done

	return nil
}

// PublisherGroup manages the underlying publisher lifecycle.
type PublisherGroup struct {
	publisher message.Publisher
}

// NewPublisherGroup creates a new publisher group.
func NewPublisherGroup(publisher message.Publisher) *PublisherGroup {
	return &PublisherGroup{publisher: publisher}
}

// Publisher returns the underlying message publisher for creating typed publish functions.
func (g *PublisherGroup) Publisher() message.Publisher {
	return g.publisher
}

// Shutdown closes the underlying publisher.
func (g *PublisherGroup) Shutdown() error {
	return g.publisher.Close()
}
