package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/lyzr/assetingest/common/logger"
)

var (
	// ErrQueueFull is returned when a topic buffer cannot take another message
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("queue closed")
)

// Queue interface for message passing
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error

// MemoryQueue is an in-process queue with one buffered channel per topic
type MemoryQueue struct {
	topics     map[string]chan *Message
	bufferSize int
	closed     bool
	mu         sync.RWMutex
	wg         sync.WaitGroup
	log        *logger.Logger
}

// Message represents a queue message
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(bufferSize int, log *logger.Logger) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MemoryQueue{
		topics:     make(map[string]chan *Message),
		bufferSize: bufferSize,
		log:        log,
	}
}

// topic returns the channel for name, creating it on first use. Caller holds mu.
func (q *MemoryQueue) topic(name string) chan *Message {
	ch, exists := q.topics[name]
	if !exists {
		ch = make(chan *Message, q.bufferSize)
		q.topics[name] = ch
	}
	return ch
}

// Publish publishes a message to a topic without blocking
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	msg := &Message{
		Topic: topic,
		Key:   key,
		Value: message,
	}

	select {
	case q.topic(topic) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		q.log.Warn("queue full", "topic", topic, "key", key)
		return ErrQueueFull
	}
}

// Subscribe subscribes to a topic and processes messages until ctx is done or the queue closes
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	ch := q.topic(topic)
	q.wg.Add(1)
	q.mu.Unlock()

	q.log.Info("subscribing to topic", "topic", topic)

	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Key, msg.Value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.Key, "error", err)
				}
			}
		}
	}()

	return nil
}

// Pending reports how many messages are buffered on topic
func (q *MemoryQueue) Pending(topic string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if ch, ok := q.topics[topic]; ok {
		return len(ch)
	}
	return 0
}

// Close closes all topics and waits for subscribers to drain
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for topic, ch := range q.topics {
		close(ch)
		q.log.Info("closed topic", "topic", topic)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
