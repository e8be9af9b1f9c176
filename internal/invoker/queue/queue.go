// Package queue is an in-process implementation of invoker.Invoker backed by
// a buffered channel and a fixed worker pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"statement-import-service/internal/invoker"
	"statement-import-service/pkg/logger"
)

// Config controls the worker pool and retries
type Config struct {
	Workers    int
	BufferSize int
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number.
	RetryBackoff time.Duration
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		BufferSize:   64,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// Queue delivers messages to a handler on a pool of workers.
// It is safe for concurrent use.
type Queue struct {
	config    Config
	messages  chan *invoker.Message
	closeChan chan struct{}
	workers   conc.WaitGroup
	mu        sync.RWMutex
	closed    bool
	started   bool
	logger    logger.Logger
}

// NewQueue creates a new queue. Zero config fields take defaults.
func NewQueue(config Config, log logger.Logger) *Queue {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}

	return &Queue{
		config:    config,
		messages:  make(chan *invoker.Message, config.BufferSize),
		closeChan: make(chan struct{}),
		logger:    logger.OrGlobal(log).WithComponent("import_queue"),
	}
}

// InvokeFireAndForget implements invoker.Invoker.
func (q *Queue) InvokeFireAndForget(ctx context.Context, function string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", function, err)
	}

	msg := &invoker.Message{
		ID:         uuid.New().String(),
		Function:   function,
		Payload:    data,
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}
	return q.publish(ctx, msg)
}

func (q *Queue) publish(ctx context.Context, msg *invoker.Message) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()

	if closed {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start launches the workers. Messages published before Start are buffered.
func (q *Queue) Start(ctx context.Context, handler invoker.Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for i := 0; i < q.config.Workers; i++ {
		q.workers.Go(func() { q.worker(ctx, handler) })
	}

	q.logger.WithField("workers", q.config.Workers).Info("Queue started")
	return nil
}

func (q *Queue) worker(ctx context.Context, handler invoker.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case msg := <-q.messages:
			q.deliver(ctx, msg, handler)
		}
	}
}

// deliver runs the handler once; a panic counts as a failed attempt.
func (q *Queue) deliver(ctx context.Context, msg *invoker.Message, handler invoker.Handler) {
	log := q.logger.WithFields(logger.Fields{
		"message_id": msg.ID,
		"function":   msg.Function,
		"attempt":    msg.Attempt,
	})

	var err error
	var catcher panics.Catcher
	catcher.Try(func() { err = handler(ctx, msg) })
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	if err == nil {
		log.Debug("Message handled")
		return
	}

	if msg.Attempt > q.config.MaxRetries {
		log.WithError(err).Error("Message dropped after exhausting retries")
		return
	}

	backoff := time.Duration(msg.Attempt) * q.config.RetryBackoff
	log.WithError(err).Warnf("Message failed, redelivering in %s", backoff)

	retry := *msg
	retry.Attempt++
	time.AfterFunc(backoff, func() {
		if err := q.publish(context.Background(), &retry); err != nil {
			log.WithError(err).Warn("Redelivery abandoned")
		}
	})
}

// Stop closes the queue and waits for in-flight messages to finish.
// Buffered messages that were not picked up are discarded.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.WithField("discarded", q.Pending()).Info("Queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Pending returns the number of buffered messages
func (q *Queue) Pending() int {
	return len(q.messages)
}

var _ invoker.Invoker = (*Queue)(nil)
