// Package dispatch triggers workflow engine runs asynchronously. Admission
// enqueues a message and returns; workers deliver it in the background.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when enqueueing before Start or after Stop
	ErrNotStarted = errors.New("dispatcher not running")

	// ErrBufferFull is returned when a message is dropped
	ErrBufferFull = errors.New("dispatch buffer full")
)

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize   int           // Size of the message buffer channel
	WorkerCount  int           // Number of concurrent workers
	MaxRetries   int           // Extra attempts after a failed send
	RetryBackoff time.Duration // Wait before retry n is n*RetryBackoff
	SendTimeout  time.Duration // Per attempt
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		MaxRetries:   2,
		RetryBackoff: 2 * time.Second,
		SendTimeout:  15 * time.Second,
	}
}

// defaultCancelGrace is how long Stop waits for workers after cancelling in-flight sends
const defaultCancelGrace = time.Second

// Dispatcher delivers messages through a Sender from a pool of workers
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	cfg     Config
	msgChan chan Message
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	mu      sync.Mutex

	cancelGrace time.Duration

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(sender Sender, logger *zap.Logger, cfg Config) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		cfg:     cfg,
		msgChan: make(chan Message, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,

		cancelGrace: defaultCancelGrace,
	}
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("dispatcher already started")
	}

	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started workflow dispatcher",
		zap.Int("worker_count", d.cfg.WorkerCount),
		zap.Int("buffer_size", d.cfg.BufferSize))

	return nil
}

// Stop stops accepting messages and waits for queued ones to be delivered.
// The sender is closed afterwards when it implements io.Closer.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.stopped = true
	d.logger.Info("stopping workflow dispatcher", zap.Int("pending_messages", len(d.msgChan)))
	close(d.msgChan)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		d.logger.Info("workflow dispatcher stopped gracefully")
		d.cancel()
	case <-time.After(timeout):
		err = fmt.Errorf("dispatcher stop timeout after %v", timeout)
		d.cancel()

		// in-flight sends see the cancelled context; the sender stays open
		// while any worker is still inside Send
		select {
		case <-done:
		case <-time.After(d.cancelGrace):
			d.logger.Warn("dispatch workers still sending after cancel, sender left open",
				zap.Duration("grace", d.cancelGrace))
			return err
		}
	}

	if closer, ok := d.sender.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close sender: %w", cerr)
		}
	}
	return err
}

// Enqueue queues a message without blocking. A full buffer drops the message.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return ErrNotStarted
	}

	select {
	case d.msgChan <- msg:
		return nil
	default:
		d.dropped.Add(1)
		d.logger.Warn("dispatch buffer full, dropping message",
			zap.String("kind", string(msg.Kind)),
			zap.String("correlation_id", msg.CorrelationID))
		return ErrBufferFull
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("dispatch worker started", zap.Int("worker_id", id))

	for msg := range d.msgChan {
		if err := d.deliver(msg); err != nil {
			d.failed.Add(1)
			d.logger.Error("failed to dispatch workflow message",
				zap.Int("worker_id", id),
				zap.String("kind", string(msg.Kind)),
				zap.String("correlation_id", msg.CorrelationID),
				zap.Error(err))
			continue
		}
		d.sent.Add(1)
	}

	d.logger.Debug("dispatch worker stopped", zap.Int("worker_id", id))
}

// deliver sends msg, retrying with linear backoff
func (d *Dispatcher) deliver(msg Message) error {
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			d.logger.Warn("retrying workflow message",
				zap.String("correlation_id", msg.CorrelationID),
				zap.Int("attempt", attempt),
				zap.Error(err))

			select {
			case <-time.After(time.Duration(attempt) * d.cfg.RetryBackoff):
			case <-d.ctx.Done():
				return fmt.Errorf("dispatcher stopped: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
		err = d.sender.Send(ctx, msg)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

// Stats returns statistics about the dispatcher
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		BufferSize:      d.cfg.BufferSize,
		PendingMessages: len(d.msgChan),
		WorkerCount:     d.cfg.WorkerCount,
		Started:         d.started && !d.stopped,
		Sent:            d.sent.Load(),
		Failed:          d.failed.Load(),
		Dropped:         d.dropped.Load(),
	}
}

// Stats represents dispatcher statistics
type Stats struct {
	BufferSize      int   `json:"buffer_size"`
	PendingMessages int   `json:"pending_messages"`
	WorkerCount     int   `json:"worker_count"`
	Started         bool  `json:"started"`
	Sent            int64 `json:"sent"`
	Failed          int64 `json:"failed"`
	Dropped         int64 `json:"dropped"`
}
