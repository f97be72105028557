package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockSender is a mock implementation of Sender
type MockSender struct {
	mock.Mock
	mu   sync.Mutex
	sent []Message
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *MockSender) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

type closingSender struct {
	MockSender
	closed bool
}

func (c *closingSender) Close() error {
	c.closed = true
	return nil
}

func testConfig() Config {
	return Config{
		BufferSize:   10,
		WorkerCount:  2,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		SendTimeout:  time.Second,
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	sender := new(MockSender)
	d := NewDispatcher(sender, zap.NewNop(), testConfig())

	require.NoError(t, d.Start())

	stats := d.Stats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, d.Start())

	require.NoError(t, d.Stop(5*time.Second))
	assert.False(t, d.Stats().Started)

	// Stopped dispatchers refuse messages and a second stop
	assert.ErrorIs(t, d.Enqueue(Message{Kind: KindSingle}), ErrNotStarted)
	assert.Error(t, d.Stop(time.Second))
}

func TestDispatcher_EnqueueBeforeStart(t *testing.T) {
	d := NewDispatcher(new(MockSender), zap.NewNop(), testConfig())
	assert.ErrorIs(t, d.Enqueue(Message{Kind: KindSingle}), ErrNotStarted)
}

func TestDispatcher_DeliversMessages(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(sender, zap.NewNop(), testConfig())
	require.NoError(t, d.Start())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.Enqueue(Message{Kind: KindSingle, CorrelationID: id}))
	}

	// Stop drains the queue
	require.NoError(t, d.Stop(5*time.Second))
	assert.Len(t, sender.Sent(), 3)
	assert.Equal(t, int64(3), d.Stats().Sent)
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("503")).Twice()
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	d := NewDispatcher(sender, zap.NewNop(), testConfig())
	require.NoError(t, d.Start())
	require.NoError(t, d.Enqueue(Message{Kind: KindBatch, CorrelationID: "batch_x"}))
	require.NoError(t, d.Stop(5*time.Second))

	sender.AssertNumberOfCalls(t, "Send", 3)
	assert.Equal(t, int64(1), d.Stats().Sent)
	assert.Equal(t, int64(0), d.Stats().Failed)
}

func TestDispatcher_GivesUpAfterRetries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	d := NewDispatcher(sender, zap.New(core), testConfig())
	require.NoError(t, d.Start())
	require.NoError(t, d.Enqueue(Message{Kind: KindSingle, CorrelationID: "abc"}))
	require.NoError(t, d.Stop(5*time.Second))

	sender.AssertNumberOfCalls(t, "Send", 3)
	assert.Equal(t, int64(1), d.Stats().Failed)

	failures := logs.FilterMessage("failed to dispatch workflow message").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "abc", failures[0].ContextMap()["correlation_id"])
	assert.Equal(t, 2, logs.FilterMessage("retrying workflow message").Len())
}

func TestDispatcher_BufferFull(t *testing.T) {
	release := make(chan struct{})
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	cfg := testConfig()
	cfg.BufferSize = 2
	cfg.WorkerCount = 1
	d := NewDispatcher(sender, zap.NewNop(), cfg)
	require.NoError(t, d.Start())

	accepted, dropped := 0, 0
	for i := 0; i < 10; i++ {
		err := d.Enqueue(Message{Kind: KindSingle})
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, ErrBufferFull)
		dropped++
	}

	// at most one in flight plus a full buffer
	assert.LessOrEqual(t, accepted, 3)
	assert.Positive(t, dropped)
	assert.Equal(t, int64(dropped), d.Stats().Dropped)

	close(release)
	require.NoError(t, d.Stop(5*time.Second))
}

func TestDispatcher_ConcurrentEnqueue(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.BufferSize = 1000
	cfg.WorkerCount = 5
	d := NewDispatcher(sender, zap.NewNop(), cfg)
	require.NoError(t, d.Start())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = d.Enqueue(Message{Kind: KindBatch})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, d.Stop(5*time.Second))
	assert.Len(t, sender.Sent(), 100)
}

func TestDispatcher_StopClosesSender(t *testing.T) {
	sender := new(closingSender)
	d := NewDispatcher(sender, zap.NewNop(), testConfig())
	require.NoError(t, d.Start())
	require.NoError(t, d.Stop(time.Second))
	assert.True(t, sender.closed)
}

func TestDispatcher_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	d := NewDispatcher(sender, zap.NewNop(), testConfig())
	require.NoError(t, d.Start())
	require.NoError(t, d.Enqueue(Message{Kind: KindSingle}))

	err := d.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop timeout")
}

// blockingSender holds every Send until release is closed. When honourCtx is
// set it also returns once the send context is cancelled.
type blockingSender struct {
	release   chan struct{}
	honourCtx bool

	mu     sync.Mutex
	closed bool
}

func (b *blockingSender) Send(ctx context.Context, _ Message) error {
	if b.honourCtx {
		select {
		case <-b.release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-b.release
	return nil
}

func (b *blockingSender) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *blockingSender) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func TestDispatcher_StopTimeoutSenderLifecycle(t *testing.T) {
	t.Run("cancelled sends let the sender close", func(t *testing.T) {
		sender := &blockingSender{release: make(chan struct{}), honourCtx: true}
		defer close(sender.release)

		cfg := testConfig()
		cfg.MaxRetries = 0
		d := NewDispatcher(sender, zap.NewNop(), cfg)
		require.NoError(t, d.Start())
		require.NoError(t, d.Enqueue(Message{Kind: KindSingle}))

		err := d.Stop(20 * time.Millisecond)
		require.Error(t, err)
		assert.True(t, sender.isClosed())
		assert.Equal(t, int64(1), d.Stats().Failed)
	})

	t.Run("stuck sends keep the sender open", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		sender := &blockingSender{release: make(chan struct{})}
		defer close(sender.release)

		d := NewDispatcher(sender, zap.New(core), testConfig())
		d.cancelGrace = 20 * time.Millisecond
		require.NoError(t, d.Start())
		require.NoError(t, d.Enqueue(Message{Kind: KindSingle}))

		err := d.Stop(20 * time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stop timeout")
		assert.False(t, sender.isClosed())
		assert.Equal(t, 1, logs.FilterMessageSnippet("sender left open").Len())
	})
}
