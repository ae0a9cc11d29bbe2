package fanout

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/history"
	"github.com/note-9/health-monitor/metric"
)

type mockSubscriber struct {
	mock.Mock
	id string
}

func newMockSubscriber(id string) *mockSubscriber {
	return &mockSubscriber{id: id}
}

func (m *mockSubscriber) ID() string { return m.id }

func (m *mockSubscriber) Send(ctx context.Context, data []byte) error {
	return m.Called(ctx, data).Error(0)
}

func (m *mockSubscriber) Close() error {
	return m.Called().Error(0)
}

// chanSubscriber records payloads and can be made to block
type chanSubscriber struct {
	id     string
	mu     sync.Mutex
	got    [][]byte
	block  chan struct{}
	closed bool
}

func (c *chanSubscriber) ID() string { return c.id }

func (c *chanSubscriber) Send(ctx context.Context, data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stderrors.New("closed")
	}
	c.got = append(c.got, data)
	return nil
}

func (c *chanSubscriber) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *chanSubscriber) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.got...)
}

func record(device string, bpm int) history.Record {
	return history.Record{
		DeviceID:   device,
		Payload:    json.RawMessage(fmt.Sprintf(`{"device_id":%q,"bpm":%d}`, device, bpm)),
		ReceivedAt: time.Now(),
	}
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := &chanSubscriber{id: "a"}

	r.Add(a)
	r.Add(a)
	r.Add(&chanSubscriber{id: "a"})

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveAndOrder(t *testing.T) {
	r := NewRegistry()
	a, b, c := &chanSubscriber{id: "a"}, &chanSubscriber{id: "b"}, &chanSubscriber{id: "c"}
	r.Add(a)
	r.Add(b)
	r.Add(c)

	assert.True(t, r.Remove(b))
	assert.False(t, r.Remove(b), "second remove is a no-op")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID())
	assert.Equal(t, "c", snap[1].ID())

	// index stays consistent after the shift
	assert.True(t, r.Remove(c))
	assert.Equal(t, []Subscriber{a}, r.Snapshot())
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Add(&chanSubscriber{id: "a"})

	snap := r.Snapshot()
	r.Add(&chanSubscriber{id: "b"})

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := newMockSubscriber("a"), newMockSubscriber("b")
	a.On("Close").Return(nil).Once()
	b.On("Close").Return(nil).Once()
	r.Add(a)
	r.Add(b)

	r.CloseAll()

	assert.Equal(t, 0, r.Len())
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func newTestDispatcher(t *testing.T, r *Registry, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(r, opts...)
	require.NoError(t, err)
	return d
}

func TestDispatcher_BroadcastReach(t *testing.T) {
	r := NewRegistry()
	subs := make([]*chanSubscriber, 5)
	for i := range subs {
		subs[i] = &chanSubscriber{id: fmt.Sprintf("s%d", i)}
		r.Add(subs[i])
	}

	d := newTestDispatcher(t, r)
	rec := record("d1", 80)
	result := d.Broadcast(context.Background(), rec)

	assert.Equal(t, 5, result.Delivered)
	assert.Empty(t, result.Failed)
	for _, s := range subs {
		got := s.received()
		require.Len(t, got, 1)
		assert.JSONEq(t, string(rec.Payload), string(got[0]))
	}
}

func TestDispatcher_NoSubscribers(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry())
	assert.Equal(t, BroadcastResult{}, d.Broadcast(context.Background(), record("d1", 1)))
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	r := NewRegistry()

	good1, good2 := newMockSubscriber("good1"), newMockSubscriber("good2")
	bad := newMockSubscriber("bad")

	good1.On("Send", mock.Anything, mock.Anything).Return(nil).Twice()
	good2.On("Send", mock.Anything, mock.Anything).Return(nil).Twice()
	bad.On("Send", mock.Anything, mock.Anything).Return(stderrors.New("broken pipe")).Once()
	bad.On("Close").Return(nil).Once()

	r.Add(good1)
	r.Add(bad)
	r.Add(good2)

	registry := metric.NewMetricsRegistry()
	d := newTestDispatcher(t, r, WithMetricsRegistry(registry))

	result := d.Broadcast(context.Background(), record("d1", 1))
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, []string{"bad"}, result.Failed)
	assert.Equal(t, 2, r.Len())

	result = d.Broadcast(context.Background(), record("d1", 2))
	assert.Equal(t, 2, result.Delivered)
	assert.Empty(t, result.Failed)

	good1.AssertExpectations(t)
	good2.AssertExpectations(t)
	bad.AssertExpectations(t)

	assert.Equal(t, 4.0, promtest.ToFloat64(d.metrics.delivered))
	assert.Equal(t, 1.0, promtest.ToFloat64(d.metrics.failed))
	assert.Equal(t, 1.0, promtest.ToFloat64(d.metrics.removed))
	assert.Equal(t, 2.0, promtest.ToFloat64(d.metrics.active))
}

func TestDispatcher_SendTimeout(t *testing.T) {
	r := NewRegistry()
	stuck := &chanSubscriber{id: "stuck", block: make(chan struct{})}
	fast := &chanSubscriber{id: "fast"}
	r.Add(stuck)
	r.Add(fast)

	d := newTestDispatcher(t, r, WithSendTimeout(20*time.Millisecond))

	start := time.Now()
	result := d.Broadcast(context.Background(), record("d1", 1))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"stuck"}, result.Failed)
	assert.Len(t, fast.received(), 1)
	assert.Equal(t, []Subscriber{fast}, r.Snapshot())
}

func TestDispatcher_PerSubscriberOrder(t *testing.T) {
	r := NewRegistry()
	s := &chanSubscriber{id: "s"}
	r.Add(s)
	d := newTestDispatcher(t, r)

	for i := 0; i < 50; i++ {
		d.Broadcast(context.Background(), record("d1", i))
	}

	got := s.received()
	require.Len(t, got, 50)
	for i, payload := range got {
		assert.JSONEq(t, fmt.Sprintf(`{"device_id":"d1","bpm":%d}`, i), string(payload))
	}
}

func TestDispatcher_ConcurrentMembershipChanges(t *testing.T) {
	r := NewRegistry()
	d := newTestDispatcher(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s := &chanSubscriber{id: fmt.Sprintf("s%d", i)}
			r.Add(s)
			if i%2 == 0 {
				r.Remove(s)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.Broadcast(ctx, record("d1", i))
		}
	}()
	wg.Wait()

	assert.Equal(t, 100, r.Len())
}

func TestNewDispatcher_DuplicateMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	first, err := NewDispatcher(NewRegistry(), WithMetricsRegistry(registry))
	require.NoError(t, err)
	require.NotNil(t, first.metrics)

	second, err := NewDispatcher(NewRegistry(), WithMetricsRegistry(registry))
	require.Error(t, err)
	assert.Nil(t, second)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "already registered")
}
