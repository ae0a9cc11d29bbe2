package natsclient

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() || os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run container tests")
	}
}

func TestIntegration_ConnectAndStatus(t *testing.T) {
	skipUnlessIntegration(t)

	rec := &fakeRecorder{}
	tc := NewTestClient(t, WithClientOptions(WithMetrics(rec)))

	assert.True(t, tc.Client.IsHealthy())
	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Contains(t, rec.connected, true)
}

func TestIntegration_WildcardSubscribe(t *testing.T) {
	skipUnlessIntegration(t)

	tc := NewTestClient(t)
	ctx := context.Background()

	type delivery struct {
		subject string
		data    string
	}
	var (
		mu  sync.Mutex
		got []delivery
	)
	err := tc.Client.Subscribe(ctx, "hr.device.*.reading", func(_ context.Context, subject string, data []byte) {
		mu.Lock()
		got = append(got, delivery{subject, string(data)})
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "hr.device.a.reading", []byte(`{"device_id":"a"}`)))
	require.NoError(t, tc.Client.Publish(ctx, "hr.device.b.reading", []byte(`{"device_id":"b"}`)))
	require.NoError(t, tc.Client.Publish(ctx, "hr.other", []byte(`{}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hr.device.a.reading", got[0].subject)
	assert.Equal(t, `{"device_id":"b"}`, got[1].data)
}

func TestIntegration_HealthCallbackOnClose(t *testing.T) {
	skipUnlessIntegration(t)

	changes := make(chan bool, 4)
	tc := NewTestClient(t, WithClientOptions(WithHealthChangeCallback(func(h bool) { changes <- h })))

	select {
	case h := <-changes:
		assert.True(t, h)
	case <-time.After(time.Second):
		t.Fatal("no healthy callback after connect")
	}

	require.NoError(t, tc.Client.Close(context.Background()))
	assert.Equal(t, StatusDisconnected, tc.Client.Status())
}
