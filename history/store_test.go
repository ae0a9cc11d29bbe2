package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/metric"
)

func reading(device string, bpm int) Record {
	return Record{
		DeviceID:   device,
		Payload:    json.RawMessage(fmt.Sprintf(`{"device_id":%q,"bpm":%d}`, device, bpm)),
		ReceivedAt: time.Now(),
	}
}

func bpms(t *testing.T, recs []Record) []int {
	t.Helper()
	out := make([]int, len(recs))
	for i, r := range recs {
		var v struct {
			BPM int `json:"bpm"`
		}
		require.NoError(t, json.Unmarshal(r.Payload, &v))
		out[i] = v.BPM
	}
	return out
}

func TestNewStore(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, s.Capacity())

	_, err = NewStore(WithCapacity(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestStore_BoundedHistory(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	for i := 0; i < 1500; i++ {
		s.Append(reading("d1", i))
	}

	assert.Equal(t, 1000, s.Len("d1"))
	got := s.History("d1", 2000)
	require.Len(t, got, 1000)
	assert.Equal(t, 500, bpms(t, got[:1])[0], "oldest retained is the 501st appended")
	assert.Equal(t, 1499, bpms(t, got[999:])[0])

	devices := s.Devices()
	require.Len(t, devices, 1)
	d := devices[0]
	assert.Equal(t, "d1", d.DeviceID)
	assert.Equal(t, 1000, d.Size)
	assert.Equal(t, int64(1500), d.Appended)
	assert.Equal(t, int64(500), d.Evicted)
	assert.Equal(t, int64(1), d.Reads)
	assert.InDelta(t, 1.0/3.0, d.DropRate, 1e-9)
}

func TestStore_DeviceStatsCountReads(t *testing.T) {
	s, err := NewStore(WithCapacity(4))
	require.NoError(t, err)

	s.Append(reading("d1", 1))
	s.Append(reading("d1", 2))
	s.History("d1", 10)
	s.History("d1", 1)
	s.History("ghost", 10)

	assert.Equal(t, []DeviceSummary{
		{DeviceID: "d1", Size: 2, Appended: 2, Reads: 2},
	}, s.Devices())
}

func TestStore_OrderPreserved(t *testing.T) {
	s, err := NewStore(WithCapacity(10))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		s.Append(reading("d1", i))
	}

	assert.Equal(t, []int{3, 4, 5}, bpms(t, s.History("d1", 3)))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, bpms(t, s.History("d1", 100)))
}

func TestStore_DeviceIsolation(t *testing.T) {
	s, err := NewStore(WithCapacity(3))
	require.NoError(t, err)

	s.Append(reading("a", 1))
	for i := 0; i < 10; i++ {
		s.Append(reading("b", 100+i))
	}

	assert.Equal(t, []int{1}, bpms(t, s.History("a", 100)))
	assert.Equal(t, 3, s.Len("b"))
}

func TestStore_UnknownDevice(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	got := s.History("ghost", 100)
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, s.Len("ghost"))
	assert.Empty(t, s.Devices(), "queries must not create rings")
}

func TestStore_Clamping(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		s.Append(reading("d1", i))
	}

	assert.Empty(t, s.History("d1", 0))
	assert.NotNil(t, s.History("d1", 0))
	assert.Empty(t, s.History("d1", -5))
	assert.Len(t, s.History("d1", 99), 5)
}

func TestStore_EmptyDeviceIDBecomesUnknown(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	rec := s.Append(Record{Payload: json.RawMessage(`{"bpm":60}`)})
	assert.Equal(t, UnknownDevice, rec.DeviceID)
	assert.Equal(t, 1, s.Len(UnknownDevice))
}

func TestStore_HistoryReturnsCopies(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	s.Append(reading("d1", 1))

	got := s.History("d1", 1)
	got[0].DeviceID = "mutated"

	assert.Equal(t, "d1", s.History("d1", 1)[0].DeviceID)
}

func TestStore_DevicesSorted(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	for _, id := range []string{"c", "a", "b"} {
		s.Append(reading(id, 1))
	}

	devices := s.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, "a", devices[0].DeviceID)
	assert.Equal(t, "c", devices[2].DeviceID)
}

func TestStore_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, err := NewStore(WithCapacity(2), WithMetricsRegistry(registry))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.Append(reading("d1", i))
	}
	s.Append(reading("d2", 1))

	assert.Equal(t, 6.0, promtest.ToFloat64(s.metrics.appended))
	assert.Equal(t, 3.0, promtest.ToFloat64(s.metrics.evicted))
	assert.Equal(t, 2.0, promtest.ToFloat64(s.metrics.devices))
}

func TestNewStore_MetricsAlreadyRegistered(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	first, err := NewStore(WithMetricsRegistry(registry))
	require.NoError(t, err)

	second, err := NewStore(WithMetricsRegistry(registry))
	require.Error(t, err)
	assert.Nil(t, second)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "records_appended_total")

	first.Append(reading("d1", 1))
	assert.Equal(t, 1.0, promtest.ToFloat64(first.metrics.appended))
}

func TestStore_ConcurrentAppendAndRead(t *testing.T) {
	s, err := NewStore(WithCapacity(100))
	require.NoError(t, err)

	const devices, perDevice = 8, 500
	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		id := fmt.Sprintf("dev-%d", d)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < perDevice; i++ {
				s.Append(reading(id, i))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				got := bpms(t, s.History(id, 100))
				for j := 1; j < len(got); j++ {
					assert.Equal(t, got[j-1]+1, got[j])
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Devices(), devices)
	for _, d := range s.Devices() {
		assert.Equal(t, 100, d.Size)
		assert.Equal(t, int64(perDevice-100), d.Evicted)
	}
}

func TestRecord_MarshalJSON(t *testing.T) {
	rec := reading("d1", 72)
	data, err := json.Marshal([]Record{rec})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"device_id":"d1","bpm":72}]`, string(data))

	data, err = json.Marshal(Record{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
