package ingest

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/history"
	"github.com/note-9/health-monitor/testutil"
)

func TestDecode_DeviceID(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		deviceID string
	}{
		{"string", `{"device_id":"dev-1","bpm":72}`, "dev-1"},
		{"absent", `{"bpm":72}`, history.UnknownDevice},
		{"null", `{"device_id":null}`, history.UnknownDevice},
		{"empty string", `{"device_id":""}`, history.UnknownDevice},
		{"integer", `{"device_id":42}`, "42"},
		{"float", `{"device_id":4.5}`, "4.5"},
		{"bool", `{"device_id":true}`, "true"},
		{"unicode", `{"device_id":"cœur-é"}`, "cœur-é"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Decode([]byte(tt.payload), time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.deviceID, rec.DeviceID)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	for name, payload := range testutil.InvalidPayloads {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload, time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidData)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := Decode([]byte("null"), time.Now())
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestDecode_RejectsInvalidUTF8(t *testing.T) {
	tests := map[string][]byte{
		"in value":     []byte("{\"device_id\":\"d1\",\"note\":\"\xff\xfe\"}"),
		"in device_id": []byte("{\"device_id\":\"d\xc3\"}"),
		"outside json": append([]byte(`{"device_id":"d1"}`), 0xff),
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			rec, err := Decode(payload, time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidData)
			assert.Contains(t, err.Error(), "UTF-8")
			assert.Empty(t, rec.Payload)
		})
	}

	rec, err := Decode([]byte(`{"device_id":"café","note":"ü"}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "café", rec.DeviceID)
	assert.True(t, utf8.Valid(rec.Payload))
}

func TestDecode_PayloadPassesThrough(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, err := Decode([]byte("{\n  \"device_id\": \"a\",\n  \"bpm\": 61,\n  \"extra\": {\"x\": [1, 2]}\n}"), at)
	require.NoError(t, err)

	assert.Equal(t, `{"device_id":"a","bpm":61,"extra":{"x":[1,2]}}`, string(rec.Payload))
	assert.Equal(t, at, rec.ReceivedAt)
}
