// Package ingest bridges the pub/sub bus to the history store and the
// real-time fan-out.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/history"
)

// Decode turns a bus payload into a Record. The payload must be a UTF-8
// JSON object. A string device_id is used verbatim, a number or boolean by its
// JSON text; a missing, null or empty one maps to history.UnknownDevice.
func Decode(data []byte, receivedAt time.Time) (history.Record, error) {
	if !utf8.Valid(data) {
		return history.Record{}, invalid("payload is not valid UTF-8")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return history.Record{}, invalid("payload is not a JSON object")
	}

	deviceID, err := deviceIDFrom(fields["device_id"])
	if err != nil {
		return history.Record{}, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return history.Record{}, invalid("compact payload")
	}

	return history.Record{
		DeviceID:   deviceID,
		Payload:    json.RawMessage(compact.Bytes()),
		ReceivedAt: receivedAt,
	}, nil
}

func deviceIDFrom(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return history.UnknownDevice, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", invalid("device_id is not a valid string")
		}
		if s == "" {
			return history.UnknownDevice, nil
		}
		return s, nil
	case '{', '[':
		return "", invalid("device_id must be a scalar")
	default:
		// numbers and booleans keep their literal text
		return string(raw), nil
	}
}

func invalid(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidData, reason), "ingest", "Decode", reason)
}
