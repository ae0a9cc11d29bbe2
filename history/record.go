// Package history keeps a bounded, insertion-ordered history of readings
// for every device seen on the bus.
package history

import (
	"encoding/json"
	"time"
)

// UnknownDevice is the id assigned to readings without a usable device_id.
const UnknownDevice = "unknown"

// Record is one reading as received from a device.
type Record struct {
	DeviceID   string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// MarshalJSON emits the payload exactly as received.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Payload) == 0 {
		return []byte("null"), nil
	}
	return r.Payload, nil
}
