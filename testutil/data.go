package testutil

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reading is the payload shape the device simulator publishes
type Reading struct {
	DeviceID string `json:"device_id"`
	BPM      int    `json:"bpm"`
	TS       int64  `json:"ts"`
}

// ReadingJSON returns a compact reading payload
func ReadingJSON(deviceID string, bpm int) []byte {
	data, err := json.Marshal(Reading{DeviceID: deviceID, BPM: bpm, TS: time.Now().Unix()})
	if err != nil {
		panic(err)
	}
	return data
}

// ReadingSubject returns the subject a device publishes readings on
func ReadingSubject(deviceID string) string {
	return fmt.Sprintf("hr.device.%s.reading", deviceID)
}

// InvalidPayloads are bus payloads ingest must reject
var InvalidPayloads = map[string][]byte{
	"not json":         []byte("not json"),
	"array":            []byte(`[1,2,3]`),
	"string":           []byte(`"text"`),
	"number":           []byte(`42`),
	"truncated":        []byte(`{"device_id":"a"`),
	"object device_id": []byte(`{"device_id":{"x":1}}`),
	"array device_id":  []byte(`{"device_id":[1]}`),
	"empty":            []byte(``),
	"invalid utf-8":    []byte("{\"device_id\":\"d1\",\"note\":\"\xff\xfe\"}"),
}
