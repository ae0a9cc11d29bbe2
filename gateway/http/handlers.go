package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/history"
)

// ServiceName is the component name of the aggregated health status
const ServiceName = "health-monitor"

// HistoryResponse is the body of GET /history/{device_id}
type HistoryResponse struct {
	DeviceID string           `json:"device_id"`
	Count    int              `json:"count"`
	Data     []history.Record `json:"data"`
}

// DevicesResponse is the body of GET /devices
type DevicesResponse struct {
	Count   int                     `json:"count"`
	Devices []history.DeviceSummary `json:"devices"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// parseLimit reads the n query parameter. Missing means DefaultHistoryLimit,
// negative clamps to zero.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return DefaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: n=%q is not an integer", errors.ErrInvalidData, raw),
			"Server", "handleHistory", "parse n")
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	n, err := parseLimit(r)
	if err != nil {
		s.writeClassifiedError(w, r, err)
		return
	}

	data := s.store.History(deviceID, n)
	writeJSON(w, http.StatusOK, HistoryResponse{
		DeviceID: deviceID,
		Count:    len(data),
		Data:     data,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.store.Devices()
	writeJSON(w, http.StatusOK, DevicesResponse{
		Count:   len(devices),
		Devices: devices,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.health.AggregateHealth(ServiceName)

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
