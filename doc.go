// Package healthmonitor ingests device heart-rate readings from a NATS bus,
// keeps a bounded recent history per device and streams every reading to
// WebSocket subscribers in real time.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        NATS (natsclient)            │  hr.device.*.reading
//	└─────────────────────────────────────┘
//	           ↓ callback, non-blocking submit
//	┌─────────────────────────────────────┐
//	│     ingest.Bridge (pkg/worker)      │  decode, derive device_id
//	└─────────────────────────────────────┘
//	           ↓ append, then broadcast
//	┌──────────────────┐ ┌────────────────┐
//	│  history.Store   │ │ fanout         │  per-device ring,
//	│  (pkg/buffer)    │ │ Dispatcher     │  per-subscriber writer
//	└──────────────────┘ └────────────────┘
//	           ↑ reads          ↓ frames
//	┌─────────────────────────────────────┐
//	│         gateway/http                │  /, /history/{id},
//	│                                     │  /devices, /healthz,
//	│                                     │  /metrics, /ws
//	└─────────────────────────────────────┘
//
// # Ordering
//
// A single ingest worker appends and broadcasts readings in bus delivery
// order, so a device's history and every subscriber's stream observe the
// same sequence. Each WebSocket connection has exactly one writer goroutine;
// echoes and broadcasts are serialized through it and never interleave
// within a frame.
//
// # Boundaries
//
// History lives in memory only and is lost on restart. Delivery is at most
// once: readings published while the bus connection is down, or dropped
// because the ingest queue is full, are counted but not recovered.
//
// # Packages
//
//   - config: defaults, JSON/YAML file and environment layering, validation
//   - errors: transient, invalid and fatal error classes
//   - natsclient: connection lifecycle, reconnects, circuit breaker
//   - ingest: bus subscription and reading decode
//   - history: per-device bounded rings
//   - fanout: subscriber registry and broadcast
//   - gateway/http: query API and WebSocket endpoint
//   - health, metric: component health and Prometheus metrics
//   - pkg/buffer, pkg/retry, pkg/worker, pkg/tlsutil: shared building blocks
//
// Binaries live under cmd/: health-monitor runs the service and
// device-simulator publishes synthetic readings for local runs.
package healthmonitor
