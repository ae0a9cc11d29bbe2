package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Logger is the logging surface the client needs
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// SlogLogger adapts a *slog.Logger to Logger
type SlogLogger struct {
	L *slog.Logger
}

func (s SlogLogger) Printf(format string, v ...any) {
	s.L.Info(fmt.Sprintf(format, v...))
}

func (s SlogLogger) Errorf(format string, v ...any) {
	s.L.Error(fmt.Sprintf(format, v...))
}

func (s SlogLogger) Debugf(format string, v ...any) {
	if s.L.Enabled(context.Background(), slog.LevelDebug) {
		s.L.Debug(fmt.Sprintf(format, v...))
	}
}

// Recorder receives connection metrics. *metric.Metrics satisfies it.
type Recorder interface {
	RecordNATSStatus(connected bool)
	RecordNATSRTT(rtt time.Duration)
	RecordNATSReconnect()
	RecordCircuitBreakerState(state int)
}

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithMaxReconnects sets the reconnect limit (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the server ping interval
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithHealthInterval sets how often the connection is checked; 0 disables the check
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithMessageTimeout bounds the context handed to each subscription handler
func WithMessageTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("message timeout must be positive, got %v", d)
		}
		c.messageTimeout = d
		return nil
	}
}

// WithLogger sets the client's logger
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = nopLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithSlog logs through l
func WithSlog(l *slog.Logger) ClientOption {
	return func(c *Client) error {
		if l == nil {
			return nil
		}
		c.logger = SlogLogger{L: l.With("component", "natsclient")}
		return nil
	}
}

// WithMetrics records connection state into r
func WithMetrics(r Recorder) ClientOption {
	return func(c *Client) error {
		c.metrics = r
		return nil
	}
}

// WithDisconnectCallback is called, in its own goroutine, when the connection drops
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called, in its own goroutine, after a reconnect
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback is called whenever connectivity flips
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithCircuitBreakerThreshold sets the failures needed to open the circuit
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = 5
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps the circuit breaker backoff
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			d = time.Minute
		}
		c.maxBackoff = d
		return nil
	}
}

// WithCredentials sets username and password authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS sets the client certificate pair and CA bundle. Empty paths are skipped.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("tls cert and key files must be set together")
		}
		c.tlsCert = certFile
		c.tlsKey = keyFile
		c.tlsCA = caFile
		return nil
	}
}

// WithName sets the client name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout caps how long Close waits for in-flight messages
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}
