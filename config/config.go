package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/note-9/health-monitor/errors"
)

// Config represents the complete service configuration
type Config struct {
	NATS   NATSConfig   `json:"nats" yaml:"nats"`
	HTTP   HTTPConfig   `json:"http" yaml:"http"`
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`
	Log    LogConfig    `json:"log" yaml:"log"`
}

// NATSConfig defines the bus connection and subscription
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	Subject       string        `json:"subject,omitempty" yaml:"subject,omitempty"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration      `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// HTTPConfig defines the query and streaming surface
type HTTPConfig struct {
	Addr         string   `json:"addr" yaml:"addr"`
	CORSOrigins  []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval Duration `json:"ping_interval" yaml:"ping_interval"`
	PongWait     Duration `json:"pong_wait" yaml:"pong_wait"`
	ReadLimit    int64    `json:"read_limit" yaml:"read_limit"`
	EchoRate     float64  `json:"echo_rate" yaml:"echo_rate"` // echo frames per second per connection
	EchoBurst    int      `json:"echo_burst" yaml:"echo_burst"`
	TLS          HTTPTLS  `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// HTTPTLS enables HTTPS and WSS when CertFile and KeyFile are set.
// ClientCAFile turns on client certificate verification.
type HTTPTLS struct {
	CertFile          string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile           string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion        string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
	ClientCAFile      string `json:"client_ca_file,omitempty" yaml:"client_ca_file,omitempty"`
	RequireClientCert bool   `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
}

// Enabled reports whether a server certificate is configured
func (t HTTPTLS) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// IngestConfig sizes the bus to store hand-off
type IngestConfig struct {
	QueueSize       int      `json:"queue_size" yaml:"queue_size"`
	HistoryCapacity int      `json:"history_capacity" yaml:"history_capacity"`
	SendTimeout     Duration `json:"send_timeout" yaml:"send_timeout"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Default returns the configuration used when no file or environment overrides are given
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Subject:       "hr.device.*.reading",
			Name:          "health-monitor",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		HTTP: HTTPConfig{
			Addr:         ":8000",
			CORSOrigins:  []string{"*"},
			WriteTimeout: Duration(10 * time.Second),
			PingInterval: Duration(30 * time.Second),
			PongWait:     Duration(60 * time.Second),
			ReadLimit:    64 << 10,
			EchoRate:     50,
			EchoBurst:    100,
		},
		Ingest: IngestConfig{
			QueueSize:       1024,
			HistoryCapacity: 1000,
			SendTimeout:     Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var problems []string

	if len(c.NATS.URLs) == 0 {
		problems = append(problems, "nats.urls is required")
	}
	for _, u := range c.NATS.URLs {
		if strings.TrimSpace(u) == "" {
			problems = append(problems, "nats.urls contains an empty entry")
			break
		}
	}
	if c.NATS.Subject == "" {
		problems = append(problems, "nats.subject is required")
	}
	if (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		problems = append(problems, "nats.tls cert_file and key_file must be set together")
	}

	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		problems = append(problems, fmt.Sprintf("http.addr %q: %v", c.HTTP.Addr, err))
	}
	if (c.HTTP.TLS.CertFile == "") != (c.HTTP.TLS.KeyFile == "") {
		problems = append(problems, "http.tls cert_file and key_file must be set together")
	}
	switch c.HTTP.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		problems = append(problems, fmt.Sprintf("http.tls.min_version %q is not one of 1.2, 1.3", c.HTTP.TLS.MinVersion))
	}
	if (c.HTTP.TLS.ClientCAFile != "" || c.HTTP.TLS.RequireClientCert) && !c.HTTP.TLS.Enabled() {
		problems = append(problems, "http.tls client certificate settings need cert_file and key_file")
	}
	if c.HTTP.WriteTimeout <= 0 {
		problems = append(problems, "http.write_timeout must be positive")
	}
	if c.HTTP.PongWait <= 0 {
		problems = append(problems, "http.pong_wait must be positive")
	}
	if c.HTTP.PingInterval <= 0 || c.HTTP.PingInterval >= c.HTTP.PongWait {
		problems = append(problems, "http.ping_interval must be positive and shorter than http.pong_wait")
	}
	if c.HTTP.ReadLimit <= 0 {
		problems = append(problems, "http.read_limit must be positive")
	}
	if c.HTTP.EchoRate <= 0 || c.HTTP.EchoBurst <= 0 {
		problems = append(problems, "http.echo_rate and http.echo_burst must be positive")
	}

	if c.Ingest.QueueSize <= 0 {
		problems = append(problems, "ingest.queue_size must be positive")
	}
	if c.Ingest.HistoryCapacity <= 0 {
		problems = append(problems, "ingest.history_capacity must be positive")
	}
	if c.Ingest.SendTimeout <= 0 {
		problems = append(problems, "ingest.send_timeout must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "check configuration")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	clone.HTTP.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	return &clone
}

// Redacted returns a copy with credentials masked, safe to log
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "***"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "***"
	}
	return clone
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Duration is a time.Duration that reads "5s" style strings from JSON and YAML.
// Bare numbers are taken as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the duration like time.Duration
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	case nil:
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if value.ShortTag() == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}
