package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/note-9/health-monitor/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func newTestLoader(vars map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = envMap(vars)
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "hr.device.*.reading", cfg.NATS.Subject)
	assert.Equal(t, 1024, cfg.Ingest.QueueSize)
	assert.Equal(t, 1000, cfg.Ingest.HistoryCapacity)
	assert.Equal(t, 10*time.Second, cfg.Ingest.SendTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.HTTP.PingInterval.Std())
	assert.Equal(t, 60*time.Second, cfg.HTTP.PongWait.Std())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{"no urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls is required"},
		{"blank url", func(c *Config) { c.NATS.URLs = []string{" "} }, "empty entry"},
		{"no subject", func(c *Config) { c.NATS.Subject = "" }, "nats.subject"},
		{"half tls", func(c *Config) { c.NATS.TLS.CertFile = "c.pem" }, "cert_file and key_file"},
		{"half http tls", func(c *Config) { c.HTTP.TLS.KeyFile = "k.pem" }, "http.tls cert_file"},
		{"bad tls version", func(c *Config) { c.HTTP.TLS.MinVersion = "1.0" }, "http.tls.min_version"},
		{"client ca without cert", func(c *Config) { c.HTTP.TLS.ClientCAFile = "ca.pem" }, "client certificate settings"},
		{"bad addr", func(c *Config) { c.HTTP.Addr = "8000" }, "http.addr"},
		{"ping not below pong", func(c *Config) { c.HTTP.PingInterval = c.HTTP.PongWait }, "http.ping_interval"},
		{"zero read limit", func(c *Config) { c.HTTP.ReadLimit = 0 }, "http.read_limit"},
		{"zero echo rate", func(c *Config) { c.HTTP.EchoRate = 0 }, "http.echo_rate"},
		{"zero queue", func(c *Config) { c.Ingest.QueueSize = 0 }, "ingest.queue_size"},
		{"zero capacity", func(c *Config) { c.Ingest.HistoryCapacity = -1 }, "ingest.history_capacity"},
		{"zero send timeout", func(c *Config) { c.Ingest.SendTimeout = 0 }, "ingest.send_timeout"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.NATS.Subject = ""
	cfg.Ingest.QueueSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.subject")
	assert.Contains(t, err.Error(), "ingest.queue_size")
}

func TestClone_IsDeep(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()

	clone.NATS.URLs[0] = "nats://elsewhere:4222"
	clone.HTTP.CORSOrigins[0] = "http://localhost:3000"

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
	assert.Equal(t, "*", cfg.HTTP.CORSOrigins[0])
}

func TestString_MasksCredentials(t *testing.T) {
	cfg := Default()
	cfg.NATS.Username = "device-gw"
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cr3t"

	out := cfg.String()
	assert.Contains(t, out, "device-gw")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cr3t")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "masking must not touch the original")
}

func TestDuration_JSON(t *testing.T) {
	var v struct {
		D Duration `json:"d"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"d":"1m30s"}`), &v))
	assert.Equal(t, 90*time.Second, v.D.Std())

	require.NoError(t, json.Unmarshal([]byte(`{"d":1000000}`), &v))
	assert.Equal(t, time.Millisecond, v.D.Std())

	assert.Error(t, json.Unmarshal([]byte(`{"d":"soon"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"d":true}`), &v))

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"1ms"}`, string(out))
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("d: 2000\n"), &v))
	assert.Equal(t, 2*time.Microsecond, v.D.Std())

	assert.Error(t, yaml.Unmarshal([]byte("d: later\n"), &v))
	assert.Error(t, yaml.Unmarshal([]byte("d: [1, 2]\n"), &v))

	require.NoError(t, yaml.Unmarshal([]byte("d: 45s\n"), &v))
	assert.Equal(t, 45*time.Second, v.D.Std())

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "d: 45s\n", string(out))
}

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := newTestLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoader_JSONFileOverridesOnlyPresentKeys(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"nats": {
			"urls": ["nats://a:4222", "nats://b:4222"],
			"reconnect_wait": "5s"
		},
		"http": {"addr": "127.0.0.1:9000"},
		"ingest": {"queue_size": 64}
	}`)

	cfg, err := newTestLoader(nil).WithFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait.Std())
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 64, cfg.Ingest.QueueSize)

	// untouched keys keep their defaults
	assert.Equal(t, "hr.device.*.reading", cfg.NATS.Subject)
	assert.Equal(t, 1000, cfg.Ingest.HistoryCapacity)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
}

func TestLoader_YAMLFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", strings.Join([]string{
		"nats:",
		"  urls: [\"nats://bus:4222\"]",
		"  subject: hr.device.>",
		"http:",
		"  cors_origins:",
		"    - http://localhost:3000",
		"  pong_wait: 90s",
		"log:",
		"  level: debug",
		"  format: text",
		"",
	}, "\n"))

	cfg, err := newTestLoader(nil).WithFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://bus:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "hr.device.>", cfg.NATS.Subject)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.HTTP.PongWait.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":8000", cfg.HTTP.Addr)
}

func TestLoader_EmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "empty.yml", "\n")

	cfg, err := newTestLoader(nil).WithFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		target  error
	}{
		{"unknown json key", "c.json", `{"nats":{"broker":"x"}}`, errors.ErrParsingFailed},
		{"unknown yaml key", "c.yaml", "mqtt:\n  port: 1883\n", errors.ErrParsingFailed},
		{"malformed json", "c.json", `{"nats":`, errors.ErrParsingFailed},
		{"bad duration", "c.json", `{"http":{"pong_wait":"forever"}}`, errors.ErrParsingFailed},
		{"deep json", "c.json", strings.Repeat("[", 40) + strings.Repeat("]", 40), errors.ErrParsingFailed},
		{"wrong extension", "c.toml", "x = 1", errors.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)

			cfg, err := newTestLoader(nil).WithFile(path).Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := newTestLoader(nil).WithFile(filepath.Join(t.TempDir(), "absent.json")).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{"nats":{"subject":"from.file"},"http":{"addr":":7000"}}`)

	cfg, err := newTestLoader(map[string]string{
		"HEALTH_MONITOR_NATS_URLS":         "nats://one:4222, nats://two:4222,",
		"HEALTH_MONITOR_NATS_SUBJECT":      "hr.device.*.reading",
		"HEALTH_MONITOR_NATS_USER":         "monitor",
		"HEALTH_MONITOR_NATS_PASS":         "pw",
		"HEALTH_MONITOR_NATS_TOKEN":        "tok",
		"HEALTH_MONITOR_HTTP_ADDR":         ":8080",
		"HEALTH_MONITOR_CORS_ORIGINS":      "http://a.test,http://b.test",
		"HEALTH_MONITOR_INGEST_QUEUE_SIZE": "16",
		"HEALTH_MONITOR_LOG_LEVEL":         "warn",
		"HEALTH_MONITOR_LOG_FORMAT":        "text",
		"HEALTH_MONITOR_LOG_FILE":          "/var/log/health-monitor.log",
	}).WithFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://one:4222", "nats://two:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "hr.device.*.reading", cfg.NATS.Subject)
	assert.Equal(t, "monitor", cfg.NATS.Username)
	assert.Equal(t, "pw", cfg.NATS.Password)
	assert.Equal(t, "tok", cfg.NATS.Token)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 16, cfg.Ingest.QueueSize)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/var/log/health-monitor.log", cfg.Log.File)
}

func TestLoader_EnvErrors(t *testing.T) {
	_, err := newTestLoader(map[string]string{
		"HEALTH_MONITOR_INGEST_QUEUE_SIZE": "lots",
	}).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = newTestLoader(map[string]string{
		"HEALTH_MONITOR_NATS_SUBJECT": "bad\x00subject",
	}).Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_ValidationToggle(t *testing.T) {
	vars := map[string]string{"HEALTH_MONITOR_INGEST_QUEUE_SIZE": "-5"}

	_, err := newTestLoader(vars).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	cfg, err := newTestLoader(vars).EnableValidation(false).Load()
	require.NoError(t, err)
	assert.Equal(t, -5, cfg.Ingest.QueueSize)
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a":"[[[[not nesting"}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a":1}}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a":[1}`)))
}
