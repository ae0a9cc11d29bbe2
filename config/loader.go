package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/note-9/health-monitor/errors"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "HEALTH_MONITOR"

// Loader builds a Config from defaults, an optional file and environment overrides,
// each layer overriding the one before it
type Loader struct {
	path       string
	envPrefix  string
	validation bool
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  EnvPrefix,
		validation: true,
		lookupEnv:  os.LookupEnv,
	}
}

// WithFile sets the config file layer. An empty path skips the layer.
func (l *Loader) WithFile(path string) *Loader {
	l.path = path
	return l
}

// EnableValidation enables or disables validation at the end of Load
func (l *Loader) EnableValidation(enable bool) *Loader {
	l.validation = enable
	return l
}

// Load applies every layer and returns the result
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		if err := l.loadFile(cfg, l.path); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadFile decodes path onto cfg. Only keys present in the file replace defaults.
func (l *Loader) loadFile(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMissingConfig, err),
			"Loader", "Load", "read config file")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrParsingFailed, path, err),
				"Loader", "Load", "decode yaml")
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrParsingFailed, path, err),
				"Loader", "Load", "check json structure")
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrParsingFailed, path, err),
				"Loader", "Load", "decode json")
		}
	}
	return nil
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "Load", "read environment")
	}
	return val, true, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		name   string
		target *string
	}{
		{"NATS_SUBJECT", &cfg.NATS.Subject},
		{"NATS_USER", &cfg.NATS.Username},
		{"NATS_PASS", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"HTTP_ADDR", &cfg.HTTP.Addr},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"LOG_FILE", &cfg.Log.File},
	}
	for _, s := range strs {
		val, ok, err := l.env(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.target = val
		}
	}

	lists := []struct {
		name   string
		target *[]string
	}{
		{"NATS_URLS", &cfg.NATS.URLs},
		{"CORS_ORIGINS", &cfg.HTTP.CORSOrigins},
	}
	for _, s := range lists {
		val, ok, err := l.env(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.target = splitList(val)
		}
	}

	val, ok, err := l.env("INGEST_QUEUE_SIZE")
	if err != nil {
		return err
	}
	if ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s_INGEST_QUEUE_SIZE=%q is not an integer", errors.ErrInvalidConfig, l.envPrefix, val),
				"Loader", "Load", "parse environment")
		}
		cfg.Ingest.QueueSize = n
	}
	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
