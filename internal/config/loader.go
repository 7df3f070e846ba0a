package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognised by [ApplyEnv]. They override the
// corresponding YAML fields so that a containerised deployment can pin a
// broker without shipping a config file.
const (
	EnvHost       = "MQTT_MCP_HOST"
	EnvPort       = "MQTT_MCP_PORT"
	EnvUsername   = "MQTT_MCP_USERNAME"
	EnvPassword   = "MQTT_MCP_PASSWORD"
	EnvListenAddr = "MQTT_MCP_LISTEN_ADDR"
	EnvLogLevel   = "MQTT_MCP_LOG_LEVEL"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. A missing file is not an
// error when path is empty: defaults plus environment are used instead.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
			return nil, err
		}
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from environment variables. lookup is
// injected so tests can supply a fake environment; pass [os.LookupEnv] in
// production code.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok {
		cfg.Broker.Host = v
	}
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %q is not an integer", EnvPort, v)
		}
		cfg.Broker.Port = port
	}
	if v, ok := lookup(EnvUsername); ok {
		cfg.Broker.Username = v
	}
	if v, ok := lookup(EnvPassword); ok {
		cfg.Broker.Password = v
	}
	if v, ok := lookup(EnvListenAddr); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: server.log_level: unknown level %q", cfg.Server.LogLevel))
	}
	if !cfg.Server.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("config: server.transport: unknown transport %q", cfg.Server.Transport))
	}
	if cfg.Server.Transport == TransportHTTP && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("config: server.listen_addr: required for the http transport"))
	}
	if cfg.Broker.Host == "" {
		errs = append(errs, errors.New("config: broker.host: must not be empty"))
	}
	if cfg.Broker.Port < 1 || cfg.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: broker.port: %d is outside [1, 65535]", cfg.Broker.Port))
	}
	if (cfg.Broker.Username == "") != (cfg.Broker.Password == "") {
		errs = append(errs, errors.New("config: broker: username and password must be set together"))
	}

	return errors.Join(errs...)
}
