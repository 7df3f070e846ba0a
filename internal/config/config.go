// Package config provides the configuration schema and loader for the
// mqttmcp server.
package config

// LogLevel controls log verbosity for the mqttmcp server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Transport selects how the MCP server is exposed to clients.
type Transport string

const (
	// TransportHTTP serves MCP over a streamable HTTP endpoint.
	TransportHTTP Transport = "http"

	// TransportStdio serves MCP over stdin/stdout for a single client.
	TransportStdio Transport = "stdio"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportHTTP || t == TransportStdio
}

// Config is the root configuration structure for mqttmcp.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// environment variables override file values (see [ApplyEnv]).
type Config struct {
	Server ServerConfig `yaml:"server"`
	Broker BrokerConfig `yaml:"broker"`
}

// ServerConfig holds network and logging settings for the MCP server side.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP transport listens on
	// (e.g. ":8000"). Ignored for the stdio transport.
	ListenAddr string `yaml:"listen_addr"`

	// Transport selects the MCP transport ("http" or "stdio").
	Transport Transport `yaml:"transport"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BrokerConfig holds the process-wide default MQTT connection settings.
// Individual tool calls may override host and port per call; anything not
// overridden falls back to these values.
type BrokerConfig struct {
	// Host is the default broker hostname or IP.
	Host string `yaml:"host"`

	// Port is the default broker TCP port.
	Port int `yaml:"port"`

	// Username and Password are passed through to the broker when set.
	// They cannot be overridden per call.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns a Config populated with the built-in defaults: HTTP
// transport on :8000, info logging, broker at 127.0.0.1:1883.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			Transport:  TransportHTTP,
			LogLevel:   LogInfo,
		},
		Broker: BrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
	}
}
