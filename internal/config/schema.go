package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version  int            `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLDP     LLDPConfig     `yaml:"lldp"`
	Topology TopologyConfig `yaml:"topology"`
	Log      LogConfig      `yaml:"log"`
	Fabric   FabricConfig   `yaml:"fabric"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	RequestTimeout  Duration `yaml:"request_timeout"`
}

// DatabaseConfig holds entity store settings
type DatabaseConfig struct {
	Driver    string `yaml:"driver"` // sqlite, redis
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr,omitempty"`
	RedisDB   int    `yaml:"redis_db,omitempty"`
}

// LLDPConfig holds hello protocol and liveness settings
type LLDPConfig struct {
	PollingTime    int `yaml:"polling_time"`    // seconds between hellos
	DeadMultiplier int `yaml:"dead_multiplier"` // missed intervals before down
	Workers        int `yaml:"workers"`         // concurrent hello sends
}

// TopologyConfig holds topology manager startup settings
type TopologyConfig struct {
	StartMode StartMode `yaml:"start_mode"`
	EnableAll bool      `yaml:"enable_all"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// FabricConfig points at the simulated fabric description
type FabricConfig struct {
	TopologyFile string `yaml:"topology_file,omitempty"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter,omitempty"` // stdout, otlp
	Endpoint    string  `yaml:"endpoint,omitempty"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
}

// PollingInterval returns the hello interval as a duration
func (l LLDPConfig) PollingInterval() time.Duration {
	return time.Duration(l.PollingTime) * time.Second
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
