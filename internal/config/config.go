// Package config provides configuration management for topokeeper.
//
// Config file locations (priority order):
//  1. $TOPOKEEPER_CONFIG
//  2. ./topokeeper.yaml
//  3. ~/.config/topokeeper/config.yaml
//  4. /etc/topokeeper/config.yaml
//
// Values from the file can be overridden by TOPOKEEPER_* environment
// variables and command-line flags through ApplyOverrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultAddr           = ":8181"
	DefaultDBPath         = "./topokeeper.db"
	DefaultPollingTime    = 3
	DefaultDeadMultiplier = 3
	DefaultWorkers        = 8
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = Duration(5 * time.Second)
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDBPath
	}
	if c.Database.Driver == "redis" && c.Database.RedisAddr == "" {
		c.Database.RedisAddr = "localhost:6379"
	}
	if c.LLDP.PollingTime == 0 {
		c.LLDP.PollingTime = DefaultPollingTime
	}
	if c.LLDP.DeadMultiplier == 0 {
		c.LLDP.DeadMultiplier = DefaultDeadMultiplier
	}
	if c.LLDP.Workers == 0 {
		c.LLDP.Workers = DefaultWorkers
	}
	if c.Topology.StartMode == "" {
		c.Topology.StartMode = StartWarm
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	var problems []string
	if c.LLDP.PollingTime <= 0 {
		problems = append(problems, "lldp.polling_time must be a positive integer")
	}
	if c.LLDP.DeadMultiplier < 1 {
		problems = append(problems, "lldp.dead_multiplier must be at least 1")
	}
	if c.LLDP.Workers < 1 {
		problems = append(problems, "lldp.workers must be at least 1")
	}
	switch c.Database.Driver {
	case "sqlite", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown database.driver %q", c.Database.Driver))
	}
	switch c.Topology.StartMode {
	case StartClean, StartWarm:
	default:
		problems = append(problems, fmt.Sprintf("unknown topology.start_mode %q", c.Topology.StartMode))
	}
	switch c.Tracing.Exporter {
	case "stdout", "otlp":
	default:
		problems = append(problems, fmt.Sprintf("unknown tracing.exporter %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		problems = append(problems, "tracing.sample_ratio must be within [0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NewViper returns a viper instance that resolves keys such as
// "lldp.polling_time" from TOPOKEEPER_LLDP_POLLING_TIME.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("topokeeper")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range overrideKeys {
		_ = v.BindEnv(key)
	}
	return v
}

var overrideKeys = []string{
	"server.addr",
	"database.driver",
	"database.path",
	"database.redis_addr",
	"database.redis_db",
	"lldp.polling_time",
	"lldp.dead_multiplier",
	"lldp.workers",
	"topology.start_mode",
	"topology.enable_all",
	"log.level",
	"log.format",
	"fabric.topology_file",
	"tracing.enabled",
	"tracing.exporter",
	"tracing.endpoint",
}

// ApplyOverrides copies every key set in v (environment or bound flag) over
// the file values.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	if v == nil {
		return
	}
	if v.IsSet("server.addr") {
		c.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("database.driver") {
		c.Database.Driver = v.GetString("database.driver")
	}
	if v.IsSet("database.path") {
		c.Database.Path = v.GetString("database.path")
	}
	if v.IsSet("database.redis_addr") {
		c.Database.RedisAddr = v.GetString("database.redis_addr")
	}
	if v.IsSet("database.redis_db") {
		c.Database.RedisDB = v.GetInt("database.redis_db")
	}
	if v.IsSet("lldp.polling_time") {
		c.LLDP.PollingTime = v.GetInt("lldp.polling_time")
	}
	if v.IsSet("lldp.dead_multiplier") {
		c.LLDP.DeadMultiplier = v.GetInt("lldp.dead_multiplier")
	}
	if v.IsSet("lldp.workers") {
		c.LLDP.Workers = v.GetInt("lldp.workers")
	}
	if v.IsSet("topology.start_mode") {
		c.Topology.StartMode = ParseStartMode(v.GetString("topology.start_mode"))
	}
	if v.IsSet("topology.enable_all") {
		c.Topology.EnableAll = v.GetBool("topology.enable_all")
	}
	if v.IsSet("log.level") {
		c.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		c.Log.Format = v.GetString("log.format")
	}
	if v.IsSet("fabric.topology_file") {
		c.Fabric.TopologyFile = v.GetString("fabric.topology_file")
	}
	if v.IsSet("tracing.enabled") {
		c.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	if v.IsSet("tracing.exporter") {
		c.Tracing.Exporter = v.GetString("tracing.exporter")
	}
	if v.IsSet("tracing.endpoint") {
		c.Tracing.Endpoint = v.GetString("tracing.endpoint")
	}
	c.applyDefaults()
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Listen: %s, Store: %s, Start: %s\n", c.Server.Addr, c.storeTarget(), c.Topology.StartMode)
	summary += fmt.Sprintf("Polling: %ds, Dead multiplier: %d, Workers: %d, Enable all: %v",
		c.LLDP.PollingTime, c.LLDP.DeadMultiplier, c.LLDP.Workers, c.Topology.EnableAll)
	return summary
}

func (c *Config) storeTarget() string {
	if c.Database.Driver == "redis" {
		return fmt.Sprintf("redis://%s/%d", c.Database.RedisAddr, c.Database.RedisDB)
	}
	return "sqlite:" + c.Database.Path
}
