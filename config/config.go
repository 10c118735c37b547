package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file shape a client process
// loads at startup, in the same style the teacher's config package
// uses: plain YAML, a Load(path) entry point, defaults applied before
// unmarshalling so a partial file only overrides what it names.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Device      DeviceConfig      `yaml:"device"`
	Threads     ThreadsConfig     `yaml:"threads"`
	Reactor     ReactorConfig     `yaml:"reactor"`
	Operation   OperationConfig   `yaml:"operation"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// LogConfig controls the kinetlog sink.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// DeviceConfig names the default endpoint new Sessions dial.
type DeviceConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`     // plain-text, default 8123
	TLSPort int    `yaml:"tls_port"` // default 8443
	UseTLS  bool   `yaml:"use_tls"`
}

// ThreadsConfig sizes the ambient worker pools.
type ThreadsConfig struct {
	Writer          int `yaml:"writer_threads"`
	Reader          int `yaml:"reader_threads"`
	MaxThreadpool   int `yaml:"max_threadpool_threads"`
	CompletionQueue int `yaml:"completion_queue_depth"`
}

// ReactorConfig sizes the pending table and the timeout-sweep tick
// (spec.md §9 Open Question: pending capacity is configurable rather
// than hardcoded). CommandQueue is not read by the client: the
// listener's command queue is fixed at listener.CommandQueueDepth (32).
type ReactorConfig struct {
	PendingCapacity int           `yaml:"pending_capacity"`
	CommandQueue    int           `yaml:"command_queue_depth"`
	TickInterval    time.Duration `yaml:"tick_interval"`
}

// OperationConfig holds the default per-operation timeout new
// Operations inherit when the caller doesn't set one explicitly.
type OperationConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// DiagnosticsConfig sizes the HTTP introspection server (pending-table
// fill level, health check) a client process may expose.
type DiagnosticsConfig struct {
	Addr string `yaml:"addr"` // empty disables the diagnostics server
}

// Load reads and parses the YAML file at path, applying the same
// defaults-then-overlay approach the teacher's config.Load uses.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration a client uses when no file is
// supplied.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Device: DeviceConfig{
			Port:    8123,
			TLSPort: 8443,
		},
		Threads: ThreadsConfig{
			Writer:          2,
			Reader:          2,
			MaxThreadpool:   8,
			CompletionQueue: 64,
		},
		Reactor: ReactorConfig{
			PendingCapacity: 1024,
			CommandQueue:    32,
			TickInterval:    100 * time.Millisecond,
		},
		Operation: OperationConfig{
			DefaultTimeout: 30 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			Addr: ":2380",
		},
	}
}
