package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config stores environment-driven settings for the server.
type Config struct {
	// ConfigPath is the path to the YAML configuration file.
	ConfigPath string `env:"DESKTOP_MCP_CONFIG" envDefault:"config.yaml"`
	// LogLevel sets the logger level.
	LogLevel string `env:"DESKTOP_MCP_LOG_LEVEL" envDefault:"info"`
	// ShutdownTimeout controls graceful shutdown duration.
	ShutdownTimeout time.Duration `env:"DESKTOP_MCP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// WatchConfig reloads scheduler settings when the config file changes.
	WatchConfig bool `env:"DESKTOP_MCP_WATCH_CONFIG" envDefault:"true"`
	// MetricsEnabled exports OpenTelemetry metrics through Prometheus.
	MetricsEnabled bool `env:"DESKTOP_MCP_METRICS" envDefault:"true"`
}

// Load parses environment variables into Config.
func Load() (Config, error) {
	return env.ParseAs[Config]()
}
