// Package config loads simulator settings from the environment. Command-line
// flags are applied on top by the caller.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

const DefaultPort = 9493

type Config struct {
	Host        string   `env:"SNS_HOST"`
	Port        int      `env:"SNS_PORT" envDefault:"9493"`
	ServiceFile string   `env:"SNS_CONFIG" envDefault:"serverless.yml"`
	Location    string   `env:"SNS_LOCATION" envDefault:"."`
	HTTPSDir    string   `env:"SNS_HTTPS_DIR"`
	CORSOrigins []string `env:"SNS_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	Bus          string   `env:"SNS_BUS" envDefault:"memory"`
	BusListen    []string `env:"SNS_BUS_LISTEN" envDefault:"/ip4/127.0.0.1/tcp/0" envSeparator:","`
	BusBootstrap []string `env:"SNS_BUS_BOOTSTRAP" envSeparator:","`
	BusMDNS      bool     `env:"SNS_BUS_MDNS"`
	BusKeyFile   string   `env:"SNS_BUS_KEY_FILE"`

	LogLevel string `env:"SNS_LOG_LEVEL" envDefault:"info"`

	OtelEndpoint string `env:"SNS_OTEL_ENDPOINT"`
	OtelEnabled  bool   `env:"SNS_OTEL_ENABLED" envDefault:"true"`
}

// Parse reads Config from the environment.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Addr is the host:port the HTTP server binds. An empty host binds every
// interface.
func (c Config) Addr() string {
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Scheme is https when a certificate directory is configured.
func (c Config) Scheme() string {
	if strings.TrimSpace(c.HTTPSDir) != "" {
		return "https"
	}
	return "http"
}
