// Package config loads Angora's runtime configuration: an optional YAML
// file named by ANGORA_CONFIG, overridden by ANGORA_* environment
// variables, standing in for the Python source's angora/__init__.py
// module constants (EXCHANGE, USER, PASSWORD, HOST, PORT, CONFIGS).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is every knob the CLI subcommands need to construct a bus
// connection, a catalog, a store, and a replay queue.
type Config struct {
	BusURL      string // nats://host:port, built from Host/Port/User/Password if unset
	BusHost     string
	BusPort     int
	BusUser     string
	BusPassword string
	Exchange    string

	StorePath     string
	CatalogGlob   string
	TimeZone      string
	ReplayTTL     time.Duration
	ReplayRouting string

	HTTPBindAddr    string
	MetricsBindAddr string // where /metrics is served for non-web processes
	LogJSON         bool
	LogLevel        string
}

// Load reads ANGORA_CONFIG (if set, a YAML file) and then layers
// ANGORA_*-prefixed environment variables on top, matching viper's
// usual precedence (explicit Set > flag > env > config file > default).
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("bus_host", "127.0.0.1")
	v.SetDefault("bus_port", 4222)
	v.SetDefault("bus_user", "")
	v.SetDefault("bus_password", "")
	v.SetDefault("exchange", "angora")
	v.SetDefault("store_path", "./angora.db")
	v.SetDefault("catalog_glob", "./tasks/**/*.yml")
	v.SetDefault("timezone", "")
	v.SetDefault("replay_ttl", "10m")
	v.SetDefault("replay_routing_key", "")
	v.SetDefault("http_bind_addr", "0.0.0.0:55550")
	v.SetDefault("metrics_bind_addr", "0.0.0.0:9090")
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("ANGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile := os.Getenv("ANGORA_CONFIG"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	ttl, err := time.ParseDuration(v.GetString("replay_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("config: replay_ttl: %w", err)
	}

	return Config{
		BusHost:         v.GetString("bus_host"),
		BusPort:         v.GetInt("bus_port"),
		BusUser:         v.GetString("bus_user"),
		BusPassword:     v.GetString("bus_password"),
		Exchange:        v.GetString("exchange"),
		StorePath:       v.GetString("store_path"),
		CatalogGlob:     v.GetString("catalog_glob"),
		TimeZone:        v.GetString("timezone"),
		ReplayTTL:       ttl,
		ReplayRouting:   v.GetString("replay_routing_key"),
		HTTPBindAddr:    v.GetString("http_bind_addr"),
		MetricsBindAddr: v.GetString("metrics_bind_addr"),
		LogJSON:         v.GetBool("log_json"),
		LogLevel:        v.GetString("log_level"),
	}, nil
}

// URL builds the NATS connection URL from the host/port/credentials,
// unless BusURL is already set explicitly.
func (c Config) URL() string {
	if c.BusURL != "" {
		return c.BusURL
	}
	if c.BusUser == "" {
		return fmt.Sprintf("nats://%s:%d", c.BusHost, c.BusPort)
	}
	return fmt.Sprintf("nats://%s:%s@%s:%d", c.BusUser, c.BusPassword, c.BusHost, c.BusPort)
}

// Location resolves the configured TimeZone, defaulting to time.Local.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
