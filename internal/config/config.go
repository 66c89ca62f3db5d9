// Package config manages the gonearby daemon configuration using
// koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gonearby configuration.
type Config struct {
	GRPC      GRPCConfig       `koanf:"grpc"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Log       LogConfig        `koanf:"log"`
	Medium    MediumConfig     `koanf:"medium"`
	Endpoint  EndpointDefaults `koanf:"endpoint"`
	Endpoints []EndpointConfig `koanf:"endpoints"`
}

// MediumConfig holds the listen addresses for the mediums this daemon
// accepts inbound connections on. A medium with an empty address is not
// registered, so RequestConnection/InitiateBandwidthUpgrade calls
// naming it fail with ErrUnsupportedMedium.
type MediumConfig struct {
	// WifiLANAddr is the TCP listen address for the WIFI_LAN medium
	// (e.g. ":37000").
	WifiLANAddr string `koanf:"wifi_lan_addr"`
}

// GRPCConfig holds the ConnectRPC server configuration.
type GRPCConfig struct {
	// Addr is the control-plane listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// EndpointDefaults holds the default per-endpoint parameters applied
// when a connection is established without an explicit override.
// This is the only "generation" of defaults this implementation ships
// (see DESIGN.md, Open Question 1).
type EndpointDefaults struct {
	// KeepAliveInterval is the default KEEP_ALIVE write interval.
	KeepAliveInterval time.Duration `koanf:"keep_alive_interval"`

	// KeepAliveTimeout is the default read-timeout before an endpoint
	// with no recent activity is aborted.
	KeepAliveTimeout time.Duration `koanf:"keep_alive_timeout"`

	// HandshakeTimeout bounds the UKEY2 exchange.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
}

// EndpointConfig describes a declaratively pre-registered peer from the
// configuration file, the host-side analogue of an `inject_endpoint`
// call applied at daemon startup.
type EndpointConfig struct {
	// EndpointID is the remote peer's 4-character endpoint id.
	EndpointID string `koanf:"endpoint_id"`

	// ServiceID is the service this endpoint is associated with.
	ServiceID string `koanf:"service_id"`

	// Medium names the bootstrap medium ("bluetooth" is the only medium
	// allowed for out-of-band injection; see DESIGN.md, Open Question 2).
	Medium string `koanf:"medium"`

	// MAC is the 6-byte Bluetooth MAC address, colon-separated hex.
	MAC string `koanf:"mac"`
}

// EndpointKey returns a unique identifier for the declarative endpoint,
// used for diffing entries on reload.
func (ec EndpointConfig) EndpointKey() string {
	return ec.EndpointID + "|" + ec.ServiceID
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The endpoint defaults are keep-alive writes every 5 seconds, a
// 30-second read timeout, and a 15-second UKEY2 handshake deadline.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Medium: MediumConfig{
			WifiLANAddr: ":37000",
		},
		Endpoint: EndpointDefaults{
			KeepAliveInterval: 5 * time.Second,
			KeepAliveTimeout:  30 * time.Second,
			HandshakeTimeout:  15 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gonearby configuration.
// Variables are named NEARBY_<section>_<key>, e.g., NEARBY_GRPC_ADDR.
const envPrefix = "NEARBY_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NEARBY_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	NEARBY_GRPC_ADDR     -> grpc.addr
//	NEARBY_METRICS_ADDR  -> metrics.addr
//	NEARBY_METRICS_PATH  -> metrics.path
//	NEARBY_LOG_LEVEL     -> log.level
//	NEARBY_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// NEARBY_GRPC_ADDR -> grpc.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NEARBY_GRPC_ADDR -> grpc.addr.
// Strips the NEARBY_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"grpc.addr":                  defaults.GRPC.Addr,
		"metrics.addr":               defaults.Metrics.Addr,
		"metrics.path":               defaults.Metrics.Path,
		"log.level":                  defaults.Log.Level,
		"log.format":                 defaults.Log.Format,
		"medium.wifi_lan_addr":       defaults.Medium.WifiLANAddr,
		"endpoint.keep_alive_interval": defaults.Endpoint.KeepAliveInterval.String(),
		"endpoint.keep_alive_timeout":  defaults.Endpoint.KeepAliveTimeout.String(),
		"endpoint.handshake_timeout":   defaults.Endpoint.HandshakeTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGRPCAddr indicates the control-plane listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrInvalidKeepAliveInterval indicates the keep-alive interval is invalid.
	ErrInvalidKeepAliveInterval = errors.New("endpoint.keep_alive_interval must be > 0")

	// ErrInvalidKeepAliveTimeout indicates the keep-alive timeout is invalid.
	ErrInvalidKeepAliveTimeout = errors.New("endpoint.keep_alive_timeout must be > 0")

	// ErrInvalidHandshakeTimeout indicates the handshake timeout is invalid.
	ErrInvalidHandshakeTimeout = errors.New("endpoint.handshake_timeout must be > 0")

	// ErrInvalidEndpointID indicates a declarative endpoint id is not
	// exactly 4 characters.
	ErrInvalidEndpointID = errors.New("endpoint_id must be exactly 4 characters")

	// ErrInvalidEndpointMedium indicates a declarative endpoint names a
	// medium other than Bluetooth.
	ErrInvalidEndpointMedium = errors.New("endpoints[].medium must be \"bluetooth\"")

	// ErrInvalidEndpointMAC indicates a declarative Bluetooth endpoint has
	// a malformed MAC address.
	ErrInvalidEndpointMAC = errors.New("endpoints[].mac must be a 6-byte colon-separated MAC address")

	// ErrDuplicateEndpointKey indicates two declarative endpoints share
	// the same (endpoint_id, service_id) key.
	ErrDuplicateEndpointKey = errors.New("duplicate endpoint key")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if cfg.Endpoint.KeepAliveInterval <= 0 {
		return ErrInvalidKeepAliveInterval
	}

	if cfg.Endpoint.KeepAliveTimeout <= 0 {
		return ErrInvalidKeepAliveTimeout
	}

	if cfg.Endpoint.HandshakeTimeout <= 0 {
		return ErrInvalidHandshakeTimeout
	}

	if err := validateEndpoints(cfg.Endpoints); err != nil {
		return err
	}

	return nil
}

// macPattern matches a colon-separated 6-byte MAC address.
var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// validateEndpoints checks each declarative endpoint entry for
// correctness. Only Bluetooth injection is permitted: every other medium is rejected at load time.
func validateEndpoints(endpoints []EndpointConfig) error {
	seen := make(map[string]struct{}, len(endpoints))

	for i, ec := range endpoints {
		if len(ec.EndpointID) != 4 {
			return fmt.Errorf("endpoints[%d]: %w", i, ErrInvalidEndpointID)
		}

		if ec.Medium != "bluetooth" {
			return fmt.Errorf("endpoints[%d] medium %q: %w", i, ec.Medium, ErrInvalidEndpointMedium)
		}

		if !macPattern.MatchString(ec.MAC) {
			return fmt.Errorf("endpoints[%d] mac %q: %w", i, ec.MAC, ErrInvalidEndpointMAC)
		}

		key := ec.EndpointKey()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("endpoints[%d] key %q: %w", i, key, ErrDuplicateEndpointKey)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
