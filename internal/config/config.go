// Package config holds the application configuration, loaded through viper
// from defaults, an optional yaml file, and SCANHUB_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Post-success reset policies for the scanner coordinator.
const (
	ResetPolicyManual = "manual"
	ResetPolicyAuto   = "auto"
)

// Config is the root configuration object.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Camera  CameraConfig  `mapstructure:"camera" yaml:"camera"`
	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner"`
	Decoder DecoderConfig `mapstructure:"decoder" yaml:"decoder"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP control surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	EventWaitBudget time.Duration `mapstructure:"event_wait_budget" yaml:"event_wait_budget"`
}

// CameraConfig selects and shapes the capture source.
type CameraConfig struct {
	// DeviceID pins a specific camera; empty means pick the default
	// (rear/back/environment label match, else the first device).
	DeviceID string    `mapstructure:"device_id" yaml:"device_id"`
	Width    int       `mapstructure:"width" yaml:"width"`
	Height   int       `mapstructure:"height" yaml:"height"`
	FPS      int       `mapstructure:"fps" yaml:"fps"`
	Sim      SimConfig `mapstructure:"sim" yaml:"sim"`
}

// SimConfig configures the synthetic camera provider used by serve/demo mode.
type SimConfig struct {
	// Devices lists the simulated video inputs (id:label pairs).
	Devices []SimDeviceConfig `mapstructure:"devices" yaml:"devices"`
	// Payloads are cycled into rendered QR frames.
	Payloads []string `mapstructure:"payloads" yaml:"payloads"`
}

// SimDeviceConfig describes one simulated camera.
type SimDeviceConfig struct {
	ID    string `mapstructure:"id" yaml:"id"`
	Label string `mapstructure:"label" yaml:"label"`
	Busy  bool   `mapstructure:"busy" yaml:"busy"`
}

// ScannerConfig tunes the lifecycle coordinator.
type ScannerConfig struct {
	// ConfidenceThreshold is the minimum decoder confidence (0-100) a
	// detection needs to be accepted.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	// Frequency caps decode attempts per second.
	Frequency float64 `mapstructure:"frequency" yaml:"frequency"`
	// DebounceWindow suppresses duplicate reads of the same physical code.
	DebounceWindow time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`
	// SuccessTimeout returns the scanner to Idle when a successful scan is
	// never acknowledged. Zero disables the timeout.
	SuccessTimeout time.Duration `mapstructure:"success_timeout" yaml:"success_timeout"`
	// ResetPolicy is "manual" (stay in Success until Reset) or "auto"
	// (restart scanning after the debounce window).
	ResetPolicy string `mapstructure:"reset_policy" yaml:"reset_policy"`
}

// DecoderConfig tunes the barcode decoder.
type DecoderConfig struct {
	// Formats limits the symbologies tried; empty means all supported.
	Formats      []string `mapstructure:"formats" yaml:"formats"`
	TryHarder    bool     `mapstructure:"try_harder" yaml:"try_harder"`
	AlsoInverted bool     `mapstructure:"also_inverted" yaml:"also_inverted"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scanhub")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_grace", "10s")
	v.SetDefault("server.event_wait_budget", "25s")

	// -- Camera --
	v.SetDefault("camera.device_id", "")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 10)
	v.SetDefault("camera.sim.payloads", []string{"123456789"})
	v.SetDefault("camera.sim.devices", []map[string]interface{}{
		{"id": "cam-front", "label": "Front Camera"},
		{"id": "cam-rear", "label": "Back Camera"},
	})

	// -- Scanner --
	v.SetDefault("scanner.confidence_threshold", 70.0)
	v.SetDefault("scanner.frequency", 10.0)
	v.SetDefault("scanner.debounce_window", "1500ms")
	v.SetDefault("scanner.success_timeout", "0s")
	v.SetDefault("scanner.reset_policy", ResetPolicyManual)

	// -- Decoder --
	v.SetDefault("decoder.formats", []string{})
	v.SetDefault("decoder.try_harder", true)
	v.SetDefault("decoder.also_inverted", false)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Scanner.ConfidenceThreshold < 0 || c.Scanner.ConfidenceThreshold > 100 {
		return fmt.Errorf("scanner.confidence_threshold must be between 0 and 100")
	}
	if c.Scanner.Frequency < 0 {
		return fmt.Errorf("scanner.frequency must not be negative")
	}
	switch strings.ToLower(c.Scanner.ResetPolicy) {
	case ResetPolicyManual, ResetPolicyAuto:
	default:
		return fmt.Errorf("scanner.reset_policy must be %q or %q, got %q",
			ResetPolicyManual, ResetPolicyAuto, c.Scanner.ResetPolicy)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera.fps must be a positive integer")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera resolution must be positive")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
