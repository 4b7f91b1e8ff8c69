// Package config loads the gateway's static bootstrap configuration:
// the serial device, the cloud collector endpoint, key file paths, and
// the data directory. This is the *launch-time* tier only — the
// runtime-mutable surface (periods, register selection, power
// management) lives in pkg/store and is owned by pkg/configsync,
// never by this package or the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the gateway's bootstrap configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (ECOWATT_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// When no configuration file is found, Load returns DefaultConfig as is
// and does not read the environment.
type Config struct {
	// Serial configures the Modbus RTU transport (C3/C4).
	Serial SerialConfig `mapstructure:"serial" yaml:"serial" validate:"required"`

	// Cloud configures the device's HTTP client of the cloud collector
	// (§6.2).
	Cloud CloudConfig `mapstructure:"cloud" yaml:"cloud" validate:"required"`

	// Security holds the file paths for the pre-shared security
	// envelope keys (C9). The keys themselves are never held directly
	// in this struct or written back to the saved config file.
	Security SecurityConfig `mapstructure:"security" yaml:"security" validate:"required"`

	// OTA configures firmware-update key material and partition
	// storage (C12).
	OTA OTAConfig `mapstructure:"ota" yaml:"ota" validate:"required"`

	// DataDir is the directory backing the badger-based runtime store
	// (C2) and the fault log ring.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`

	// DispatchTick is the cadence at which the coordinator's main loop
	// calls clock.Scheduler.Tick. It must be no coarser than the
	// shortest configured timer period or that timer will run late.
	DispatchTick time.Duration `mapstructure:"dispatch_tick" yaml:"dispatch_tick" validate:"required,gt=0"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" validate:"required"`

	// Metrics controls the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// SerialConfig configures the Modbus RTU serial port.
type SerialConfig struct {
	// Device is the serial device path, e.g. "/dev/ttyUSB0".
	Device string `mapstructure:"device" yaml:"device" validate:"required"`

	// BaudRate is the Modbus RTU line rate.
	BaudRate int `mapstructure:"baud_rate" yaml:"baud_rate" validate:"required,oneof=9600 19200 38400 57600 115200"`

	// SlaveID is the inverter's Modbus slave/unit address.
	SlaveID uint8 `mapstructure:"slave_id" yaml:"slave_id" validate:"required"`
}

// CloudConfig configures the cloud collector HTTP client.
type CloudConfig struct {
	// BaseURL is the collector's base URL, e.g. "https://collector.example.com".
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`

	// DeviceID identifies this gateway to the cloud collector; it is
	// embedded in every §6.2 URL path.
	DeviceID string `mapstructure:"device_id" yaml:"device_id" validate:"required"`
}

// SecurityConfig holds the file paths for the C9 security envelope's
// pre-shared key material. Each file holds raw key bytes (32 for the
// HMAC key, 16 for the cipher key) rather than a PEM or JSON wrapper,
// matching how the device provisions its own key material at
// manufacture time.
type SecurityConfig struct {
	// PSKHMACKeyFile is a 32-byte file, the HMAC-SHA256 envelope key.
	PSKHMACKeyFile string `mapstructure:"psk_hmac_key_file" yaml:"psk_hmac_key_file" validate:"required"`

	// PSKCipherKeyFile is a 16-byte file, the AES-128-CBC envelope key.
	PSKCipherKeyFile string `mapstructure:"psk_cipher_key_file" yaml:"psk_cipher_key_file" validate:"required"`
}

// OTAConfig configures firmware-update verification and storage.
type OTAConfig struct {
	// ManifestPublicKeyFile is a PEM-encoded RSA public key used to
	// verify the signed manifest JWT (C12).
	ManifestPublicKeyFile string `mapstructure:"manifest_public_key_file" yaml:"manifest_public_key_file" validate:"required"`

	// ImageKeyFile is a 16-byte file, the symmetric key firmware
	// chunks are encrypted under.
	ImageKeyFile string `mapstructure:"image_key_file" yaml:"image_key_file" validate:"required"`

	// PartitionADir and PartitionBDir are the two file-backed
	// Partition directories the dual-partition swap alternates
	// between.
	PartitionADir string `mapstructure:"partition_a_dir" yaml:"partition_a_dir" validate:"required"`
	PartitionBDir string `mapstructure:"partition_b_dir" yaml:"partition_b_dir" validate:"required"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written: stdout, stderr, or a
	// file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether the metrics server and collectors run
	// at all (zero overhead when false).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port the /metrics endpoint listens on.
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := DefaultConfig()
		ApplyDefaults(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error if no
// config file exists at the resolved path.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n  ecowatt-gw init\n\n"+
				"or specify a custom path:\n  ecowatt-gw <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig writes cfg to path as YAML with restricted permissions,
// since it may reference key files.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ECOWATT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

// configDecodeHooks composes the mapstructure decode hooks the config
// file needs: human-readable durations for DispatchTick and friends.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ecowatt-gw")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ecowatt-gw")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
