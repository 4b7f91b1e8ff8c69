package config

import "time"

// ApplyDefaults fills in zero-valued fields with sensible defaults
// after a config file (partial or absent) has been unmarshalled.
func ApplyDefaults(cfg *Config) {
	applySerialDefaults(&cfg.Serial)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.DispatchTick == 0 {
		cfg.DispatchTick = 100 * time.Millisecond
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/ecowatt-gw"
	}
}

func applySerialDefaults(cfg *SerialConfig) {
	if cfg.Device == "" {
		cfg.Device = "/dev/ttyUSB0"
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.SlaveID == 0 {
		cfg.SlaveID = 1
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// DefaultConfig returns a Config with every field populated by
// ApplyDefaults, useful as a starting point for `ecowatt-gw init` and
// for tests. Key file paths are set to conventional locations under
// /etc/ecowatt-gw; the cloud endpoint and device id have no sane default
// and are left empty for the operator to fill in.
func DefaultConfig() *Config {
	cfg := &Config{
		DataDir:      "/var/lib/ecowatt-gw",
		DispatchTick: 100 * time.Millisecond,
		Serial: SerialConfig{
			Device:   "/dev/ttyUSB0",
			BaudRate: 9600,
			SlaveID:  1,
		},
		Security: SecurityConfig{
			PSKHMACKeyFile:   "/etc/ecowatt-gw/psk_hmac.key",
			PSKCipherKeyFile: "/etc/ecowatt-gw/psk_cipher.key",
		},
		OTA: OTAConfig{
			ManifestPublicKeyFile: "/etc/ecowatt-gw/ota_manifest.pub",
			ImageKeyFile:          "/etc/ecowatt-gw/ota_image.key",
			PartitionADir:         "/var/lib/ecowatt-gw/firmware/a",
			PartitionBDir:         "/var/lib/ecowatt-gw/firmware/b",
		},
		Logging: LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: false},
	}
	return cfg
}
