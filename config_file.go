package telemetry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the engine settings.
//
//	data_dir: /var/lib/myapp/telemetry
//	default_pings: [metrics, baseline]
//	max_string_length: 100
//	keep_application_lifetime: false
//	upload_enabled: true
//	log:
//	  format: terminal
//	  level: debug
type Config struct {
	DataDir                 string    `yaml:"data_dir"`
	DefaultPings            []string  `yaml:"default_pings"`
	MaxStringLength         int       `yaml:"max_string_length"`
	MaxStringListLength     int       `yaml:"max_string_list_length"`
	TestingMode             bool      `yaml:"testing_mode"`
	KeepApplicationLifetime bool      `yaml:"keep_application_lifetime"`
	UploadEnabled           *bool     `yaml:"upload_enabled"`
	Log                     LogConfig `yaml:"log"`
}

// LogConfig selects the log handler. An empty Format disables logging.
type LogConfig struct {
	Format LogFormat `yaml:"format"`
	Level  string    `yaml:"level"`
}

// ParseConfig decodes a YAML config. Unknown keys are an error.
func ParseConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("telemetry: parsing config: %w", err)
	}
	if cfg.MaxStringLength < 0 || cfg.MaxStringListLength < 0 {
		return Config{}, fmt.Errorf("telemetry: parsing config: negative limit")
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a YAML config file.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("telemetry: opening config: %w", err)
	}
	defer f.Close()
	return ParseConfig(f)
}

// Options converts the config into engine options. Logs go to logOutput.
func (c Config) Options(logOutput io.Writer) ([]Option, error) {
	var opts []Option
	if c.DataDir != "" {
		opts = append(opts, WithDataDir(c.DataDir))
	}
	if len(c.DefaultPings) > 0 {
		opts = append(opts, WithDefaultPings(c.DefaultPings...))
	}
	if c.MaxStringLength > 0 {
		opts = append(opts, WithMaxStringLength(c.MaxStringLength))
	}
	if c.MaxStringListLength > 0 {
		opts = append(opts, WithMaxStringListLength(c.MaxStringListLength))
	}
	if c.TestingMode {
		opts = append(opts, WithTestingMode())
	}
	if c.KeepApplicationLifetime {
		opts = append(opts, WithApplicationLifetimeKept())
	}
	if c.UploadEnabled != nil && !*c.UploadEnabled {
		opts = append(opts, WithUploadDisabled())
	}
	if c.Log.Format != "" {
		level := slog.LevelInfo
		if c.Log.Level != "" {
			if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
				return nil, fmt.Errorf("telemetry: log level: %w", err)
			}
		}
		logger, err := NewLogger(logOutput, c.Log.Format, level)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithLogger(logger))
	}
	return opts, nil
}
