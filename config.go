package docindex

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the file form of Options.
type Config struct {
	Storage         StorageConfig `yaml:"storage"`
	Journal         JournalConfig `yaml:"journal"`
	RecordCacheSize int           `yaml:"recordCacheSize"`
	Verbose         bool          `yaml:"verbose"`
}

type StorageConfig struct {
	Backend Backend `yaml:"backend"`
	Path    string  `yaml:"path"`
}

// JournalConfig enables the change journal when Dir is set.
type JournalConfig struct {
	Dir         string `yaml:"dir"`
	MaxFileSize int64  `yaml:"maxFileSize"`
}

func DefaultConfig() Config {
	return Config{
		Storage:         StorageConfig{Backend: BackendMemory},
		RecordCacheSize: defaultRecordCacheSize,
	}
}

// ParseConfig reads a YAML configuration over the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("docindex: config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("docindex: config: %w", err)
	}
	return ParseConfig(data)
}

func (cfg *Config) Validate() error {
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendBolt, BackendPebble:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("docindex: config: storage.path is required for the %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("docindex: config: unknown storage.backend %q", cfg.Storage.Backend)
	}
	if cfg.Journal.MaxFileSize < 0 {
		return fmt.Errorf("docindex: config: journal.maxFileSize must not be negative")
	}
	return nil
}

// Options turns the configuration into Options for Open.
func (cfg *Config) Options(logger *slog.Logger) Options {
	return Options{
		Backend:         cfg.Storage.Backend,
		Path:            cfg.Storage.Path,
		Logger:          logger,
		Verbose:         cfg.Verbose,
		RecordCacheSize: cfg.RecordCacheSize,

		JournalDir:         cfg.Journal.Dir,
		JournalMaxFileSize: cfg.Journal.MaxFileSize,
	}
}
