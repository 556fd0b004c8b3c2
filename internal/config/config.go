package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"MotoMind-Vision/internal/capture"
	"MotoMind-Vision/internal/decode"
	"MotoMind-Vision/internal/events"
	"MotoMind-Vision/internal/plugins/confidence"
	"MotoMind-Vision/internal/storage/mysql"
	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/logger"
	"MotoMind-Vision/pkg/plugin"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "MOTOMIND_CONFIG"

// DefaultPath is used when EnvPath is unset.
const DefaultPath = "configs/motomind.yaml"

// Config is the complete daemon configuration.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Log        logger.Config        `yaml:"log"`
	Capture    CaptureConfig        `yaml:"capture"`
	Confidence confidence.Options   `yaml:"confidence"`
	Validation vin.Options          `yaml:"validation"`
	Decode     DecodeConfig         `yaml:"decode"`
	WMI        WMIConfig            `yaml:"wmi"`
	Events     events.Config        `yaml:"events"`
	Alerting   AlertingConfig       `yaml:"alerting"`
	Plugins    plugin.ManagerConfig `yaml:"plugins"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// CaptureConfig tunes capture sessions started through the API.
type CaptureConfig struct {
	capture.RetryPolicy `yaml:",inline"`
	BatchConcurrency    int `yaml:"batchConcurrency"`
}

// DecodeConfig selects the decode provider and its caches.
type DecodeConfig struct {
	decode.Options `yaml:",inline"`
	NHTSABaseURL   string                  `yaml:"nhtsaBaseURL"`
	CacheSize      int                     `yaml:"cacheSize"`
	Redis          decode.RedisCacheConfig `yaml:"redis"`
}

// WMIConfig points the offline provider at the MySQL WMI registry. An empty
// DSN keeps the built-in sample table.
type WMIConfig struct {
	MySQL mysql.Config `yaml:"mysql"`
	// Seed copies the built-in table into the registry on startup.
	Seed bool `yaml:"seed"`
}

// AlertingConfig enables alert channels for terminal capture failures.
type AlertingConfig struct {
	Log        bool   `yaml:"log"`
	WebhookURL string `yaml:"webhookURL"`
}

// Default returns the configuration used when a file sets nothing.
func Default() Config {
	cfg := Config{
		Validation: vin.DefaultOptions(),
		Decode:     DecodeConfig{Options: decode.DefaultOptions()},
		Capture:    CaptureConfig{RetryPolicy: capture.DefaultRetryPolicy()},
		Alerting:   AlertingConfig{Log: true},
	}
	cfg.applyDefaults("")
	return cfg
}

// Path returns the config path from EnvPath or DefaultPath.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load parses the YAML file at path over Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Plugins.Validate(); err != nil {
		return nil, fmt.Errorf("plugins: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills unset fields. Relative paths resolve against baseDir.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = "logs/audit.log"
	}
	c.Log.Audit.Path = resolve(baseDir, c.Log.Audit.Path)

	if c.Capture.MaxAttempts <= 0 {
		c.Capture.MaxAttempts = capture.DefaultMaxAttempts
	}
	if c.Capture.Delay <= 0 {
		c.Capture.Delay = capture.DefaultRetryDelay
	}
	if c.Capture.Ceiling <= 0 {
		c.Capture.Ceiling = capture.DefaultCeiling
	}
	if c.Capture.BatchConcurrency <= 0 {
		c.Capture.BatchConcurrency = capture.DefaultBatchConcurrency
	}

	if c.Confidence.MinConfidence <= 0 {
		c.Confidence.MinConfidence = confidence.DefaultMinConfidence
	}
	if c.Confidence.MaxRetries <= 0 {
		c.Confidence.MaxRetries = c.Capture.MaxAttempts
	}
	if c.Confidence.RetryDelay <= 0 {
		c.Confidence.RetryDelay = c.Capture.Delay
	}

	if c.Decode.APIProvider == "" {
		c.Decode.APIProvider = decode.ProviderOffline
	}
	if c.Decode.CacheResults == nil {
		enabled := true
		c.Decode.CacheResults = &enabled
	}
	if c.Decode.CacheDuration <= 0 {
		c.Decode.CacheDuration = decode.DefaultCacheDuration
	}
	if c.Decode.Timeout <= 0 {
		c.Decode.Timeout = decode.DefaultTimeout
	}
	if c.Decode.CacheSize <= 0 {
		c.Decode.CacheSize = decode.DefaultCacheSize
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	c.Plugins.PluginDir = resolve(baseDir, c.Plugins.PluginDir)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
