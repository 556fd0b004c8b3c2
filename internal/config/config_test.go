package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"MotoMind-Vision/internal/capture"
	"MotoMind-Vision/internal/decode"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "motomind.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":8080" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Capture.MaxAttempts != capture.DefaultMaxAttempts || cfg.Capture.Delay != capture.DefaultRetryDelay {
		t.Fatalf("capture = %+v", cfg.Capture)
	}
	if cfg.Decode.APIProvider != decode.ProviderOffline || !cfg.Decode.Caching() {
		t.Fatalf("decode = %+v", cfg.Decode)
	}
	if cfg.Confidence.MaxRetries != cfg.Capture.MaxAttempts {
		t.Fatalf("confidence retries = %d", cfg.Confidence.MaxRetries)
	}
	if !cfg.Validation.ValidateCheckDigit || cfg.Events.Driver != "memory" || !cfg.Alerting.Log {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
capture:
  maxAttempts: 5
  retryDelay: 250ms
confidence:
  minConfidence: 0.7
  thresholds:
    vin: 0.9
decode:
  apiProvider: mock
  cacheResults: false
  timeout: 3s
log:
  audit:
    enabled: true
plugins:
  pluginDir: plugins
  plugins:
    - id: vin-validation
    - id: confidence
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Capture.MaxAttempts != 5 || cfg.Capture.Delay != 250*time.Millisecond {
		t.Fatalf("capture = %+v", cfg.Capture)
	}
	if cfg.Confidence.MaxRetries != 5 || cfg.Confidence.RetryDelay != 250*time.Millisecond || cfg.Confidence.Thresholds["vin"] != 0.9 {
		t.Fatalf("confidence = %+v", cfg.Confidence)
	}
	if cfg.Decode.APIProvider != decode.ProviderMock || cfg.Decode.Caching() || cfg.Decode.Timeout != 3*time.Second {
		t.Fatalf("decode = %+v", cfg.Decode)
	}
	dir := filepath.Dir(path)
	if cfg.Log.Audit.Path != filepath.Join(dir, "logs/audit.log") {
		t.Fatalf("audit path = %s", cfg.Log.Audit.Path)
	}
	if cfg.Plugins.PluginDir != filepath.Join(dir, "plugins") || len(cfg.Plugins.Plugins) != 2 {
		t.Fatalf("plugins = %+v", cfg.Plugins)
	}
}

func TestLoadRejectsInvalidInput(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected empty path error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Fatalf("expected parse error")
	}
	dup := writeConfig(t, `
plugins:
  plugins:
    - id: confidence
    - id: confidence
`)
	if _, err := Load(dup); err == nil || !strings.Contains(err.Error(), "plugins") {
		t.Fatalf("expected duplicate plugin error, got %v", err)
	}
}

func TestPathFromEnvironment(t *testing.T) {
	t.Setenv(EnvPath, "")
	if Path() != DefaultPath {
		t.Fatalf("path = %s", Path())
	}
	t.Setenv(EnvPath, "/etc/motomind.yaml")
	if Path() != "/etc/motomind.yaml" {
		t.Fatalf("path = %s", Path())
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "motomind.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if len(cfg.Plugins.Plugins) != 5 || cfg.Plugins.Plugins[4].IsEnabled() {
		t.Fatalf("plugins = %+v", cfg.Plugins.Plugins)
	}
	if cfg.Confidence.Thresholds["vin"] != 0.95 || cfg.Decode.CacheSize != 1024 {
		t.Fatalf("unexpected values: %+v %+v", cfg.Confidence, cfg.Decode)
	}
	if !strings.HasSuffix(cfg.Plugins.PluginDir, "plugins") {
		t.Fatalf("plugin dir = %s", cfg.Plugins.PluginDir)
	}
}
