package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlab.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/backlab/data"
  sqlite_path: "/tmp/backlab/backlab.db"
tushare:
  token: "test-token"
  base_url: "http://api.tushare.pro"
  rate_limit_per_min: 60
logging:
  level: "debug"
  format: "json"
sync:
  max_concurrent: 8
  fetch_timeout_sec: 10
  max_retries: 2
backtest:
  initial_cash: 500000
  commission_rate: 0.0005
  slippage_rate: 0.001
  lot_size: 100
`)

	// Clear any environment overrides that might interfere.
	os.Unsetenv("TUSHARE_TOKEN")
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/backlab/data" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.TuShare.Token != "test-token" {
		t.Errorf("TuShare.Token = %q", cfg.TuShare.Token)
	}
	if cfg.Sync.MaxConcurrent != 8 {
		t.Errorf("Sync.MaxConcurrent = %d", cfg.Sync.MaxConcurrent)
	}
	if cfg.Backtest.InitialCash != 500000 {
		t.Errorf("Backtest.InitialCash = %v", cfg.Backtest.InitialCash)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/backlab/data"
`)
	os.Unsetenv("TUSHARE_TOKEN")
	os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backtest.InitialCash != 1000000 {
		t.Errorf("default InitialCash = %v, want 1000000", cfg.Backtest.InitialCash)
	}
	if cfg.Backtest.CommissionRate != 0.001 {
		t.Errorf("default CommissionRate = %v, want 0.001", cfg.Backtest.CommissionRate)
	}
	if cfg.Backtest.LotSize != 100 {
		t.Errorf("default LotSize = %v, want 100", cfg.Backtest.LotSize)
	}
	if cfg.Sync.MaxConcurrent != 4 {
		t.Errorf("default MaxConcurrent = %v, want 4", cfg.Sync.MaxConcurrent)
	}
	if cfg.TuShare.BaseURL != "http://api.tushare.pro" {
		t.Errorf("default TuShare.BaseURL = %q", cfg.TuShare.BaseURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
tushare:
  token: "from-yaml"
`)

	t.Setenv("TUSHARE_TOKEN", "from-env")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TuShare.Token != "from-env" {
		t.Errorf("TuShare.Token = %q, want env override", cfg.TuShare.Token)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("DataDir = %q, want env override", cfg.Storage.DataDir)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want env override", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load should fail for a missing file")
	}
}
