package config

import (
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := Default()
	cfg.DeviceName = "laptop"
	cfg.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DeviceName == "" {
		t.Fatalf("expected a device name")
	}
	if cfg.Version != Version {
		t.Errorf("expected version %s, got %s", Version, cfg.Version)
	}
	if cfg.DiscoveryPort != 37777 || cfg.TransferPort != 37778 {
		t.Errorf("unexpected ports %d/%d", cfg.DiscoveryPort, cfg.TransferPort)
	}
	if filepath.Base(cfg.DownloadDir) != "Pig3on" {
		t.Errorf("unexpected download dir %s", cfg.DownloadDir)
	}
	if cfg.Transport != "tcp" || cfg.LogLevel != "info" || cfg.ScanTimeout != 5*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TransferPort != DefaultTransferPort {
		t.Errorf("expected default transfer port, got %d", cfg.TransferPort)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"device_name":"desk","transfer_port":40000,"scan_timeout_seconds":2.5}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeviceName != "desk" || cfg.TransferPort != 40000 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.DiscoveryPort != DefaultDiscoveryPort {
		t.Errorf("expected default discovery port, got %d", cfg.DiscoveryPort)
	}
	if cfg.ScanTimeout != 2500*time.Millisecond {
		t.Errorf("expected 2.5s scan timeout, got %v", cfg.ScanTimeout)
	}
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := testConfig(t)
	cfg.Transport = "quic"
	cfg.ScanTimeout = 3 * time.Second
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var keys map[string]any
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"device_name", "version", "discovery_port", "transfer_port", "download_dir", "transport", "log_level", "scan_timeout_seconds"} {
		if _, ok := keys[k]; !ok {
			t.Errorf("missing key %s in %s", k, raw)
		}
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestOpen_FirstRunInitializes(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, ".pig3on", "config.json")

	if Initialized(path) {
		t.Fatalf("expected fresh config")
	}
	cfg, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !Initialized(path) {
		t.Fatalf("expected config file after first run")
	}
	if info, err := os.Stat(cfg.DownloadDir); err != nil || !info.IsDir() {
		t.Fatalf("expected download dir %s: %v", cfg.DownloadDir, err)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again != cfg {
		t.Fatalf("reopen mismatch:\n got %+v\nwant %+v", again, cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PIG3ON_NAME":           "envbox",
		"PIG3ON_TRANSFER_PORT":  "41000",
		"PIG3ON_TRANSPORT":      "QUIC",
		"PIG3ON_SCAN_TIMEOUT":   "1500ms",
		"PIG3ON_LOG_LEVEL":      "debug",
		"PIG3ON_DISCOVERY_PORT": "",
	}
	cfg := testConfig(t)
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.DeviceName != "envbox" || cfg.TransferPort != 41000 || cfg.Transport != "quic" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.ScanTimeout != 1500*time.Millisecond || cfg.LogLevel != "debug" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.DiscoveryPort != DefaultDiscoveryPort {
		t.Errorf("empty env value should not override")
	}

	bad := testConfig(t)
	err := bad.ApplyEnv(func(k string) string {
		if k == "PIG3ON_DISCOVERY_PORT" {
			return "70000"
		}
		return ""
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestBindFlags_OverrideEnv(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.ApplyEnv(func(k string) string {
		if k == "PIG3ON_NAME" {
			return "from-env"
		}
		return ""
	}); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"-name", "from-flag", "-scan-timeout", "7", "-transport", "quic"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DeviceName != "from-flag" {
		t.Errorf("flag should win over env, got %s", cfg.DeviceName)
	}
	if cfg.ScanTimeout != 7*time.Second || cfg.Transport != "quic" {
		t.Errorf("flags not applied: %+v", cfg)
	}

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(discardWriter))
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"-transfer-port", "0"}); err == nil {
		t.Fatalf("expected invalid port error")
	}
}

func TestFlagKey(t *testing.T) {
	if key, ok := FlagKey("--download-dir"); !ok || key != KeyDownloadDir {
		t.Fatalf("got %q %v", key, ok)
	}
	for _, arg := range []string{"--to", "name", "-name", "--"} {
		if _, ok := FlagKey(arg); ok {
			t.Fatalf("%q should not be a setting flag", arg)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.DeviceName = "  " }},
		{"discovery port zero", func(c *Config) { c.DiscoveryPort = 0 }},
		{"transfer port too big", func(c *Config) { c.TransferPort = 65536 }},
		{"same ports", func(c *Config) { c.TransferPort = c.DiscoveryPort }},
		{"empty dir", func(c *Config) { c.DownloadDir = "" }},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"unknown level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero scan timeout", func(c *Config) { c.ScanTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSet_UnknownKey(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.Set("color", "blue"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if err := cfg.Set(KeyScanTimeout, "-1"); err == nil {
		t.Fatalf("expected negative timeout error")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
