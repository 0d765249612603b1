package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Murali47k/pig3on/internal/logging"
	"github.com/Murali47k/pig3on/internal/transport"
)

// Version is the application and discovery protocol version.
const Version = "1.0.0"

const (
	DefaultDiscoveryPort = 37777
	DefaultTransferPort  = 37778
	DefaultScanTimeout   = 5 * time.Second
	DefaultLogLevel      = "info"
	fallbackDeviceName   = "Unknown-Device"

	dirName  = ".pig3on"
	fileName = "config.json"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds the device identity, ports and local paths shared by all
// commands.
type Config struct {
	DeviceName    string
	Version       string
	DiscoveryPort int
	TransferPort  int
	DownloadDir   string
	Transport     string
	LogLevel      string
	ScanTimeout   time.Duration
}

// fileConfig is the on-disk shape of Config.
type fileConfig struct {
	DeviceName         string   `json:"device_name,omitempty"`
	Version            string   `json:"version,omitempty"`
	DiscoveryPort      int      `json:"discovery_port,omitempty"`
	TransferPort       int      `json:"transfer_port,omitempty"`
	DownloadDir        string   `json:"download_dir,omitempty"`
	Transport          string   `json:"transport,omitempty"`
	LogLevel           string   `json:"log_level,omitempty"`
	ScanTimeoutSeconds *float64 `json:"scan_timeout_seconds,omitempty"`
}

// Default returns the built-in configuration.
// Defaults: name=hostname, ports 37777/37778, dir=~/Downloads/Pig3on,
// transport=tcp, logLevel=info, scanTimeout=5s
func Default() Config {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		name = fallbackDeviceName
	}
	downloadDir := filepath.Join("Downloads", "Pig3on")
	if home, err := os.UserHomeDir(); err == nil {
		downloadDir = filepath.Join(home, "Downloads", "Pig3on")
	}
	return Config{
		DeviceName:    name,
		Version:       Version,
		DiscoveryPort: DefaultDiscoveryPort,
		TransferPort:  DefaultTransferPort,
		DownloadDir:   downloadDir,
		Transport:     transport.NameTCP,
		LogLevel:      DefaultLogLevel,
		ScanTimeout:   DefaultScanTimeout,
	}
}

// DefaultPath returns ~/.pig3on/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

// Load returns the defaults overlaid with the file at path. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.merge(fc)
	return cfg, nil
}

// Open loads the config at path, initializing it on first run.
func Open(path string) (Config, error) {
	if Initialized(path) {
		return Load(path)
	}
	cfg := Default()
	if err := Initialize(path, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Initialized reports whether a config file exists at path.
func Initialized(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Initialize creates the config and download directories and writes cfg.
func Initialize(path string, cfg Config) error {
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	return cfg.Save(path)
}

// Save writes c to path as indented JSON, replacing the file atomically.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	seconds := c.ScanTimeout.Seconds()
	data, err := json.MarshalIndent(fileConfig{
		DeviceName:         c.DeviceName,
		Version:            c.Version,
		DiscoveryPort:      c.DiscoveryPort,
		TransferPort:       c.TransferPort,
		DownloadDir:        c.DownloadDir,
		Transport:          c.Transport,
		LogLevel:           c.LogLevel,
		ScanTimeoutSeconds: &seconds,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) merge(fc fileConfig) {
	if fc.DeviceName != "" {
		c.DeviceName = fc.DeviceName
	}
	if fc.DiscoveryPort != 0 {
		c.DiscoveryPort = fc.DiscoveryPort
	}
	if fc.TransferPort != 0 {
		c.TransferPort = fc.TransferPort
	}
	if fc.DownloadDir != "" {
		c.DownloadDir = fc.DownloadDir
	}
	if fc.Transport != "" {
		c.Transport = fc.Transport
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.ScanTimeoutSeconds != nil && *fc.ScanTimeoutSeconds > 0 {
		c.ScanTimeout = time.Duration(*fc.ScanTimeoutSeconds * float64(time.Second))
	}
}

// Setting keys, shared by flags ("--<key>") and the config command.
const (
	KeyName          = "name"
	KeyDiscoveryPort = "discovery-port"
	KeyTransferPort  = "transfer-port"
	KeyDownloadDir   = "download-dir"
	KeyTransport     = "transport"
	KeyLogLevel      = "log-level"
	KeyScanTimeout   = "scan-timeout"
)

var keyUsage = []struct{ key, usage string }{
	{KeyName, "device name announced to peers"},
	{KeyDiscoveryPort, "UDP discovery port"},
	{KeyTransferPort, "transfer listener port"},
	{KeyDownloadDir, "directory received files are written to"},
	{KeyTransport, "pairing transport (tcp, quic)"},
	{KeyLogLevel, "log level (debug, info, warn, error)"},
	{KeyScanTimeout, "discovery scan duration (e.g. 5s)"},
}

var envKeys = map[string]string{
	"PIG3ON_NAME":           KeyName,
	"PIG3ON_DISCOVERY_PORT": KeyDiscoveryPort,
	"PIG3ON_TRANSFER_PORT":  KeyTransferPort,
	"PIG3ON_DOWNLOAD_DIR":   KeyDownloadDir,
	"PIG3ON_TRANSPORT":      KeyTransport,
	"PIG3ON_LOG_LEVEL":      KeyLogLevel,
	"PIG3ON_SCAN_TIMEOUT":   KeyScanTimeout,
}

// FlagKey maps "--key" to a setting key.
func FlagKey(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "--") {
		return "", false
	}
	key := strings.TrimPrefix(arg, "--")
	for _, k := range keyUsage {
		if k.key == key {
			return key, true
		}
	}
	return "", false
}

// Set assigns one setting from its text form.
func (c *Config) Set(key, value string) error {
	switch key {
	case KeyName:
		c.DeviceName = strings.TrimSpace(value)
	case KeyDiscoveryPort:
		port, err := parsePort(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		c.DiscoveryPort = port
	case KeyTransferPort:
		port, err := parsePort(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		c.TransferPort = port
	case KeyDownloadDir:
		c.DownloadDir = value
	case KeyTransport:
		c.Transport = strings.ToLower(strings.TrimSpace(value))
	case KeyLogLevel:
		c.LogLevel = strings.ToLower(strings.TrimSpace(value))
	case KeyScanTimeout:
		d, err := parseTimeout(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		c.ScanTimeout = d
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
	}
	return nil
}

// ApplyEnv overrides settings from PIG3ON_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	for env, key := range envKeys {
		value := getenv(env)
		if value == "" {
			continue
		}
		if err := c.Set(key, value); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}

// BindFlags registers every setting on fs. Parsed flags override
// whatever c holds when fs.Parse runs.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	for _, k := range keyUsage {
		key := k.key
		fs.Func(key, k.usage, func(value string) error {
			return c.Set(key, value)
		})
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return fmt.Errorf("%w: device name is empty", ErrInvalid)
	}
	if !validPort(c.DiscoveryPort) {
		return fmt.Errorf("%w: discovery port %d out of range", ErrInvalid, c.DiscoveryPort)
	}
	if !validPort(c.TransferPort) {
		return fmt.Errorf("%w: transfer port %d out of range", ErrInvalid, c.TransferPort)
	}
	if c.DiscoveryPort == c.TransferPort {
		return fmt.Errorf("%w: discovery and transfer ports are both %d", ErrInvalid, c.DiscoveryPort)
	}
	if strings.TrimSpace(c.DownloadDir) == "" {
		return fmt.Errorf("%w: download dir is empty", ErrInvalid)
	}
	if _, err := transport.New(c.Transport); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("%w: scan timeout must be positive", ErrInvalid)
	}
	return nil
}

// Usage lists the setting flags for help output.
func Usage() []string {
	lines := make([]string, 0, len(keyUsage))
	for _, k := range keyUsage {
		lines = append(lines, fmt.Sprintf("--%-16s %s", k.key, k.usage))
	}
	return lines
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if !validPort(port) {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// parseTimeout accepts a Go duration or a plain number of seconds.
func parseTimeout(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("timeout must be positive")
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}
