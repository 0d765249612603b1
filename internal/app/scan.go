package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/logging"
)

var (
	// ErrNoDevices means a scan found nobody to send to.
	ErrNoDevices = errors.New("no devices found")
	// ErrDeviceNotFound means no scanned device matches the requested target.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAmbiguousDevice means several devices answered and nothing chose
	// between them.
	ErrAmbiguousDevice = errors.New("several devices found; choose one")
)

// ScanConfig configures a discovery scan.
type ScanConfig struct {
	Identity      discovery.Identity
	DiscoveryPort int
	// TransferPort is assumed for peers whose reply carries no usable port.
	TransferPort  int
	Timeout       time.Duration
	BroadcastAddr string
	Events        events.Publisher
}

// Scan runs one discovery round and publishes every device found.
func Scan(ctx context.Context, logger *slog.Logger, cfg ScanConfig) ([]discovery.Device, error) {
	logger = logging.OrDiscard(logger)
	scanner := &discovery.Scanner{
		Identity:      cfg.Identity,
		Port:          cfg.DiscoveryPort,
		BroadcastAddr: cfg.BroadcastAddr,
		FallbackPort:  cfg.TransferPort,
		Logger:        logger,
	}
	logger.Debug("scanning", "port", cfg.DiscoveryPort, "timeout", cfg.Timeout)
	devices, err := scanner.Scan(ctx, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if cfg.Events != nil {
		for _, dev := range devices {
			cfg.Events.Publish(events.Event{Type: events.TypeDevice, Data: dev})
		}
	}
	logger.Info("scan finished", "devices", len(devices))
	return devices, nil
}

// Chooser picks one of several devices, returning its index.
type Chooser func(devices []discovery.Device) (int, error)

// SelectDevice picks the send target. A non-empty target must match a
// device name (case-insensitive), address or host:port. Otherwise a single
// device is chosen automatically and several go to choose.
func SelectDevice(devices []discovery.Device, target string, choose Chooser) (discovery.Device, error) {
	if len(devices) == 0 {
		return discovery.Device{}, ErrNoDevices
	}
	if target = strings.TrimSpace(target); target != "" {
		for _, dev := range devices {
			if strings.EqualFold(dev.Name, target) || dev.Address == target || dev.HostPort() == target {
				return dev, nil
			}
		}
		return discovery.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, target)
	}
	if len(devices) == 1 {
		return devices[0], nil
	}
	if choose == nil {
		return discovery.Device{}, ErrAmbiguousDevice
	}
	idx, err := choose(devices)
	if err != nil {
		return discovery.Device{}, err
	}
	if idx < 0 || idx >= len(devices) {
		return discovery.Device{}, fmt.Errorf("invalid selection %d", idx+1)
	}
	return devices[idx], nil
}
