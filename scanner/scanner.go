// Package scanner discovers nearby BLE peripherals so a watch target can be
// picked by address. Advertisements are folded into a lock-free device table
// and streamed as events through an overwrite-oldest channel.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattwatch/internal/ringchan"
)

// DeviceFactory creates the host adapter; overridable in tests.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// FoundDevice is the accumulated view of one advertising peripheral.
type FoundDevice struct {
	mu sync.RWMutex

	address     string
	name        string
	rssi        int
	connectable bool
	services    []string
	firstSeen   time.Time
	lastSeen    time.Time
	advCount    int
}

func newFoundDevice(adv ble.Advertisement) *FoundDevice {
	now := time.Now()
	d := &FoundDevice{
		address:   adv.Addr().String(),
		firstSeen: now,
	}
	d.apply(adv, now)
	return d
}

func (d *FoundDevice) apply(adv ble.Advertisement, now time.Time) {
	if name := adv.LocalName(); name != "" {
		d.name = name
	}
	d.rssi = adv.RSSI()
	d.connectable = adv.Connectable()
	d.lastSeen = now
	d.advCount++

	svcs := adv.Services()
	if len(svcs) > 0 {
		seen := make(map[string]bool, len(d.services))
		for _, s := range d.services {
			seen[s] = true
		}
		for _, u := range svcs {
			if s := u.String(); !seen[s] {
				d.services = append(d.services, s)
				seen[s] = true
			}
		}
		sort.Strings(d.services)
	}
}

func (d *FoundDevice) update(adv ble.Advertisement) {
	d.mu.Lock()
	d.apply(adv, time.Now())
	d.mu.Unlock()
}

func (d *FoundDevice) Address() string { return d.address }

func (d *FoundDevice) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *FoundDevice) RSSI() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

func (d *FoundDevice) Connectable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connectable
}

func (d *FoundDevice) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.services))
	copy(out, d.services)
	return out
}

func (d *FoundDevice) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// DeviceEventType marks whether the device was newly discovered or updated.
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is one scan observation as delivered on Events().
type DeviceEvent struct {
	Type   DeviceEventType
	Device *FoundDevice
}

// ScanOptions configures scanning behavior.
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []ble.UUID
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE device discovery.
type Scanner struct {
	devices *hashmap.Map[string, *FoundDevice]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
	scanDevice  ble.Device
}

// NewScanner creates a BLE scanner.
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
	}, nil
}

// Scan performs BLE discovery with the provided options and returns the
// device table keyed by address. Runs until ctx expires or is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (map[string]*FoundDevice, error) {
	s.devices = hashmap.New[string, *FoundDevice]()

	if opts == nil {
		opts = DefaultScanOptions()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	s.scanDevice = dev

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err = s.scanDevice.Scan(scanCtx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	devices := make(map[string]*FoundDevice, s.devices.Len())
	s.devices.Range(func(key string, value *FoundDevice) bool {
		devices[key] = value
		return true
	})
	return devices, nil
}

// handleAdvertisement folds one advertisement into the device table.
func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	address := adv.Addr().String()

	dev, existing := s.devices.Get(address)
	if !existing {
		if !s.shouldIncludeDevice(adv, s.scanOptions) {
			return
		}
		dev, existing = s.devices.GetOrInsert(address, newFoundDevice(adv))
	}

	event := DeviceEvent{Device: dev}
	if existing {
		dev.update(adv)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name(),
			"address": dev.Address(),
			"rssi":    dev.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// shouldIncludeDevice applies allow/block/service filters.
func (s *Scanner) shouldIncludeDevice(adv ble.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr().String()

	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			for _, advUUID := range adv.Services() {
				if required.Equal(advUUID) {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}

// Events returns a read-only channel of device events.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
