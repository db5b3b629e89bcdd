package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
	"github.com/srg/hopper/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Scan phases reported to a ProgressCallback
const (
	PhaseScanning   = "Scanning"
	PhaseProcessing = "Processing results"
)

// PanelEventType marks if the panel was newly discovered or updated
type PanelEventType int

const (
	EventNew PanelEventType = iota
	EventUpdated
)

// PanelEvent is emitted for every accepted advertisement, while the scan runs.
type PanelEvent struct {
	Type  PanelEventType
	Panel DiscoveredPanel
}

// DiscoveredPanel is one LED panel heard during a scan.
type DiscoveredPanel struct {
	Address  string    `json:"address"`
	Name     string    `json:"name"`
	RSSI     int       `json:"rssi"`
	LastSeen time.Time `json:"last_seen"`
}

// Scanner handles LED panel discovery
type Scanner struct {
	source device.Scanner
	panels *hashmap.Map[string, DiscoveredPanel]
	events *ringchan.Ring[PanelEvent]
	logger *logrus.Logger

	scanOptions *ScanOptions
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	NamePrefix      string
	DuplicateFilter bool
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		NamePrefix:      device.PanelNamePrefix,
		DuplicateFilter: true,
	}
}

// NewScanner creates a scanner reading advertisements from source
func NewScanner(source device.Scanner, logger *logrus.Logger) (*Scanner, error) {
	if source == nil {
		return nil, fmt.Errorf("advertisement source is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		source: source,
		panels: hashmap.New[string, DiscoveredPanel](),
		events: ringchan.New[PanelEvent](100),
		logger: logger,
	}, nil
}

// Scan listens for panels for opts.Duration (or until ctx ends) and returns
// them sorted by name, then address. Running out of time is not an error.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]DiscoveredPanel, error) {
	s.panels = hashmap.New[string, DiscoveredPanel]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"prefix":   opts.NamePrefix,
	}).Info("Starting panel scan...")

	progressCallback(PhaseScanning)

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err := s.source.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progressCallback(PhaseProcessing)

	panels := make([]DiscoveredPanel, 0, s.panels.Len())
	s.panels.Range(func(_ string, p DiscoveredPanel) bool {
		panels = append(panels, p)
		return true
	})
	sort.Slice(panels, func(i, j int) bool {
		if panels[i].Name != panels[j].Name {
			return panels[i].Name < panels[j].Name
		}
		return panels[i].Address < panels[j].Address
	})

	if len(panels) == 0 {
		s.logger.Warn("No LED panels found during scan")
	} else {
		s.logger.WithField("panel_count", len(panels)).Info("Panel scan completed")
	}
	return panels, nil
}

// handleAdvertisement updates existing or adds a new panel
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	address := device.NormalizeAddress(adv.Address)
	if address == "" {
		return
	}

	prev, existing := s.panels.Get(address)
	if !existing && !s.shouldInclude(address, adv.Name, s.scanOptions) {
		return
	}

	panel := DiscoveredPanel{
		Address:  address,
		Name:     adv.Name,
		RSSI:     adv.RSSI,
		LastSeen: time.Now(),
	}
	// Scan responses without a local name must not erase a known one.
	if panel.Name == "" {
		panel.Name = prev.Name
	}
	s.panels.Set(address, panel)

	event := PanelEvent{Panel: panel, Type: EventUpdated}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"name":    panel.Name,
			"address": panel.Address,
			"rssi":    panel.RSSI,
		}).Info("Found panel")
		event.Type = EventNew
	}

	s.events.ForceSend(event)
}

// shouldInclude applies the name prefix and allow/block filters
func (s *Scanner) shouldInclude(address, name string, opts *ScanOptions) bool {
	if opts == nil {
		return false
	}
	if opts.NamePrefix != "" && !strings.HasPrefix(name, opts.NamePrefix) {
		return false
	}

	for _, blocked := range opts.BlockList {
		if address == device.NormalizeAddress(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		for _, a := range opts.AllowList {
			if address == device.NormalizeAddress(a) {
				return true
			}
		}
		return false
	}

	return true
}

// Events returns a read-only channel of panel events. The buffer keeps the
// newest events when nobody reads it.
func (s *Scanner) Events() <-chan PanelEvent {
	return s.events.C()
}
