package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
	"github.com/srg/hopper/internal/fleet"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file used when none is given.
const DefaultFile = "panels.yaml"

// Grid positions of the 2x2 panel wall.
const (
	TopLeft     = "top_left"
	TopRight    = "top_right"
	BottomLeft  = "bottom_left"
	BottomRight = "bottom_right"
)

// GridPositions lists the positions in reading order.
var GridPositions = []string{TopLeft, TopRight, BottomLeft, BottomRight}

// GridSendOrder is the order grid panels are addressed in. Starting with the
// bottom row has proven the most reliable on a shared radio.
var GridSendOrder = []string{BottomRight, BottomLeft, TopRight, TopLeft}

// Settings holds radio, server and logging settings
type Settings struct {
	ScanTimeout  time.Duration `yaml:"scan_timeout" default:"10s"`
	SendTimeout  time.Duration `yaml:"send_timeout" default:"30s"`
	SendDelay    time.Duration `yaml:"send_delay" default:"150ms"`
	PanelDelay   time.Duration `yaml:"panel_delay" default:"1500ms"`
	SettleDelay  time.Duration `yaml:"settle_delay" default:"500ms"`
	RetryCount   int           `yaml:"retry_count" default:"3"`
	PoolCapacity int           `yaml:"pool_capacity" default:"3"`
	UsePool      bool          `yaml:"use_pool" default:"true"`

	ServiceUUID string `yaml:"service_uuid" default:"fa00"`
	WriteUUID   string `yaml:"write_uuid" default:"fa02"`
	ChunkSize   int    `yaml:"chunk_size" default:"20"`

	ServerHost string `yaml:"server_host" default:"0.0.0.0"`
	ServerPort int    `yaml:"server_port" default:"8000"`

	LogLevel string `yaml:"log_level" default:"info"`
}

// Panel is one registered LED panel
type Panel struct {
	MAC          string `yaml:"mac"`
	Name         string `yaml:"name"`
	Enabled      bool   `yaml:"enabled" default:"true"`
	Order        int    `yaml:"order" default:"99"`
	GridPosition string `yaml:"grid_position,omitempty"`
	Notes        string `yaml:"notes,omitempty"`
}

// UnmarshalYAML applies field defaults before decoding so omitted keys keep
// their defaults rather than zero values.
func (p *Panel) UnmarshalYAML(value *yaml.Node) error {
	type plain Panel
	var raw plain
	defaults.SetDefaults(&raw)
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = Panel(raw)
	p.MAC = device.NormalizeAddress(p.MAC)
	return nil
}

// Grid maps each position of the 2x2 wall to a panel MAC
type Grid struct {
	TopLeft     string `yaml:"top_left,omitempty"`
	TopRight    string `yaml:"top_right,omitempty"`
	BottomLeft  string `yaml:"bottom_left,omitempty"`
	BottomRight string `yaml:"bottom_right,omitempty"`
}

func (g *Grid) slot(position string) (*string, bool) {
	switch position {
	case TopLeft:
		return &g.TopLeft, true
	case TopRight:
		return &g.TopRight, true
	case BottomLeft:
		return &g.BottomLeft, true
	case BottomRight:
		return &g.BottomRight, true
	default:
		return nil, false
	}
}

// At returns the MAC at position, "" when empty or unknown.
func (g Grid) At(position string) string {
	if s, ok := g.slot(position); ok {
		return *s
	}
	return ""
}

// fileConfig is the on-disk layout. Panels are a list so the file keeps
// the registry's order.
type fileConfig struct {
	Panels   []*Panel `yaml:"panels"`
	Grid     Grid     `yaml:"grid"`
	Settings Settings `yaml:"settings"`
}

// Config holds the panel registry and application settings. It is safe for
// concurrent use.
type Config struct {
	mu       sync.RWMutex
	path     string
	settings Settings
	grid     Grid
	panels   *orderedmap.OrderedMap[string, *Panel]
}

// ErrPanelNotFound is returned when a name or MAC matches no panel.
var ErrPanelNotFound = errors.New("panel not found")

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{
		path:   DefaultFile,
		panels: orderedmap.New[string, *Panel](),
	}
	defaults.SetDefaults(&c.settings)
	return c
}

// Load reads the config file at path. A missing file yields defaults bound
// to path, so a later Save creates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	c := DefaultConfig()
	c.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	fc := fileConfig{Settings: c.settings}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	c.settings = fc.Settings
	c.grid = normalizeGrid(fc.Grid)
	for _, p := range fc.Panels {
		if p == nil || p.MAC == "" {
			continue
		}
		if p.Name == "" {
			p.Name = defaultName(p.MAC)
		}
		p.GridPosition = ""
		c.panels.Set(p.MAC, p)
	}
	for _, pos := range GridPositions {
		if p, ok := c.panels.Get(c.grid.At(pos)); ok {
			p.GridPosition = pos
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	return c.SaveTo(c.Path())
}

// SaveTo writes the config to path atomically.
func (c *Config) SaveTo(path string) error {
	c.mu.RLock()
	fc := fileConfig{
		Panels:   make([]*Panel, 0, c.panels.Len()),
		Grid:     c.grid,
		Settings: c.settings,
	}
	for pair := c.panels.Oldest(); pair != nil; pair = pair.Next() {
		p := *pair.Value
		fc.Panels = append(fc.Panels, &p)
	}
	c.mu.RUnlock()

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".panels-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to save config %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save config %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save config %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save config %s: %w", path, err)
	}
	return nil
}

// Path returns the file the config is bound to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Settings returns a copy of the settings.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings applies fn to the settings under the config lock.
func (c *Config) UpdateSettings(fn func(s *Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.settings)
}

// Grid returns a copy of the grid assignment.
func (c *Config) Grid() Grid {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grid
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.settings
	var errs []error
	if s.RetryCount < 1 {
		errs = append(errs, fmt.Errorf("retry_count must be at least 1, got %d", s.RetryCount))
	}
	if s.PoolCapacity < 0 {
		errs = append(errs, fmt.Errorf("pool_capacity must not be negative, got %d", s.PoolCapacity))
	}
	if s.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("send_timeout must be positive, got %v", s.SendTimeout))
	}
	if s.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must be positive, got %v", s.ScanTimeout))
	}
	if s.SendDelay < 0 || s.PanelDelay < 0 || s.SettleDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if s.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk_size must be at least 1, got %d", s.ChunkSize))
	}
	if s.ServerPort < 1 || s.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server_port out of range: %d", s.ServerPort))
	}
	if _, err := device.ValidateUUID(s.ServiceUUID, s.WriteUUID); err != nil {
		errs = append(errs, fmt.Errorf("service_uuid/write_uuid: %w", err))
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for _, pos := range GridPositions {
		mac := c.grid.At(pos)
		if mac == "" {
			continue
		}
		if _, ok := c.panels.Get(mac); !ok {
			errs = append(errs, fmt.Errorf("grid %s refers to unknown panel %s", pos, mac))
		}
	}
	return errors.Join(errs...)
}

// Policy converts the radio settings into a fleet retry policy.
func (c *Config) Policy() fleet.RetryPolicy {
	s := c.Settings()
	p := fleet.DefaultPolicy()
	p.Timeout = s.SendTimeout
	p.Retries = s.RetryCount
	p.WriteDelay = s.SendDelay
	p.PanelDelay = s.PanelDelay
	p.SettleDelay = s.SettleDelay
	p.PoolCapacity = s.PoolCapacity
	p.UsePool = s.UsePool
	return p
}

// ServerAddr returns host:port for the HTTP front end.
func (c *Config) ServerAddr() string {
	s := c.Settings()
	return fmt.Sprintf("%s:%d", s.ServerHost, s.ServerPort)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.Settings().LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Panels returns every panel in registry order.
func (c *Config) Panels() []Panel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Panel, 0, c.panels.Len())
	for pair := c.panels.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, *pair.Value)
	}
	return result
}

// PanelByName finds a panel by name, case-insensitively.
func (c *Config) PanelByName(name string) (Panel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for pair := c.panels.Oldest(); pair != nil; pair = pair.Next() {
		if strings.EqualFold(pair.Value.Name, name) {
			return *pair.Value, true
		}
	}
	return Panel{}, false
}

// PanelByAddress finds a panel by MAC.
func (c *Config) PanelByAddress(mac string) (Panel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.panels.Get(device.NormalizeAddress(mac)); ok {
		return *p, true
	}
	return Panel{}, false
}

// Lookup finds a panel by MAC, then by name.
func (c *Config) Lookup(ref string) (Panel, error) {
	if p, ok := c.PanelByAddress(ref); ok {
		return p, nil
	}
	if p, ok := c.PanelByName(ref); ok {
		return p, nil
	}
	return Panel{}, fmt.Errorf("%w: %s", ErrPanelNotFound, ref)
}

// EnabledPanels returns enabled panels sorted by order, registry order
// breaking ties.
func (c *Config) EnabledPanels() []Panel {
	var enabled []Panel
	for _, p := range c.Panels() {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Order < enabled[j].Order
	})
	return enabled
}

// GridPanels returns the assigned grid panels keyed by position.
func (c *Config) GridPanels() map[string]Panel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]Panel, len(GridPositions))
	for _, pos := range GridPositions {
		mac := c.grid.At(pos)
		if mac == "" {
			continue
		}
		if p, ok := c.panels.Get(mac); ok {
			result[pos] = *p
		}
	}
	return result
}

// AddPanel registers a panel, or renames it when the MAC is known.
func (c *Config) AddPanel(mac, name string) Panel {
	c.mu.Lock()
	defer c.mu.Unlock()

	mac = device.NormalizeAddress(mac)
	if name == "" {
		name = defaultName(mac)
	}
	if p, ok := c.panels.Get(mac); ok {
		p.Name = name
		return *p
	}

	p := &Panel{MAC: mac, Name: name}
	defaults.SetDefaults(p)
	c.panels.Set(mac, p)
	return *p
}

// RemovePanel drops a panel and clears any grid slot it held.
func (c *Config) RemovePanel(mac string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	mac = device.NormalizeAddress(mac)
	if _, ok := c.panels.Delete(mac); !ok {
		return false
	}
	for _, pos := range GridPositions {
		if s, _ := c.grid.slot(pos); *s == mac {
			*s = ""
		}
	}
	return true
}

// SetEnabled enables or disables the panel ref names.
func (c *Config) SetEnabled(ref string, enabled bool) (Panel, error) {
	return c.update(ref, func(p *Panel) error {
		p.Enabled = enabled
		return nil
	})
}

// Toggle flips the enabled flag of the panel ref names.
func (c *Config) Toggle(ref string) (Panel, error) {
	return c.update(ref, func(p *Panel) error {
		p.Enabled = !p.Enabled
		return nil
	})
}

// Rename gives the panel ref names a new display name.
func (c *Config) Rename(ref, name string) (Panel, error) {
	name = strings.TrimSpace(name)
	return c.update(ref, func(p *Panel) error {
		if name == "" {
			return errors.New("name must not be empty")
		}
		p.Name = name
		return nil
	})
}

// SetOrder sets the send order of the panel ref names.
func (c *Config) SetOrder(ref string, order int) (Panel, error) {
	return c.update(ref, func(p *Panel) error {
		p.Order = order
		return nil
	})
}

// SetGrid assigns the panel ref names to position. An empty ref clears it.
func (c *Config) SetGrid(position, ref string) error {
	var mac string
	if ref != "" {
		p, err := c.Lookup(ref)
		if err != nil {
			return err
		}
		mac = p.MAC
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.grid.slot(position)
	if !ok {
		return fmt.Errorf("unknown grid position %q (want one of %s)", position, strings.Join(GridPositions, ", "))
	}
	if old := *s; old != "" {
		if p, ok := c.panels.Get(old); ok {
			p.GridPosition = ""
		}
	}
	*s = mac
	if p, ok := c.panels.Get(mac); ok {
		p.GridPosition = position
	}
	return nil
}

func (c *Config) update(ref string, fn func(p *Panel) error) (Panel, error) {
	found, err := c.Lookup(ref)
	if err != nil {
		return Panel{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.panels.Get(found.MAC)
	if !ok {
		return Panel{}, fmt.Errorf("%w: %s", ErrPanelNotFound, ref)
	}
	if err := fn(p); err != nil {
		return Panel{}, err
	}
	return *p, nil
}

func normalizeGrid(g Grid) Grid {
	return Grid{
		TopLeft:     device.NormalizeAddress(g.TopLeft),
		TopRight:    device.NormalizeAddress(g.TopRight),
		BottomLeft:  device.NormalizeAddress(g.BottomLeft),
		BottomRight: device.NormalizeAddress(g.BottomRight),
	}
}

// defaultName derives a display name from the MAC tail, e.g. "Panel EE:01".
func defaultName(mac string) string {
	if len(mac) > 5 {
		return "Panel " + mac[len(mac)-5:]
	}
	return "Panel " + mac
}
