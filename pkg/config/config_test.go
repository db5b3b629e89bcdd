package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
panels:
  - mac: aa:bb:cc:dd:ee:01
    name: Kitchen
    order: 2
  - mac: AA:BB:CC:DD:EE:02
    name: Hallway
    enabled: false
  - mac: AA:BB:CC:DD:EE:03
    name: Office
    order: 1
    notes: above the desk
grid:
  top_left: aa:bb:cc:dd:ee:03
  bottom_right: AA:BB:CC:DD:EE:01
settings:
  send_timeout: 10s
  retry_count: 5
  server_port: 9000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "panels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.Settings()

	assert.NotNil(t, cfg)
	assert.Equal(t, DefaultFile, cfg.Path())
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, 10*time.Second, s.ScanTimeout)
	assert.Equal(t, 30*time.Second, s.SendTimeout)
	assert.Equal(t, 150*time.Millisecond, s.SendDelay)
	assert.Equal(t, 1500*time.Millisecond, s.PanelDelay)
	assert.Equal(t, 500*time.Millisecond, s.SettleDelay)
	assert.Equal(t, 3, s.RetryCount)
	assert.Equal(t, 3, s.PoolCapacity)
	assert.True(t, s.UsePool)
	assert.Equal(t, "fa00", s.ServiceUUID)
	assert.Equal(t, "fa02", s.WriteUUID)
	assert.Equal(t, 20, s.ChunkSize)
	assert.Equal(t, "0.0.0.0:8000", cfg.ServerAddr())
	assert.Empty(t, cfg.Panels())
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err, "MUST load a valid file")

	panels := cfg.Panels()
	require.Len(t, panels, 3)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", panels[0].MAC, "MAC MUST be normalized")
	assert.Equal(t, "Hallway", panels[1].Name, "MUST keep file order")
	assert.True(t, panels[0].Enabled, "enabled MUST default to true")
	assert.False(t, panels[1].Enabled)
	assert.Equal(t, 99, panels[1].Order, "order MUST default to 99")
	assert.Equal(t, "above the desk", panels[2].Notes)
	assert.Equal(t, TopLeft, panels[2].GridPosition, "grid position MUST follow the grid section")

	s := cfg.Settings()
	assert.Equal(t, 10*time.Second, s.SendTimeout)
	assert.Equal(t, 5, s.RetryCount)
	assert.Equal(t, 150*time.Millisecond, s.SendDelay, "omitted settings MUST keep defaults")
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddr())
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path)

	require.NoError(t, err, "missing file MUST yield defaults")
	assert.Equal(t, path, cfg.Path())
	assert.Empty(t, cfg.Panels())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed yaml", content: "panels: [", wantErr: "failed to parse"},
		{name: "bad retry count", content: "settings:\n  retry_count: 0\n", wantErr: "retry_count"},
		{name: "bad log level", content: "settings:\n  log_level: loud\n", wantErr: "log_level"},
		{name: "bad write uuid", content: "settings:\n  write_uuid: zz02\n", wantErr: "write_uuid"},
		{name: "grid refers to unknown panel", content: "grid:\n  top_left: 11:22:33:44:55:66\n", wantErr: "unknown panel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	cfg.AddPanel("aa:bb:cc:dd:ee:04", "")
	require.NoError(t, cfg.Save())

	reloaded, err := Load(cfg.Path())
	require.NoError(t, err, "saved file MUST load")

	assert.Equal(t, cfg.Panels(), reloaded.Panels(), "panels MUST survive a save")
	assert.Equal(t, cfg.Grid(), reloaded.Grid())
	assert.Equal(t, cfg.Settings(), reloaded.Settings())
}

func TestConfig_Lookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	byName, err := cfg.Lookup("kitchen")
	require.NoError(t, err, "name lookup MUST be case-insensitive")
	assert.Equal(t, "AA:BB:CC:DD:EE:01", byName.MAC)

	byMAC, err := cfg.Lookup("aa:bb:cc:dd:ee:02")
	require.NoError(t, err)
	assert.Equal(t, "Hallway", byMAC.Name)

	_, err = cfg.Lookup("garage")
	assert.ErrorIs(t, err, ErrPanelNotFound)
}

func TestConfig_EnabledPanels(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	enabled := cfg.EnabledPanels()

	require.Len(t, enabled, 2, "disabled panels MUST be skipped")
	assert.Equal(t, "Office", enabled[0].Name, "MUST sort by order")
	assert.Equal(t, "Kitchen", enabled[1].Name)
}

func TestConfig_GridPanels(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	grid := cfg.GridPanels()

	assert.Len(t, grid, 2)
	assert.Equal(t, "Office", grid[TopLeft].Name)
	assert.Equal(t, "Kitchen", grid[BottomRight].Name)
	assert.Equal(t, []string{BottomRight, BottomLeft, TopRight, TopLeft}, GridSendOrder)
}

func TestConfig_PanelEdits(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("add assigns defaults", func(t *testing.T) {
		p := cfg.AddPanel("aa:bb:cc:dd:ee:01", "")
		assert.Equal(t, "AA:BB:CC:DD:EE:01", p.MAC)
		assert.Equal(t, "Panel EE:01", p.Name)
		assert.True(t, p.Enabled)
		assert.Equal(t, 99, p.Order)
	})

	t.Run("add existing renames", func(t *testing.T) {
		p := cfg.AddPanel("AA:BB:CC:DD:EE:01", "Desk")
		assert.Equal(t, "Desk", p.Name)
		assert.Len(t, cfg.Panels(), 1, "MUST not duplicate a panel")
	})

	t.Run("disable and enable", func(t *testing.T) {
		p, err := cfg.SetEnabled("desk", false)
		require.NoError(t, err)
		assert.False(t, p.Enabled)
		assert.Empty(t, cfg.EnabledPanels())

		_, err = cfg.SetEnabled("desk", true)
		require.NoError(t, err)
		assert.Len(t, cfg.EnabledPanels(), 1)
	})

	t.Run("toggle", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = cfg.Toggle("desk")
			}()
		}
		wg.Wait()
		assert.Len(t, cfg.EnabledPanels(), 1, "an even number of toggles MUST restore the state")

		p, err := cfg.Toggle("desk")
		require.NoError(t, err)
		assert.False(t, p.Enabled)
		_, err = cfg.Toggle("desk")
		require.NoError(t, err)

		_, err = cfg.Toggle("garage")
		assert.ErrorIs(t, err, ErrPanelNotFound)
	})

	t.Run("rename", func(t *testing.T) {
		_, err := cfg.Rename("desk", "  ")
		assert.Error(t, err, "MUST reject an empty name")

		p, err := cfg.Rename("desk", "Window")
		require.NoError(t, err)
		assert.Equal(t, "Window", p.Name)
	})

	t.Run("set order", func(t *testing.T) {
		p, err := cfg.SetOrder("window", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Order)
	})

	t.Run("grid assignment", func(t *testing.T) {
		require.NoError(t, cfg.SetGrid(TopRight, "window"))
		assert.Equal(t, "AA:BB:CC:DD:EE:01", cfg.Grid().TopRight)

		p, _ := cfg.PanelByAddress("AA:BB:CC:DD:EE:01")
		assert.Equal(t, TopRight, p.GridPosition)

		assert.Error(t, cfg.SetGrid("middle", "window"), "MUST reject an unknown position")
		assert.ErrorIs(t, cfg.SetGrid(TopLeft, "garage"), ErrPanelNotFound)
	})

	t.Run("remove clears grid", func(t *testing.T) {
		assert.True(t, cfg.RemovePanel("aa:bb:cc:dd:ee:01"))
		assert.False(t, cfg.RemovePanel("aa:bb:cc:dd:ee:01"), "second remove MUST report nothing removed")
		assert.Empty(t, cfg.Grid().TopRight, "MUST clear the grid slot")
		assert.Empty(t, cfg.Panels())
	})
}

func TestConfig_Policy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateSettings(func(s *Settings) {
		s.RetryCount = 5
		s.SendTimeout = 12 * time.Second
		s.UsePool = false
	})

	p := cfg.Policy()

	assert.Equal(t, 5, p.Retries)
	assert.Equal(t, 12*time.Second, p.Timeout)
	assert.Equal(t, 150*time.Millisecond, p.WriteDelay)
	assert.Equal(t, 1500*time.Millisecond, p.PanelDelay)
	assert.Equal(t, 500*time.Millisecond, p.SettleDelay)
	assert.Equal(t, time.Second, p.AbandonGrace)
	assert.False(t, p.UsePool)
	assert.NoError(t, p.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "unknown level falls back to info", logLevel: "loud", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.UpdateSettings(func(s *Settings) { s.LogLevel = tt.logLevel })

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
