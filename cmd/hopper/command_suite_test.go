package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
	goble "github.com/srg/hopper/internal/device/go-ble"
	"github.com/srg/hopper/internal/testutils"
	"github.com/srg/hopper/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test panel addresses
const (
	TestPanelAddress1 = "AA:BB:CC:DD:EE:01"
	TestPanelAddress2 = "AA:BB:CC:DD:EE:02"
	TestPanelAddress3 = "AA:BB:CC:DD:EE:03"
)

const testPanelsYAML = `
panels:
  - mac: AA:BB:CC:DD:EE:01
    name: Kitchen
    order: 1
  - mac: AA:BB:CC:DD:EE:02
    name: Hallway
    order: 2
  - mac: AA:BB:CC:DD:EE:03
    name: Office
    enabled: false
grid:
  top_left: AA:BB:CC:DD:EE:01
  bottom_right: AA:BB:CC:DD:EE:02
settings:
  send_timeout: 100ms
  send_delay: 0s
  panel_delay: 1ms
  settle_delay: 1ms
  retry_count: 2
`

// fakeAdvertisements replays a fixed set of advertisements.
// With block set it then listens until ctx ends, like a real radio.
type fakeAdvertisements struct {
	adverts []device.Advertisement
	err     error
	block   bool
}

func (f *fakeAdvertisements) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	for _, adv := range f.adverts {
		handler(adv)
	}
	if f.err == nil && f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

// CommandTestSuite runs hopper commands against a fake radio and a
// temporary panel file.
type CommandTestSuite struct {
	suite.Suite

	fake       *testutils.FakeFactory
	adverts    *fakeAdvertisements
	configPath string

	restore func()
}

func (s *CommandTestSuite) SetupTest() {
	s.fake = testutils.NewFakeFactory()
	s.adverts = &fakeAdvertisements{}

	dir := s.T().TempDir()
	s.configPath = filepath.Join(dir, "panels.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(testPanelsYAML), 0o644))

	origFactory, origSource, origRelease := newSessionFactory, newAdvertisementSource, releaseRadio
	newSessionFactory = func(goble.Options, *logrus.Logger) device.SessionFactory {
		return s.fake.Factory()
	}
	newAdvertisementSource = func() (device.Scanner, error) {
		return s.adverts, nil
	}
	releaseRadio = func() error { return nil }
	s.restore = func() {
		newSessionFactory, newAdvertisementSource, releaseRadio = origFactory, origSource, origRelease
	}
}

func (s *CommandTestSuite) TearDownTest() {
	s.restore()
}

// ExecuteCommand runs hopper with args against the suite's panel file and
// returns combined output.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", s.configPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

// LoadConfig reads the suite's panel file back.
func (s *CommandTestSuite) LoadConfig() *config.Config {
	cfg, err := config.Load(s.configPath)
	s.Require().NoError(err, "panel file MUST stay loadable")
	return cfg
}

// WritePayload writes a payload file and returns its path.
func (s *CommandTestSuite) WritePayload(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
	return path
}
