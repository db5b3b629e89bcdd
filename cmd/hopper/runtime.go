package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hopper/internal/device"
	goble "github.com/srg/hopper/internal/device/go-ble"
	"github.com/srg/hopper/internal/fleet"
	"github.com/srg/hopper/pkg/config"
)

// Radio hooks (can be overridden in tests)
var (
	newSessionFactory = func(opts goble.Options, logger *logrus.Logger) device.SessionFactory {
		return goble.NewSessionFactory(opts, logger)
	}
	newAdvertisementSource = goble.NewScanner
	releaseRadio           = goble.ReleaseDevice
)

// loadConfig reads the panel file named by --config and applies the
// command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	cfg.UpdateSettings(func(s *config.Settings) {
		if noPool, _ := flags.GetBool("no-pool"); noPool {
			s.UsePool = false
		}
		if flags.Changed("retries") {
			s.RetryCount, _ = flags.GetInt("retries")
		}
		if flags.Changed("timeout") {
			s.SendTimeout, _ = flags.GetDuration("timeout")
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fleetRuntime is the radio stack one command runs on.
type fleetRuntime struct {
	cfg    *config.Config
	logger *logrus.Logger
	coord  *fleet.Coordinator
}

// newRuntime wires a pool and coordinator over the go-ble session factory.
// observer may be nil.
func newRuntime(cfg *config.Config, observer fleet.Observer, logger *logrus.Logger) (*fleetRuntime, error) {
	s := cfg.Settings()
	policy := cfg.Policy()
	factory := newSessionFactory(goble.Options{
		ServiceUUID: s.ServiceUUID,
		WriteUUID:   s.WriteUUID,
		ChunkSize:   s.ChunkSize,
	}, logger)

	var pool *fleet.LinkPool
	if policy.UsePool {
		pool = fleet.NewLinkPool(policy, factory, logger)
	}
	coord, err := fleet.NewCoordinator(pool, factory, policy, observer, logger)
	if err != nil {
		return nil, err
	}
	return &fleetRuntime{cfg: cfg, logger: logger, coord: coord}, nil
}

// Close drains held links, flushes progress and releases the radio.
func (r *fleetRuntime) Close() {
	r.coord.Drain()
	r.coord.Close()
	if err := releaseRadio(); err != nil {
		r.logger.WithError(err).Debug("Ignoring radio release error")
	}
}
