package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
	"github.com/srg/hopper/internal/groutine"
)

const (
	// DefaultServiceUUID is the panel's vendor GATT service.
	DefaultServiceUUID = "fa00"

	// DefaultWriteUUID is the characteristic panel frames are written to.
	DefaultWriteUUID = "fa02"

	// DefaultWriteChunkSize is the maximum number of bytes to write in a single BLE operation.
	// BLE 4.0/4.1 spec defines ATT_MTU of 23 bytes (20 bytes payload after ATT header overhead).
	DefaultWriteChunkSize = 20
)

// Options selects the GATT characteristic payloads are written to.
type Options struct {
	ServiceUUID string
	WriteUUID   string
	ChunkSize   int
}

// DefaultOptions returns options for stock LED_BLE_ panels.
func DefaultOptions() Options {
	return Options{
		ServiceUUID: DefaultServiceUUID,
		WriteUUID:   DefaultWriteUUID,
		ChunkSize:   DefaultWriteChunkSize,
	}
}

// gattClient is the part of ble.Client a session drives.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// dialer opens a GATT client to address.
type dialer func(ctx context.Context, address string) (gattClient, error)

func dialHost(ctx context.Context, address string) (gattClient, error) {
	dev, err := hostDevice()
	if err != nil {
		return nil, err
	}
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Session is a device.DeviceSession over one go-ble GATT client.
type Session struct {
	opts   Options
	dial   dialer
	logger *logrus.Logger

	mu           sync.Mutex
	address      string
	client       gattClient
	char         *ble.Characteristic
	noRsp        bool
	disconnected <-chan struct{}
	cancel       context.CancelFunc
	abortDial    context.CancelFunc
	closed       bool
}

// NewSession creates an unconnected session that dials through the shared
// host device.
func NewSession(opts Options, logger *logrus.Logger) *Session {
	return newSession(opts, dialHost, logger)
}

func newSession(opts Options, dial dialer, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = DefaultServiceUUID
	}
	if opts.WriteUUID == "" {
		opts.WriteUUID = DefaultWriteUUID
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultWriteChunkSize
	}
	return &Session{opts: opts, dial: dial, logger: logger}
}

// NewSessionFactory returns a factory producing go-ble sessions.
func NewSessionFactory(opts Options, logger *logrus.Logger) device.SessionFactory {
	return func() device.DeviceSession {
		return NewSession(opts, logger)
	}
}

// Connect dials the panel, discovers its profile and locates the write
// characteristic.
func (s *Session) Connect(ctx context.Context, address string, timeout time.Duration) error {
	address = device.NormalizeAddress(address)
	if address == "" {
		s.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return device.ErrNotInitialized
	}
	if s.client != nil {
		s.mu.Unlock()
		s.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.address = address
	s.abortDial = cancel
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	})
	log.Debug("Dialing panel...")

	client, err := s.dial(connCtx, address)

	s.mu.Lock()
	s.abortDial = nil
	aborted := s.closed
	s.mu.Unlock()

	if err != nil {
		if aborted {
			return fmt.Errorf("connect to %q aborted: %w", address, device.ErrNotConnected)
		}
		if connCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to connect to device with address %q: %w", address, device.ErrTimeout)
		}
		return fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	char, noRsp, err := s.findWriteCharacteristic(client)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return err
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		// Disconnect ran while dialing; nobody will close this client later.
		s.mu.Unlock()
		stopMonitor()
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Debug("Failed to cancel connection of an abandoned session")
		}
		return device.ErrNotConnected
	}
	s.client = client
	s.char = char
	s.noRsp = noRsp
	s.disconnected = client.Disconnected()
	s.cancel = stopMonitor
	s.mu.Unlock()

	groutine.Go(monitorCtx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			s.logger.WithField("address", address).Warn("Panel dropped the connection")
		case <-ctx.Done():
		}
	})

	log.WithField("write_without_response", noRsp).Info("Panel connected")
	return nil
}

// findWriteCharacteristic discovers the profile and returns the configured
// write characteristic. It prefers write-without-response when offered.
func (s *Session) findWriteCharacteristic(client gattClient) (*ble.Characteristic, bool, error) {
	serviceUUID, err := ble.Parse(s.opts.ServiceUUID)
	if err != nil {
		return nil, false, fmt.Errorf("invalid service UUID %q: %w", s.opts.ServiceUUID, err)
	}
	writeUUID, err := ble.Parse(s.opts.WriteUUID)
	if err != nil {
		return nil, false, fmt.Errorf("invalid write characteristic UUID %q: %w", s.opts.WriteUUID, err)
	}
	wantService, wantWrite := shortUUID(serviceUUID), shortUUID(writeUUID)

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, false, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	for _, svc := range profile.Services {
		if shortUUID(svc.UUID) != wantService {
			continue
		}
		for _, c := range svc.Characteristics {
			if shortUUID(c.UUID) != wantWrite {
				continue
			}
			switch {
			case c.Property&ble.CharWriteNR != 0:
				return c, true, nil
			case c.Property&ble.CharWrite != 0:
				return c, false, nil
			default:
				return nil, false, fmt.Errorf("characteristic %s is not writable", s.opts.WriteUUID)
			}
		}
	}
	return nil, false, fmt.Errorf("characteristic %s not found in service %s", s.opts.WriteUUID, s.opts.ServiceUUID)
}

// SendPayload writes payload in chunks, pausing writeDelay between them.
func (s *Session) SendPayload(ctx context.Context, payload []byte, writeDelay time.Duration) error {
	s.mu.Lock()
	client, char, noRsp, disconnected := s.client, s.char, s.noRsp, s.disconnected
	s.mu.Unlock()

	if client == nil {
		return device.ErrNotConnected
	}

	chunks := 0
	for len(payload) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-disconnected:
			return device.ErrNotConnected
		default:
		}

		n := min(len(payload), s.opts.ChunkSize)
		if err := client.WriteCharacteristic(char, payload[:n], noRsp); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", chunks, NormalizeError(err))
		}
		payload = payload[n:]
		chunks++

		if len(payload) > 0 && writeDelay > 0 {
			t := time.NewTimer(writeDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"chunks":  chunks,
	}).Debug("Payload written")
	return nil
}

// Disconnect cancels the connection, or the dial when Connect is still in
// progress. Idempotent. A session is single use: once disconnected it cannot
// connect again.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	client, stopMonitor, abortDial, address := s.client, s.cancel, s.abortDial, s.address
	s.closed = true
	s.client = nil
	s.char = nil
	s.cancel = nil
	s.abortDial = nil
	s.mu.Unlock()

	if abortDial != nil {
		abortDial()
	}
	if client == nil {
		return nil
	}
	if stopMonitor != nil {
		stopMonitor()
	}

	err := client.CancelConnection()
	if err != nil && !isAlreadyGone(err) {
		s.logger.WithField("address", address).WithError(err).Warn("Panel disconnected with errors")
		return NormalizeError(err)
	}
	s.logger.WithField("address", address).Debug("Panel disconnected")
	return nil
}

// shortUUID returns u in the form device.NormalizeUUID produces.
func shortUUID(u ble.UUID) string {
	return device.NormalizeUUID(u.String())
}

func isAlreadyGone(err error) bool {
	return errors.Is(NormalizeError(err), device.ErrNotConnected) ||
		strings.Contains(strings.ToLower(err.Error()), "unknown connection")
}
