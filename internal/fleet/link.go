package fleet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
)

// HeldLink is a session kept open across sends to one panel.
//
// mu is the link guard: it is held for the full duration of every connect,
// send and disconnect so two flows never drive the same radio link.
// connected is written only under mu and is the single source of truth for
// whether the link is worth using.
type HeldLink struct {
	address string
	name    string
	factory device.SessionFactory
	logger  *logrus.Logger

	mu        sync.Mutex
	session   device.DeviceSession
	connected atomic.Bool
	retired   bool // dropped from the pool, never reused
}

func newHeldLink(address, name string, factory device.SessionFactory, logger *logrus.Logger) *HeldLink {
	return &HeldLink{
		address: address,
		name:    name,
		factory: factory,
		logger:  logger,
	}
}

// Address returns the normalized panel address.
func (l *HeldLink) Address() string {
	return l.address
}

// Name returns the display name the link was created with.
func (l *HeldLink) Name() string {
	return l.name
}

// Connected reports whether the link currently believes itself connected.
// It does not wait for an in-flight operation.
func (l *HeldLink) Connected() bool {
	return l.connected.Load()
}

func (l *HeldLink) log() *logrus.Entry {
	return l.logger.WithFields(logrus.Fields{
		"address": l.address,
		"name":    l.name,
	})
}

// connectLocked opens a fresh session in this slot. Caller holds mu.
func (l *HeldLink) connectLocked(ctx context.Context, policy RetryPolicy) error {
	if l.retired {
		return device.ErrNotInitialized
	}
	l.dropSessionLocked()

	session := l.factory()
	res := runBounded(ctx, "held-link-connect", policy.Timeout, policy.AbandonGrace, func(ctx context.Context) error {
		return session.Connect(ctx, l.address, policy.Timeout)
	})
	if res.kind != attemptOK {
		if err := session.Disconnect(); err != nil {
			l.log().WithError(err).Debug("Failed to close session after failed connect")
		}
		l.log().WithField("error", res.message()).Warn("Held link connect failed")
		return fmt.Errorf("held link connect: %s", res.message())
	}

	l.session = session
	l.connected.Store(true)
	l.log().Info("Held link established")
	return nil
}

// send transmits payload over the held session under the guard. On any
// failure the link is invalidated and its session closed before the guard
// is released, so a fallback never races this link for the panel.
func (l *HeldLink) send(ctx context.Context, payload []byte, policy RetryPolicy) attemptResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.retired || !l.connected.Load() || l.session == nil {
		return attemptResult{kind: attemptFailed, err: device.ErrNotConnected}
	}

	session := l.session
	res := runBounded(ctx, "held-link-send", policy.Timeout, policy.AbandonGrace, func(ctx context.Context) error {
		if err := session.SendPayload(ctx, payload, policy.WriteDelay); err != nil {
			return err
		}
		sleep(ctx, policy.SettleDelay)
		return nil
	})
	if res.kind != attemptOK {
		l.log().WithField("error", res.message()).Warn("Held link send failed, invalidating")
		l.dropSessionLocked()
	}
	return res
}

// Invalidate marks the link disconnected and closes its session. The slot
// stays in the pool; the next acquisition reconnects it.
func (l *HeldLink) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropSessionLocked()
}

// close retires the link for good.
func (l *HeldLink) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retired = true
	l.dropSessionLocked()
	l.log().Debug("Held link closed")
}

// dropSessionLocked best-effort disconnects the current session. Caller holds mu.
func (l *HeldLink) dropSessionLocked() {
	l.connected.Store(false)
	if l.session == nil {
		return
	}
	if err := l.session.Disconnect(); err != nil {
		l.log().WithError(err).Debug("Ignoring disconnect error")
	}
	l.session = nil
}
