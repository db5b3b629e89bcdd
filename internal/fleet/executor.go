package fleet

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
)

// Executor delivers one payload to one panel: held link first, then up to
// Retries fresh sessions, each bounded by Timeout and followed by PanelDelay.
type Executor struct {
	pool     *LinkPool
	factory  device.SessionFactory
	policy   RetryPolicy
	notifier *Notifier
	logger   *logrus.Logger
}

// NewExecutor creates an executor. pool may be nil, which disables the held
// link path regardless of policy.UsePool.
func NewExecutor(pool *LinkPool, factory device.SessionFactory, policy RetryPolicy, notifier *Notifier, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{
		pool:     pool,
		factory:  factory,
		policy:   policy,
		notifier: notifier,
		logger:   logger,
	}
}

// Policy returns the executor's policy.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Send delivers target.Payload to target.Address and returns exactly one
// outcome. It never panics on radio failures and never returns early
// without the inter-panel pause.
func (e *Executor) Send(ctx context.Context, target Target) SendOutcome {
	address := device.NormalizeAddress(target.Address)
	name := target.Name
	if name == "" {
		name = address
	}
	log := e.logger.WithFields(logrus.Fields{"address": address, "name": name})

	if e.policy.UsePool && e.pool != nil {
		if e.sendHeld(ctx, log, address, name, target.Payload) {
			sleep(ctx, e.policy.PanelDelay)
			return succeeded(address)
		}
	}

	return e.sendFresh(ctx, log, address, target.Payload)
}

// sendHeld tries the held link fast path. Reports whether the payload was
// delivered; any failure has already invalidated the link.
func (e *Executor) sendHeld(ctx context.Context, log *logrus.Entry, address, name string, payload []byte) bool {
	link, ok := e.pool.Acquire(ctx, address, name)
	if !ok {
		log.Debug("No held link available, using fresh connection")
		return false
	}

	log.Info("Using held link")
	e.notifier.Notify(address, PhaseSending, false)

	res := link.send(ctx, payload, e.policy)
	if res.kind != attemptOK {
		log.WithField("error", res.message()).Warn("Held link send failed, trying fresh connection")
		return false
	}

	log.Info("Panel send succeeded")
	e.notifier.Notify(address, PhaseSuccess, true)
	return true
}

// sendFresh runs the retry loop over fresh, unpooled sessions.
func (e *Executor) sendFresh(ctx context.Context, log *logrus.Entry, address string, payload []byte) SendOutcome {
	retries := e.policy.Retries
	for attempt := 1; attempt <= retries; attempt++ {
		alog := log.WithFields(logrus.Fields{"attempt": attempt, "retries": retries})
		if attempt > 1 {
			alog.Info("Retrying")
		} else {
			alog.Info("Connecting")
		}
		e.notifier.Notify(address, PhaseConnecting, false)

		res := e.attempt(ctx, address, payload)
		sleep(ctx, e.policy.PanelDelay)

		last := attempt == retries || ctx.Err() != nil
		switch res.kind {
		case attemptOK:
			alog.Info("Panel send succeeded")
			e.notifier.Notify(address, PhaseSuccess, true)
			return succeeded(address)
		case attemptTimeout:
			alog.Error("Send attempt timed out")
			if last {
				e.notifier.Notify(address, PhaseTimeout, true)
				return failed(address, MessageTimeout)
			}
		default:
			alog.WithField("error", res.message()).Error("Send attempt failed")
			if last {
				e.notifier.Notify(address, PhaseError(res.message()), true)
				return failed(address, res.message())
			}
		}
	}

	// Unreachable with a validated policy.
	return failed(address, fmt.Sprintf("max retries exceeded (%d)", retries))
}

// attempt performs one connect+send+settle on a fresh session and always
// closes that session before returning.
func (e *Executor) attempt(ctx context.Context, address string, payload []byte) attemptResult {
	session := e.factory()
	defer func() {
		if err := session.Disconnect(); err != nil {
			e.logger.WithField("address", address).WithError(err).Debug("Ignoring disconnect error")
		}
	}()

	return runBounded(ctx, "send-attempt", e.policy.Timeout, e.policy.AbandonGrace, func(actx context.Context) error {
		if err := session.Connect(actx, address, e.policy.Timeout); err != nil {
			return err
		}
		if actx.Err() == nil {
			e.notifier.Notify(address, PhaseSending, false)
		}
		if err := session.SendPayload(actx, payload, e.policy.WriteDelay); err != nil {
			return err
		}
		sleep(actx, e.policy.SettleDelay)
		return nil
	})
}
