package fleet

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
)

// Coordinator sends payloads to many panels, strictly one after another.
//
// Targets are never addressed in parallel: the shared radio cannot sustain
// concurrent link setup. A failure on one panel never stops the others.
type Coordinator struct {
	executor     *Executor
	pool         *LinkPool
	notifier     *Notifier
	ownsNotifier bool
	logger       *logrus.Logger
}

// NewCoordinator validates policy and wires an executor over pool. pool may
// be nil to always use fresh sessions; observer may be nil.
func NewCoordinator(pool *LinkPool, factory device.SessionFactory, policy RetryPolicy, observer Observer, logger *logrus.Logger) (*Coordinator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	notifier := NewNotifier(observer, DefaultProgressBuffer, logger)
	return &Coordinator{
		executor:     NewExecutor(pool, factory, policy, notifier, logger),
		pool:         pool,
		notifier:     notifier,
		ownsNotifier: true,
		logger:       logger,
	}, nil
}

// WithPolicy returns a coordinator that shares this one's pool and progress
// observer but uses a different policy, e.g. a single quick attempt.
func (c *Coordinator) WithPolicy(policy RetryPolicy) (*Coordinator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		executor: NewExecutor(c.pool, c.executor.factory, policy, c.notifier, c.logger),
		pool:     c.pool,
		notifier: c.notifier,
		logger:   c.logger,
	}, nil
}

// Policy returns the coordinator's policy.
func (c *Coordinator) Policy() RetryPolicy {
	return c.executor.Policy()
}

// Pool returns the held link pool, nil when pooling is not wired.
func (c *Coordinator) Pool() *LinkPool {
	return c.pool
}

// SendToOne delivers one payload to one panel.
func (c *Coordinator) SendToOne(ctx context.Context, target Target) SendOutcome {
	return c.executor.Send(ctx, target)
}

// SendToMany delivers each target's payload in order and returns one outcome
// per target, in input order.
func (c *Coordinator) SendToMany(ctx context.Context, targets []Target) []SendOutcome {
	outcomes := make([]SendOutcome, 0, len(targets))
	okCount := 0
	for _, t := range targets {
		outcome := c.SendToOne(ctx, t)
		if outcome.Success {
			okCount++
		}
		outcomes = append(outcomes, outcome)
	}

	c.logger.WithFields(logrus.Fields{
		"targets":   len(targets),
		"succeeded": okCount,
		"failed":    len(targets) - okCount,
	}).Info("Fan-out complete")
	return outcomes
}

// SendSameToAll broadcasts one payload to every panel, in order.
func (c *Coordinator) SendSameToAll(ctx context.Context, panels []Panel, payload []byte) []SendOutcome {
	targets := make([]Target, len(panels))
	for i, p := range panels {
		targets[i] = Target{Address: p.Address, Name: p.Name, Payload: payload}
	}
	return c.SendToMany(ctx, targets)
}

// Drain disconnects every held link. Safe to call repeatedly.
func (c *Coordinator) Drain() {
	if c.pool != nil {
		c.pool.DrainAll()
	}
}

// Close flushes pending progress events. It does not drain the pool, which
// may outlive the coordinator.
func (c *Coordinator) Close() {
	if c.ownsNotifier {
		c.notifier.Close()
	}
}
