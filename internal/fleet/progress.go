package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/groutine"
	"github.com/srg/hopper/internal/ringchan"
)

// Progress phases reported to an Observer.
const (
	PhaseConnecting = "connecting"
	PhaseSending    = "sending"
	PhaseSuccess    = "success"
	PhaseTimeout    = "timeout"

	phaseErrorPrefix = "error: "
)

// PhaseError returns the phase label for a terminal failure.
func PhaseError(detail string) string {
	return phaseErrorPrefix + detail
}

// DefaultProgressBuffer is the number of undelivered progress events kept
// before the oldest ones are dropped.
const DefaultProgressBuffer = 64

// Observer receives live progress of panel sends.
// final is true for the last event of one panel send.
type Observer interface {
	Progress(address, phase string, final bool)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(address, phase string, final bool)

// Progress calls f.
func (f ObserverFunc) Progress(address, phase string, final bool) {
	f(address, phase, final)
}

// Event is one progress notification.
type Event struct {
	Address string    `json:"address"`
	Phase   string    `json:"phase"`
	Final   bool      `json:"final"`
	Time    time.Time `json:"time"`
}

// Notifier delivers progress events to an Observer from its own goroutine,
// in order, without ever blocking the sender. When the observer falls behind
// the oldest undelivered events are dropped. Observer panics are recovered.
//
// A nil *Notifier is valid and discards everything.
type Notifier struct {
	observer Observer
	ring     *ringchan.Ring[Event]
	done     <-chan struct{}
	logger   *logrus.Logger

	mu     sync.RWMutex
	closed bool
}

// NewNotifier starts a dispatcher for observer. Returns nil when observer is nil.
func NewNotifier(observer Observer, buffer int, logger *logrus.Logger) *Notifier {
	if observer == nil {
		return nil
	}
	if logger == nil {
		logger = logrus.New()
	}
	if buffer <= 0 {
		buffer = DefaultProgressBuffer
	}

	n := &Notifier{
		observer: observer,
		ring:     ringchan.New[Event](buffer),
		logger:   logger,
	}
	n.done = groutine.Go(context.Background(), "fleet-progress", func(ctx context.Context) {
		for {
			ev, ok := n.ring.Receive()
			if !ok {
				return
			}
			n.deliver(ctx, ev)
		}
	})
	return n
}

// Notify queues an event. It never blocks.
func (n *Notifier) Notify(address, phase string, final bool) {
	if n == nil {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	if n.ring.ForceSend(Event{Address: address, Phase: phase, Final: final, Time: time.Now()}) {
		n.logger.WithFields(logrus.Fields{
			"address": address,
			"buffer":  n.ring.Cap(),
		}).Debug("Progress observer is lagging, dropped oldest event")
	}
}

// Close stops accepting events and waits until queued ones are delivered.
// Safe to call more than once.
func (n *Notifier) Close() {
	if n == nil {
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.ring.Close()
	n.mu.Unlock()

	<-n.done

	m := n.ring.Metrics()
	n.logger.WithFields(logrus.Fields{
		"queued":    m.Written,
		"delivered": m.Processed,
		"dropped":   m.Overwritten,
	}).Debug("Progress dispatcher stopped")
}

func (n *Notifier) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithFields(logrus.Fields{
				"goroutine": groutine.GetName(ctx),
				"address":   ev.Address,
				"phase":     ev.Phase,
				"panic":     r,
			}).Warn("Progress observer panicked")
		}
	}()
	n.observer.Progress(ev.Address, ev.Phase, ev.Final)
}
