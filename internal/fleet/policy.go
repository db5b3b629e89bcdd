package fleet

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
)

// RetryPolicy holds the timing and retry configuration of one orchestrator.
// It is a value type; a Coordinator keeps its own copy for its lifetime.
type RetryPolicy struct {
	// Timeout bounds one connect+send attempt.
	Timeout time.Duration `default:"30s"`
	// Retries is the number of fresh-session attempts per panel (>= 1).
	Retries int `default:"3"`
	// WriteDelay is the pause between radio writes inside one payload.
	WriteDelay time.Duration `default:"150ms"`
	// PanelDelay is the pause after every attempt and before moving on to
	// the next panel.
	PanelDelay time.Duration `default:"1500ms"`
	// SettleDelay is held after a successful transmission so the panel can
	// finish processing before the link is touched again.
	SettleDelay time.Duration `default:"500ms"`
	// AbandonGrace is how long a timed-out attempt is given to unwind after
	// cancellation before its session is closed underneath it.
	AbandonGrace time.Duration `default:"1s"`
	// PoolCapacity is the maximum number of held links.
	PoolCapacity int `default:"3"`
	// UsePool enables the held link fast path.
	UsePool bool `default:"true"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() RetryPolicy {
	var p RetryPolicy
	defaults.SetDefaults(&p)
	return p
}

// WithRetries returns a copy of p with a different retry count.
func (p RetryPolicy) WithRetries(retries int) RetryPolicy {
	p.Retries = retries
	return p
}

// WithTimeout returns a copy of p with a different per-attempt timeout.
func (p RetryPolicy) WithTimeout(timeout time.Duration) RetryPolicy {
	p.Timeout = timeout
	return p
}

// QuickTimeout bounds the single attempt of a Quick policy.
const QuickTimeout = 15 * time.Second

// Quick returns a copy of p for identify flashes: one attempt bounded by
// QuickTimeout.
func (p RetryPolicy) Quick() RetryPolicy {
	return p.WithTimeout(QuickTimeout).WithRetries(1)
}

// WithoutPool returns a copy of p that always uses fresh sessions.
func (p RetryPolicy) WithoutPool() RetryPolicy {
	p.UsePool = false
	return p
}

// Validate reports every invalid setting.
func (p RetryPolicy) Validate() error {
	var errs []error
	if p.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %v", p.Timeout))
	}
	if p.Retries < 1 {
		errs = append(errs, fmt.Errorf("retries must be at least 1, got %d", p.Retries))
	}
	if p.WriteDelay < 0 || p.PanelDelay < 0 || p.SettleDelay < 0 || p.AbandonGrace < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if p.PoolCapacity < 0 {
		errs = append(errs, fmt.Errorf("pool capacity must not be negative, got %d", p.PoolCapacity))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid retry policy: %w", errors.Join(errs...))
	}
	return nil
}
