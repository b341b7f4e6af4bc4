// Package circuitbreaker wraps github.com/sony/gobreaker with the
// orchestrator's remote-call semantics: trip after a run of consecutive
// failures, cool down for a fixed interval, then admit exactly one probe
// request before deciding whether to close again or re-open.
package circuitbreaker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sre-tools/remediation-batch/pkg/apperrors"
)

// Config tunes the breaker's trip threshold and cooldown.
type Config struct {
	// Name identifies this breaker in logs (e.g. "devin-api").
	Name string
	// FailureThreshold is the number of consecutive failures that trips the breaker open.
	FailureThreshold uint32
	// CooldownPeriod is how long the breaker stays open before allowing a single probe.
	CooldownPeriod time.Duration
}

// Breaker guards calls to the remote agent API.
type Breaker struct {
	cfg Config
	cb  *gobreaker.CircuitBreaker
}

// New builds a Breaker per cfg. The underlying gobreaker is configured with
// MaxRequests: 1 so that exactly one request is admitted while half-open —
// a second concurrent caller is rejected rather than allowed to race the probe.
func New(cfg Config) *Breaker {
	b := &Breaker{cfg: cfg}
	b.cb = gobreaker.NewCircuitBreaker(b.settings())
	return b
}

func (b *Breaker) settings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        b.cfg.Name,
		MaxRequests: 1,
		Interval:    0, // never reset failure counts while closed
		Timeout:     b.cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// Call runs fn if the breaker currently admits requests, recording the
// outcome against the breaker's state. It returns apperrors.ErrCircuitOpen
// without calling fn when the breaker is open or the half-open probe slot
// is already taken.
func (b *Breaker) Call(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCircuitOpen, err)
		}
		return nil, err
	}
	return result, nil
}

// State reports the breaker's current state, applying gobreaker's lazy
// open-to-half-open transition as a side effect of the read.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Reset forces the breaker back to a fresh closed state, discarding any
// accumulated failure counts. Used at the start of a run after stale
// sessions are drained, so failures recorded while draining don't carry
// over into the run itself, and by the HTTP client when a best-effort
// termination gets a 404.
func (b *Breaker) Reset() {
	b.cb = gobreaker.NewCircuitBreaker(b.settings())
}
