// Package backoff implements the jittered/exponential retry schedule
// shared by the heartbeater and the lookup client. Grounded on
// ironic_python_agent's backoff.py (exponential growth with a capped
// max delay and a separate escalating series for conflict responses),
// adapted to pkg/worker/health_monitor.go's ticker-loop shape.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Exponential computes interval <- min(interval*factor, max), resetting
// to base after a success. It is not goroutine-safe; callers own one
// instance per loop.
type Exponential struct {
	Base    time.Duration
	Factor  float64
	Max     time.Duration
	current time.Duration
}

// NewExponential creates a schedule starting at base.
func NewExponential(base time.Duration, factor float64, max time.Duration) *Exponential {
	return &Exponential{Base: base, Factor: factor, Max: max, current: base}
}

// Next returns the delay to use before the next attempt and advances
// the schedule for the next failure.
func (e *Exponential) Next() time.Duration {
	d := e.current
	scaled := time.Duration(float64(e.current) * e.Factor)
	if scaled > e.Max {
		scaled = e.Max
	}
	e.current = scaled
	return d
}

// Reset returns the schedule to its base delay, e.g. after a success.
func (e *Exponential) Reset() {
	e.current = e.Base
}

// Escalating cycles through a fixed series of delays (for
// conflict/retry-me-slower responses), holding at the last entry once
// exhausted, and wrapping back to the first step on Reset.
type Escalating struct {
	Steps []time.Duration
	idx   int
}

// NewEscalating creates a schedule over the given steps in order.
func NewEscalating(steps ...time.Duration) *Escalating {
	return &Escalating{Steps: steps}
}

// Next returns the current step's delay and advances to the next one.
func (e *Escalating) Next() time.Duration {
	if len(e.Steps) == 0 {
		return 0
	}
	d := e.Steps[e.idx]
	if e.idx < len(e.Steps)-1 {
		e.idx++
	}
	return d
}

// Reset returns the schedule to its first step.
func (e *Escalating) Reset() {
	e.idx = 0
}

// Jittered returns a duration uniformly sampled from
// [base*minFactor, base*maxFactor). Used for the heartbeater's
// nominal (non-error) sleep.
func Jittered(base time.Duration, minFactor, maxFactor float64) time.Duration {
	span := maxFactor - minFactor
	frac := minFactor + rand.Float64()*span
	return time.Duration(float64(base) * frac)
}
