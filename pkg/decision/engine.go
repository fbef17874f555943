package decision

import (
	"time"

	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/types"
)

// Decision is the outcome of feeding one probe sample to the engine
type Decision struct {
	From                types.PeerState
	To                  types.PeerState
	ConsecutiveFailures int
	At                  time.Time

	// Intent is the routing change to converge on, nil when none
	Intent types.RouteIntent

	// Power is the action to take against the peer instance
	Power types.PowerAction
}

// Changed reports whether the sample moved the peer to a new state
func (d Decision) Changed() bool {
	return d.From != d.To
}

// Transition returns the state change carried by the decision
func (d Decision) Transition() types.Transition {
	return types.Transition{
		From:                d.From,
		To:                  d.To,
		ConsecutiveFailures: d.ConsecutiveFailures,
		At:                  d.At,
	}
}

// Engine tracks the local view of the peer's health. It is a pure state
// machine: it performs no I/O and reads time only from its callers.
// Not safe for concurrent use.
type Engine struct {
	threshold int
	window    time.Duration
	takeover  types.RouteIntent
	handback  types.RouteIntent

	state           types.PeerState
	failures        int
	recoveringSince time.Time
}

// NewEngine creates an engine in the optimistic HEALTHY state
func NewEngine(cfg *config.FailoverConfig) *Engine {
	return &Engine{
		threshold: cfg.PingCount,
		window:    cfg.RecoveryWindow,
		takeover:  cfg.TakeoverIntent(),
		handback:  cfg.HandbackIntent(),
		state:     types.PeerStateHealthy,
	}
}

// Observe applies one probe sample taken at now
func (e *Engine) Observe(alive bool, now time.Time) Decision {
	d := Decision{From: e.state, At: now}

	// Failures must be consecutive; any success resets the run
	if alive {
		e.failures = 0
	} else {
		e.failures++
	}

	switch e.state {
	case types.PeerStateHealthy, types.PeerStateSuspect:
		switch {
		case alive:
			e.state = types.PeerStateHealthy
		case e.failures >= e.threshold:
			e.state = types.PeerStateDown
			d.Intent = copyIntent(e.takeover)
			d.Power = types.PowerActionStop
		default:
			e.state = types.PeerStateSuspect
		}

	case types.PeerStateDown:
		if alive {
			e.state = types.PeerStateRecovering
			e.recoveringSince = now
		}

	case types.PeerStateRecovering:
		switch {
		case !alive:
			// Routes were never handed back, so there is nothing to retake
			e.state = types.PeerStateDown
			e.recoveringSince = time.Time{}
		case now.Sub(e.recoveringSince) >= e.window:
			e.state = types.PeerStateHealthy
			e.recoveringSince = time.Time{}
			d.Intent = copyIntent(e.handback)
			d.Power = types.PowerActionStart
		}
	}

	d.To = e.state
	d.ConsecutiveFailures = e.failures
	return d
}

// State returns the current view of the peer
func (e *Engine) State() types.PeerState {
	return e.state
}

// ConsecutiveFailures returns the length of the trailing run of failed probes
func (e *Engine) ConsecutiveFailures() int {
	return e.failures
}

// RecoveringSince returns when the current recovery window started, zero
// outside RECOVERING
func (e *Engine) RecoveringSince() time.Time {
	return e.recoveringSince
}

func copyIntent(intent types.RouteIntent) types.RouteIntent {
	out := make(types.RouteIntent, len(intent))
	for table, target := range intent {
		out[table] = target
	}
	return out
}

// Current returns a decision that leaves the engine untouched, for cycles
// whose sample carries no information about the peer
func (e *Engine) Current(now time.Time) Decision {
	return Decision{
		From:                e.state,
		To:                  e.state,
		ConsecutiveFailures: e.failures,
		At:                  now,
	}
}
