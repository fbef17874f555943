package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/natfailover/pkg/clock"
	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/decision"
	"github.com/cuemby/natfailover/pkg/events"
	"github.com/cuemby/natfailover/pkg/health"
	"github.com/cuemby/natfailover/pkg/metrics"
	"github.com/cuemby/natfailover/pkg/power"
	"github.com/cuemby/natfailover/pkg/routes"
	"github.com/cuemby/natfailover/pkg/types"
)

// BlockedThreshold is the number of consecutive failed cycles after which a
// pending takeover or handback is reported as blocked
const BlockedThreshold = 3

// IntentKind names what a pending route intent is for
type IntentKind string

const (
	IntentTakeover IntentKind = "takeover"
	IntentHandback IntentKind = "handback"
)

// Prober sends one liveness probe to the peer
type Prober interface {
	Probe(ctx context.Context) health.Result
}

// RouteApplier converges route tables onto an intent
type RouteApplier interface {
	Apply(ctx context.Context, intent types.RouteIntent) ([]types.RouteResult, error)
}

// PowerDriver stops, starts and observes the peer instance
type PowerDriver interface {
	Do(ctx context.Context, action types.PowerAction, instanceID string) (power.Outcome, error)
	Observe(ctx context.Context, instanceID string) (types.InstanceState, error)
}

// Deps are the collaborators of a Controller
type Deps struct {
	Prober Prober
	Routes RouteApplier
	Power  PowerDriver
	Clock  clock.Clock

	// Broker receives transition and action events, optional
	Broker *events.Broker
	Logger zerolog.Logger
}

// Controller runs the probe, evaluate, act loop of one node
type Controller struct {
	cfg    *config.FailoverConfig
	deps   Deps
	engine *decision.Engine
	logger zerolog.Logger

	// Owned by the loop goroutine
	pendingRoutes types.RouteIntent
	pendingPower  types.PowerAction
	pendingKind   IntentKind
	routeFailures int
	powerFailures int
	blocked       bool
	restarted     bool
	probeBroken   bool

	mu     sync.RWMutex
	status Status
}

// New creates a controller. The peer starts out HEALTHY.
func New(cfg *config.FailoverConfig, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	engine := decision.NewEngine(cfg)
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		engine: engine,
		logger: deps.Logger,
		status: Status{
			Node:  cfg.Self,
			Peer:  cfg.Peer,
			State: engine.State(),
		},
	}
}

// Run executes cycles every pingInterval until ctx is cancelled. Cancellation
// is a clean shutdown and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().
		Str("self", c.cfg.Self.String()).
		Str("peer", c.cfg.Peer.String()).
		Str("peer_address", c.cfg.Peer.Address).
		Int("ping_count", c.cfg.PingCount).
		Dur("ping_interval", c.cfg.PingInterval).
		Dur("recovery_window", c.cfg.RecoveryWindow).
		Msg("Failover controller started")
	c.publish(events.EventControllerStarted, "controller started", nil)
	metrics.RegisterComponent("controller", true, "running")
	c.setRunning(true)

	defer func() {
		c.setRunning(false)
		metrics.UpdateComponent("controller", false, "stopped")
		c.publish(events.EventControllerStopped, "controller stopped", nil)
		c.logger.Info().Msg("Failover controller stopped")
	}()

	for {
		c.Step(ctx)

		if err := c.deps.Clock.Sleep(ctx, c.cfg.PingInterval); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Step performs one cycle: probe the peer, feed the sample to the decision
// engine and drive any pending actions. Actions that fail stay pending and
// are retried on the next Step.
func (c *Controller) Step(ctx context.Context) decision.Decision {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CycleDuration)

	result := c.deps.Prober.Probe(ctx)
	if ctx.Err() != nil {
		// Shutting down: a probe cut short says nothing about the peer
		return c.engine.Current(c.deps.Clock.Now())
	}

	var d decision.Decision
	if result.Err != nil {
		metrics.ProbesTotal.WithLabelValues("error").Inc()
		c.probeFailed(result)
		d = c.engine.Current(c.deps.Clock.Now())
	} else {
		if result.Alive {
			metrics.ProbesTotal.WithLabelValues("alive").Inc()
		} else {
			metrics.ProbesTotal.WithLabelValues("dead").Inc()
		}
		metrics.ProbeDuration.Observe(result.Duration.Seconds())
		c.probeRestored()
		d = c.engine.Observe(result.Alive, c.deps.Clock.Now())
	}

	if d.Changed() {
		c.onTransition(d)
	}
	if d.Intent != nil {
		c.adopt(d)
	}

	// A stop is only meaningful while the peer is down, a start only once
	// it is back; a newer observation voids the other
	stale := (c.pendingPower == types.PowerActionStop && d.To != types.PeerStateDown) ||
		(c.pendingPower == types.PowerActionStart && d.To != types.PeerStateHealthy)
	if stale {
		c.logger.Info().Str("power", string(c.pendingPower)).Str("state", string(d.To)).Msg("Dropping pending power action")
		c.pendingPower = types.PowerActionNone
		c.powerFailures = 0
	}

	if ctx.Err() == nil {
		c.act(ctx, d.To)
	}

	c.updateStatus(d, result)
	return d
}

// probeFailed reports a probe that never left this node. The sample is not
// fed to the engine, so a broken local socket cannot take over from a
// healthy peer.
func (c *Controller) probeFailed(result health.Result) {
	metrics.UpdateComponent("probe", false, result.Err.Error())
	if c.probeBroken {
		c.logger.Debug().Err(result.Err).Msg("Peer probe still failing locally")
		return
	}
	c.probeBroken = true
	c.logger.Error().
		Err(result.Err).
		Str("failure_class", "probe").
		Str("state", string(c.engine.State())).
		Msg("Cannot probe the peer from this node, holding the peer state until probes can be sent")
}

func (c *Controller) probeRestored() {
	metrics.UpdateComponent("probe", true, "")
	if c.probeBroken {
		c.probeBroken = false
		c.logger.Info().Msg("Peer probes can be sent again")
	}
}

func (c *Controller) onTransition(d decision.Decision) {
	c.logger.Info().
		Str("from", string(d.From)).
		Str("to", string(d.To)).
		Int("consecutive_failures", d.ConsecutiveFailures).
		Time("at", d.At).
		Msg("Peer state transition")

	metrics.TransitionsTotal.WithLabelValues(string(d.From), string(d.To)).Inc()
	c.publish(events.EventPeerTransition, fmt.Sprintf("peer %s -> %s", d.From, d.To), map[string]string{
		"from":                 string(d.From),
		"to":                   string(d.To),
		"consecutive_failures": strconv.Itoa(d.ConsecutiveFailures),
	})
}

// adopt replaces whatever was pending with the new intent. The newest view
// of the peer always wins.
func (c *Controller) adopt(d decision.Decision) {
	kind := IntentHandback
	if d.To == types.PeerStateDown {
		kind = IntentTakeover
		c.restarted = false
	}

	if c.blocked {
		metrics.Blocked.WithLabelValues(string(c.pendingKind)).Set(0)
	}
	c.pendingRoutes = d.Intent
	c.pendingPower = d.Power
	c.pendingKind = kind
	c.routeFailures = 0
	c.powerFailures = 0
	c.blocked = false

	c.logger.Info().
		Str("intent", string(kind)).
		Strs("tables", d.Intent.Tables()).
		Str("power", string(d.Power)).
		Msgf("Starting %s", kind)
}

func (c *Controller) act(ctx context.Context, state types.PeerState) {
	routesFailed := false
	if len(c.pendingRoutes) > 0 {
		routesFailed = !c.applyRoutes(ctx)
	}

	// Routing correctness comes first, a failed route write never holds back
	// the peer stop
	if c.pendingPower != types.PowerActionNone {
		c.applyPower(ctx)
	} else if state == types.PeerStateDown && c.cfg.RestartPeer && !c.restarted {
		c.powerCycle(ctx)
	}

	failing := routesFailed || c.powerFailures > 0
	if failing {
		metrics.UpdateComponent("control_plane", false, fmt.Sprintf("%s actions failing", c.pendingKind))
	} else {
		metrics.UpdateComponent("control_plane", true, "")
	}
	c.checkBlocked()
}

func (c *Controller) applyRoutes(ctx context.Context) bool {
	results, err := c.deps.Routes.Apply(ctx, c.pendingRoutes)

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		delete(c.pendingRoutes, r.Table)
		if r.Changed {
			c.publish(events.EventRouteChanged, fmt.Sprintf("route table %s now targets %s", r.Table, r.Target), map[string]string{
				"table":  r.Table,
				"target": r.Target,
				"intent": string(c.pendingKind),
			})
		}
	}
	metrics.PendingRoutes.Set(float64(len(c.pendingRoutes)))

	if err != nil && ctx.Err() != nil {
		return false
	}
	if err == nil {
		if c.routeFailures > 0 {
			c.logger.Info().Str("intent", string(c.pendingKind)).Msg("Route tables converged after earlier failures")
		}
		c.routeFailures = 0
		return true
	}

	c.routeFailures++
	metrics.ActionFailuresTotal.WithLabelValues("route").Inc()
	c.logger.Error().
		Err(err).
		Str("failure_class", "action").
		Str("intent", string(c.pendingKind)).
		Strs("pending_tables", c.pendingRoutes.Tables()).
		Int("action_failures", c.routeFailures).
		Msg("Failed to converge route tables, will retry next cycle")
	c.publish(events.EventRouteFailed, err.Error(), map[string]string{
		"intent":          string(c.pendingKind),
		"action_failures": strconv.Itoa(c.routeFailures),
	})
	return false
}

func (c *Controller) applyPower(ctx context.Context) {
	action := c.pendingPower
	outcome, err := c.deps.Power.Do(ctx, action, c.cfg.Peer.InstanceID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.powerFailures++
		metrics.ActionFailuresTotal.WithLabelValues(string(action)).Inc()
		c.logger.Error().
			Err(err).
			Str("failure_class", "action").
			Str("action", string(action)+"_instance").
			Str("instance", c.cfg.Peer.InstanceID).
			Int("action_failures", c.powerFailures).
			Msg("Failed to change peer power state, will retry next cycle")
		c.publish(events.EventPowerFailed, err.Error(), map[string]string{
			"action":          string(action),
			"instance":        c.cfg.Peer.InstanceID,
			"action_failures": strconv.Itoa(c.powerFailures),
		})
		return
	}

	c.pendingPower = types.PowerActionNone
	c.powerFailures = 0
	c.publish(events.EventPowerIssued, fmt.Sprintf("%s %s: %s", action, c.cfg.Peer.InstanceID, outcome), map[string]string{
		"action":   string(action),
		"instance": c.cfg.Peer.InstanceID,
		"outcome":  string(outcome),
	})
}

// powerCycle starts the peer again once the takeover stop has taken effect.
// It only gets the peer booted; routes come back through RECOVERING.
func (c *Controller) powerCycle(ctx context.Context) {
	state, err := c.deps.Power.Observe(ctx, c.cfg.Peer.InstanceID)
	if err != nil {
		c.logger.Warn().Err(err).Str("instance", c.cfg.Peer.InstanceID).Msg("Failed to read peer instance state")
		return
	}
	if state != types.InstanceStateStopped {
		return
	}

	c.logger.Info().Str("instance", c.cfg.Peer.InstanceID).Msg("Peer stopped, starting it again")
	outcome, err := c.deps.Power.Do(ctx, types.PowerActionStart, c.cfg.Peer.InstanceID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.powerFailures++
		metrics.ActionFailuresTotal.WithLabelValues(string(types.PowerActionStart)).Inc()
		c.logger.Error().
			Err(err).
			Str("failure_class", "action").
			Str("action", "start_instance").
			Str("instance", c.cfg.Peer.InstanceID).
			Int("action_failures", c.powerFailures).
			Msg("Failed to restart stopped peer, will retry next cycle")
		c.publish(events.EventPowerFailed, err.Error(), map[string]string{
			"action":          string(types.PowerActionStart),
			"instance":        c.cfg.Peer.InstanceID,
			"action_failures": strconv.Itoa(c.powerFailures),
		})
		return
	}

	c.restarted = true
	c.powerFailures = 0
	c.publish(events.EventPowerIssued, fmt.Sprintf("restart %s: %s", c.cfg.Peer.InstanceID, outcome), map[string]string{
		"action":   string(types.PowerActionStart),
		"instance": c.cfg.Peer.InstanceID,
		"outcome":  string(outcome),
	})
}

func (c *Controller) checkBlocked() {
	failures := c.routeFailures
	if c.powerFailures > failures {
		failures = c.powerFailures
	}

	switch {
	case failures >= BlockedThreshold && !c.blocked:
		c.blocked = true
		metrics.Blocked.WithLabelValues(string(c.pendingKind)).Set(1)
		c.logger.Error().
			Str("failure_class", "action").
			Str("intent", string(c.pendingKind)).
			Int("action_failures", failures).
			Strs("pending_tables", c.pendingRoutes.Tables()).
			Str("pending_power", string(c.pendingPower)).
			Msgf("%s blocked: cloud actions keep failing", capitalize(string(c.pendingKind)))

		typ := events.EventTakeoverBlocked
		if c.pendingKind == IntentHandback {
			typ = events.EventHandbackBlocked
		}
		c.publish(typ, fmt.Sprintf("%s blocked after %d failed cycles", c.pendingKind, failures), map[string]string{
			"action_failures": strconv.Itoa(failures),
		})

	case failures == 0 && c.blocked:
		c.blocked = false
		metrics.Blocked.WithLabelValues(string(c.pendingKind)).Set(0)
		c.logger.Info().Str("intent", string(c.pendingKind)).Msgf("%s unblocked", capitalize(string(c.pendingKind)))
	}
}

func (c *Controller) publish(typ events.EventType, msg string, meta map[string]string) {
	if c.deps.Broker == nil {
		return
	}
	c.deps.Broker.Publish(&events.Event{
		Type:      typ,
		Timestamp: c.deps.Clock.Now(),
		Node:      string(c.cfg.Node),
		Message:   msg,
		Metadata:  meta,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var (
	_ Prober       = (*health.Monitor)(nil)
	_ RouteApplier = (*routes.Mutator)(nil)
	_ PowerDriver  = (*power.Controller)(nil)
)
