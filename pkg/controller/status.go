package controller

import (
	"time"

	"github.com/cuemby/natfailover/pkg/decision"
	"github.com/cuemby/natfailover/pkg/health"
	"github.com/cuemby/natfailover/pkg/metrics"
	"github.com/cuemby/natfailover/pkg/types"
)

// ProbeStatus is the last probe result
type ProbeStatus struct {
	Alive     bool          `json:"alive"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
	Duration  time.Duration `json:"durationNs"`

	// Local is set when the probe could not be sent at all
	Local bool `json:"local,omitempty"`
}

// Status is a point-in-time view of the controller, served on /status
type Status struct {
	Node                types.Node        `json:"node"`
	Peer                types.Node        `json:"peer"`
	State               types.PeerState   `json:"state"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	RecoveringSince     *time.Time        `json:"recoveringSince,omitempty"`
	LastProbe           *ProbeStatus      `json:"lastProbe,omitempty"`
	LastTransition      *types.Transition `json:"lastTransition,omitempty"`

	PendingIntent  IntentKind        `json:"pendingIntent,omitempty"`
	PendingRoutes  types.RouteIntent `json:"pendingRoutes,omitempty"`
	PendingPower   types.PowerAction `json:"pendingPower,omitempty"`
	ActionFailures int               `json:"actionFailures"`
	Blocked        bool              `json:"blocked"`

	Cycles  uint64 `json:"cycles"`
	Running bool   `json:"running"`
}

// Status returns a copy of the current status
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.status
	if s.PendingRoutes != nil {
		pending := make(types.RouteIntent, len(s.PendingRoutes))
		for table, target := range s.PendingRoutes {
			pending[table] = target
		}
		s.PendingRoutes = pending
	}
	return s
}

// Ready reports whether the loop is running and has completed a cycle
func (c *Controller) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Running && c.status.Cycles > 0
}

func (c *Controller) setRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Running = running
}

func (c *Controller) updateStatus(d decision.Decision, result health.Result) {
	metrics.PeerState.Set(d.To.Gauge())
	metrics.ConsecutiveFailures.Set(float64(d.ConsecutiveFailures))

	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.status
	s.State = d.To
	s.ConsecutiveFailures = d.ConsecutiveFailures
	s.LastProbe = &ProbeStatus{
		Alive:     result.Alive,
		Message:   result.Message,
		CheckedAt: result.CheckedAt,
		Duration:  result.Duration,
		Local:     result.Err != nil,
	}
	if d.Changed() {
		tr := d.Transition()
		s.LastTransition = &tr
	}
	if since := c.engine.RecoveringSince(); !since.IsZero() {
		s.RecoveringSince = &since
	} else {
		s.RecoveringSince = nil
	}

	s.PendingIntent = ""
	s.PendingRoutes = nil
	if len(c.pendingRoutes) > 0 || c.pendingPower != types.PowerActionNone {
		s.PendingIntent = c.pendingKind
	}
	if len(c.pendingRoutes) > 0 {
		s.PendingRoutes = make(types.RouteIntent, len(c.pendingRoutes))
		for table, target := range c.pendingRoutes {
			s.PendingRoutes[table] = target
		}
	}
	s.PendingPower = c.pendingPower
	s.ActionFailures = max(c.routeFailures, c.powerFailures)
	s.Blocked = c.blocked
	s.Cycles++
}
