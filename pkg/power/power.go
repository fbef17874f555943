package power

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/natfailover/pkg/clock"
	"github.com/cuemby/natfailover/pkg/cloud"
	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/metrics"
	"github.com/cuemby/natfailover/pkg/types"
)

// Action names used in logs and metrics
const (
	ActionStopInstance  = "stop_instance"
	ActionStartInstance = "start_instance"
)

// Outcome describes what a power call did
type Outcome string

const (
	// OutcomeIssued means the call was made and the settle time elapsed
	OutcomeIssued Outcome = "ok"

	// OutcomeNoop means the instance was already where we wanted it
	OutcomeNoop Outcome = "noop"
)

// Controller stops and starts the peer instance. Both operations are
// best-effort and tolerate the instance already being in, or on its way to,
// the requested state.
type Controller struct {
	cp          cloud.ControlPlane
	clock       clock.Clock
	stopSettle  time.Duration
	startSettle time.Duration
	attempts    uint
	delay       time.Duration
	logger      zerolog.Logger
}

// NewController creates a power controller
func NewController(cp cloud.ControlPlane, clk clock.Clock, cfg *config.FailoverConfig, logger zerolog.Logger) *Controller {
	return &Controller{
		cp:          cp,
		clock:       clk,
		stopSettle:  cfg.StopSettle,
		startSettle: cfg.StartSettle,
		attempts:    uint(cfg.ActionAttempts),
		delay:       cfg.ActionRetryDelay,
		logger:      logger,
	}
}

// Do dispatches a power action
func (c *Controller) Do(ctx context.Context, action types.PowerAction, instanceID string) (Outcome, error) {
	switch action {
	case types.PowerActionStop:
		return c.Stop(ctx, instanceID)
	case types.PowerActionStart:
		return c.Start(ctx, instanceID)
	case types.PowerActionNone:
		return OutcomeNoop, nil
	default:
		return "", fmt.Errorf("unknown power action %q", action)
	}
}

// Stop stops the instance and waits for the stop settle time
func (c *Controller) Stop(ctx context.Context, instanceID string) (Outcome, error) {
	return c.apply(ctx, ActionStopInstance, instanceID, c.stopSettle,
		func(state types.InstanceState) (bool, error) {
			switch state {
			case types.InstanceStateStopped, types.InstanceStateStopping,
				types.InstanceStateShuttingDown, types.InstanceStateTerminated:
				return true, nil
			}
			return false, nil
		},
		c.cp.StopInstance,
	)
}

// Start starts the instance and waits for the start settle time
func (c *Controller) Start(ctx context.Context, instanceID string) (Outcome, error) {
	return c.apply(ctx, ActionStartInstance, instanceID, c.startSettle,
		func(state types.InstanceState) (bool, error) {
			switch state {
			case types.InstanceStateRunning, types.InstanceStatePending:
				return true, nil
			case types.InstanceStateShuttingDown, types.InstanceStateTerminated:
				return false, fmt.Errorf("instance %s is %s and cannot be started: %w", instanceID, state, cloud.ErrIncorrectState)
			}
			return false, nil
		},
		c.cp.StartInstance,
	)
}

// apply reads the instance state, issues call unless done reports the
// instance already there, then waits for settle
func (c *Controller) apply(
	ctx context.Context,
	action, instanceID string,
	settle time.Duration,
	done func(types.InstanceState) (bool, error),
	call func(context.Context, string) error,
) (Outcome, error) {
	logger := c.logger.With().Str("action", action).Str("instance", instanceID).Logger()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ActionDuration, action)

	inst, err := c.cp.DescribeInstance(ctx, instanceID)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(action, "failed").Inc()
		return "", fmt.Errorf("%s %s: %w", action, instanceID, err)
	}

	already, err := done(inst.State)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(action, "failed").Inc()
		return "", err
	}
	if already {
		metrics.ActionsTotal.WithLabelValues(action, string(OutcomeNoop)).Inc()
		logger.Info().Str("state", string(inst.State)).Str("outcome", string(OutcomeNoop)).Msg("Peer instance already in requested state")
		return OutcomeNoop, nil
	}

	err = retry.Do(
		func() error {
			return call(ctx, instanceID)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !cloud.Permanent(err)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn().Err(err).Msgf("failed to %s, attempt: %d", action, attempt+1)
		}),
	)
	// The instance moved between describe and the call; the next cycle
	// sees its new state
	if cloud.IsIncorrectState(err) {
		metrics.ActionsTotal.WithLabelValues(action, string(OutcomeNoop)).Inc()
		logger.Info().Err(err).Str("outcome", string(OutcomeNoop)).Msg("Peer instance changed state during power call")
		return OutcomeNoop, nil
	}
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(action, "failed").Inc()
		return "", fmt.Errorf("%s %s: %w", action, instanceID, err)
	}

	logger.Info().Dur("settle", settle).Msg("Power call issued, waiting for instance to settle")
	if err := c.clock.Sleep(ctx, settle); err != nil {
		return "", fmt.Errorf("%s %s: settle interrupted: %w", action, instanceID, err)
	}

	metrics.ActionsTotal.WithLabelValues(action, string(OutcomeIssued)).Inc()
	logger.Info().Str("outcome", string(OutcomeIssued)).Msg("Power action complete")
	return OutcomeIssued, nil
}

// Observe returns the current state of the instance
func (c *Controller) Observe(ctx context.Context, instanceID string) (types.InstanceState, error) {
	inst, err := c.cp.DescribeInstance(ctx, instanceID)
	if err != nil {
		return types.InstanceStateUnknown, err
	}
	return inst.State, nil
}
