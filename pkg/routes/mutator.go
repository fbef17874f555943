package routes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/natfailover/pkg/cloud"
	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/metrics"
	"github.com/cuemby/natfailover/pkg/types"
)

// Action names used in logs and metrics
const (
	ActionReplaceRoute = "replace_route"
	ActionCreateRoute  = "create_route"
)

// Mutator converges the default route of route tables onto a target
// instance. Apply is idempotent: a table already routed through its target
// is left untouched.
type Mutator struct {
	cp       cloud.ControlPlane
	cidr     string
	attempts uint
	delay    time.Duration
	logger   zerolog.Logger
}

// NewMutator creates a mutator for the pair's default route
func NewMutator(cp cloud.ControlPlane, cfg *config.FailoverConfig, logger zerolog.Logger) *Mutator {
	return &Mutator{
		cp:       cp,
		cidr:     types.DefaultRouteCIDR,
		attempts: uint(cfg.ActionAttempts),
		delay:    cfg.ActionRetryDelay,
		logger:   logger,
	}
}

// Apply converges every table of intent. All tables are attempted even when
// some fail; the returned error joins the per-table failures and the results
// carry one entry per table in sorted order.
func (m *Mutator) Apply(ctx context.Context, intent types.RouteIntent) ([]types.RouteResult, error) {
	results := make([]types.RouteResult, 0, len(intent))
	var errs []error

	for _, table := range intent.Tables() {
		result := m.converge(ctx, table, intent[table])
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

func (m *Mutator) converge(ctx context.Context, table, target string) types.RouteResult {
	result := types.RouteResult{Table: table, Target: target}
	action := ActionReplaceRoute

	timer := metrics.NewTimer()
	err := retry.Do(
		func() error {
			current, found, err := m.cp.DescribeRoute(ctx, table, m.cidr)
			if err != nil {
				return err
			}
			if found && current == target {
				return nil
			}

			if !found {
				action = ActionCreateRoute
				err = m.cp.CreateRoute(ctx, table, m.cidr, target)
				// Someone else created it between describe and create
				if cloud.IsRouteExists(err) {
					action = ActionReplaceRoute
					err = m.cp.ReplaceRoute(ctx, table, m.cidr, target)
				}
			} else {
				action = ActionReplaceRoute
				err = m.cp.ReplaceRoute(ctx, table, m.cidr, target)
			}
			if err != nil {
				return err
			}
			result.Changed = true
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(m.attempts),
		retry.Delay(m.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !cloud.Permanent(err)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			m.logger.Warn().
				Err(err).
				Str("table", table).
				Str("target", target).
				Msgf("failed to converge route, attempt: %d", attempt+1)
		}),
	)
	timer.ObserveDurationVec(metrics.ActionDuration, action)

	switch {
	case err != nil:
		result.Err = fmt.Errorf("route table %s: %w", table, err)
		metrics.ActionsTotal.WithLabelValues(action, "failed").Inc()
	case result.Changed:
		metrics.ActionsTotal.WithLabelValues(action, "ok").Inc()
		m.logger.Info().
			Str("action", action).
			Str("table", table).
			Str("target", target).
			Str("outcome", "ok").
			Msg("Route updated")
	default:
		metrics.ActionsTotal.WithLabelValues(action, "noop").Inc()
		m.logger.Debug().
			Str("table", table).
			Str("target", target).
			Str("outcome", "noop").
			Msg("Route already converged")
	}

	return result
}
