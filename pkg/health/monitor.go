package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Monitor samples the peer's liveness. It holds no state about past samples;
// interpreting consecutive results is the decision engine's job.
type Monitor struct {
	checker Checker
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMonitor creates a monitor that bounds every probe by timeout
func NewMonitor(checker Checker, timeout time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		checker: checker,
		timeout: timeout,
		logger:  logger,
	}
}

// Probe sends one probe and returns its result. A probe that has not
// answered within the timeout is reported as not alive.
func (m *Monitor) Probe(ctx context.Context) Result {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result := m.checker.Check(probeCtx)
	if result.Alive && probeCtx.Err() != nil {
		// Answer arrived after the deadline
		result.Alive = false
		result.Message = "probe timed out after " + m.timeout.String()
	}

	if result.Err != nil {
		m.logger.Warn().Err(result.Err).Str("probe", string(m.checker.Type())).Msg("Peer probe could not be sent")
		return result
	}

	m.logger.Debug().
		Str("probe", string(m.checker.Type())).
		Bool("alive", result.Alive).
		Dur("duration", result.Duration).
		Str("message", result.Message).
		Msg("Peer probe")

	return result
}

// Type returns the underlying probe type
func (m *Monitor) Type() CheckType {
	return m.checker.Type()
}
