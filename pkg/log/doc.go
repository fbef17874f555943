/*
Package log provides structured logging for natfailover using zerolog.

The package keeps one global zerolog logger, configured once at startup via
Init, and hands out child loggers tagged with the component that writes to
them. Every entry carries an RFC3339 timestamp, which is what makes the log a
usable record of peer state transitions and cloud actions.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.SetNode("a", "b")

	logger := log.WithComponent("controller")
	logger.Info().
		Str("from", "suspect").
		Str("to", "down").
		Int("consecutive_failures", 10).
		Msg("Peer state transition")

# Fields

The controller and its collaborators use a small fixed vocabulary of fields
so that operators can filter the log:

  - component: controller, routes, power, status, journal
  - node / peer: identities of the local node and its peer ("a" / "b")
  - from / to: peer states on a transition
  - action: replace_route, create_route, stop_instance, start_instance
  - outcome: ok, noop, failed
  - failure_class: "action" on cloud call failures

Probe failures are never logged as errors; they show up as transitions.
Action failures are logged at error level with failure_class=action so that
"the peer is down" can be told apart from "this node cannot take over".

# Levels

ParseLevel accepts debug, info, warn and error in any case and falls back to
info. Individual probe samples are logged at debug level.
*/
package log
