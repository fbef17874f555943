/*
Package metrics provides Prometheus metrics and health reporting for the
failover controller.

All metrics are registered with the default registry at package init and
served by Handler on the status server's /metrics endpoint.

# Metrics

	natfailover_peer_state                   gauge     0 healthy, 1 suspect, 2 down, 3 recovering
	natfailover_peer_consecutive_failures    gauge     current run of failed probes
	natfailover_probes_total{result}         counter   alive / dead
	natfailover_probe_duration_seconds       histogram
	natfailover_transitions_total{from,to}   counter
	natfailover_actions_total{action,outcome} counter  outcome is ok, noop or failed
	natfailover_action_failures_total{action} counter  actions that failed after retries
	natfailover_action_duration_seconds{action} histogram
	natfailover_blocked{intent}               gauge     1 while a takeover or handback keeps failing
	natfailover_pending_routes               gauge     tables still to converge
	natfailover_cycle_duration_seconds       histogram
	natfailover_component_up{component}      gauge     1 healthy, 0 unhealthy
	natfailover_events_dropped_total         counter   events the journal never saw

An alert on natfailover_action_failures_total is the signal that a node has
detected its peer down but cannot take over, typically because its instance
role lacks ec2:ReplaceRoute.

# Health

Components report their state with RegisterComponent and UpdateComponent.
Each report also sets natfailover_component_up{component}. GetHealth is
unhealthy when any component is. The controller marks control_plane
unhealthy while its pending intent is blocked.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CycleDuration)
*/
package metrics
