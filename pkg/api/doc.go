/*
Package api serves the HTTP status surface of a failover controller.

Endpoints, all GET:

	/health   liveness; also the target of a peer's http probe
	/ready    200 once the control loop has completed a cycle
	/status   peer state, failure count and pending actions as JSON
	/events   newest journal entries, ?limit=N
	/metrics  Prometheus metrics

The server holds no state of its own. It reads the controller through
StatusSource and the journal through storage.Journal.
*/
package api
