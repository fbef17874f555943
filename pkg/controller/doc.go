/*
Package controller runs the failover loop of one NAT instance.

Each cycle probes the peer once, feeds the sample to the decision engine and
drives whatever the engine asked for:

	probe ──▶ decision.Engine ──▶ route intent ──▶ routes.Mutator
	                          └──▶ power action ──▶ power.Controller

Intents are kept pending until every route table has converged and the
power call has gone through. A failed action is logged at error level with
failure_class=action and retried on the following cycle; after
BlockedThreshold consecutive failed cycles the controller reports the
takeover or handback as blocked, in the log, on the event bus and in the
natfailover_blocked metric. A newer intent always replaces an older one.

With restartPeer enabled the controller also power cycles a peer it has
stopped: once the peer is observed stopped while DOWN, it is started again.
The restarted peer only gets its routes back through RECOVERING.

The loop is the only goroutine that touches the engine and the pending
actions. Status and Ready may be called concurrently, for the status server.
*/
package controller
