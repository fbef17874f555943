/*
Package health implements the liveness probes a NAT instance sends to its
peer.

The package is deliberately stateless: a Monitor sends one probe per call and
returns a Result. Counting consecutive failures and deciding what they mean is
left to the decision engine, so a probe can never take an action on its own.

# Architecture

	┌──────────────────────────────────────────────┐
	│                   Monitor                     │
	│  Probe(ctx) Result                            │
	│  • bounds each probe by pingTimeout           │
	│  • late answers count as not alive            │
	└──────────────────────┬───────────────────────┘
	                       │
	                       ▼
	┌──────────────────────────────────────────────┐
	│               Checker Interface               │
	│  • Check(ctx) Result                          │
	│  • Type() CheckType                           │
	└──────┬──────────────┬──────────────┬─────────┘
	       ▼              ▼              ▼
	  ┌─────────┐    ┌─────────┐    ┌─────────┐
	  │  ICMP   │    │   TCP   │    │  HTTP   │
	  │ Checker │    │ Checker │    │ Checker │
	  └─────────┘    └─────────┘    └─────────┘
	   echo req       connect        GET /health
	   (go-ping)      host:port      on the peer

# Probe Types

## ICMP

The default. One echo request per probe, matching the ping-based monitor the
NAT instances have always run. Both instances sit in the same security group,
which admits ICMP from itself. Raw sockets need CAP_NET_RAW; set
probe.privileged=false to use unprivileged datagram sockets where
net.ipv4.ping_group_range allows it.

## TCP

Connect-only check against host:port. Useful where ICMP is filtered.

## HTTP

GET against the peer controller's /health endpoint. An alive answer proves
the peer's failover controller is running, not only that its kernel answers.

# Failure Normalization

Resolution failures, unreachable hosts, refused connections, cancelled
contexts and timeouts all produce Result{Alive: false}. A checker never
returns an error and a single failed probe is never fatal.
*/
package health
