/*
Package power stops and starts the peer NAT instance.

Stopping the peer after a takeover keeps a half-dead instance from forwarding
traffic alongside the node that took its routes. Starting it again lets it
rejoin once the controller sees it answer probes for a full recovery window.

Both calls read the instance state first and do nothing when the instance is
already stopped or stopping (for Stop) or running or pending (for Start). An
IncorrectInstanceState error from EC2 is treated the same way. After a call
is issued the controller waits a settle time, 60s after a stop and 300s after
a start by default, before reporting the action complete.
*/
package power
