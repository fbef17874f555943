/*
Package types defines the data model shared by the NAT failover controller.

A deployment consists of exactly two NAT instances, identified as "a" and
"b". Each node owns two route tables in steady state: the private route table
of its availability zone and the shared-services route table of the same zone.
When a node decides its peer is down it temporarily takes over the peer's two
tables as well, and hands them back once the peer has recovered.

# Core Types

  - Node: one NAT instance with its instance ID, private IP and owned tables
  - Identity: "a" or "b"; Other() returns the paired identity
  - PeerState: healthy, suspect, down, recovering (local view only)
  - RouteIntent: route table ID → target instance ID for the default route
  - RouteResult: per-table outcome of applying a RouteIntent
  - Instance / InstanceState: observed EC2 instance state
  - PowerAction: stop or start against the peer
  - Transition: a recorded change of PeerState

Peer state is never shared between nodes. Each controller keeps its own view
and acts on it; there is no consensus between the two members of the pair.
*/
package types
