/*
Package cloud abstracts the provider calls the failover controller makes:
reading and rewriting the default route of a route table, and reading,
stopping and starting the peer instance.

Two implementations are provided. EC2ControlPlane talks to the EC2 API with
aws-sdk-go-v2 and maps EC2 error codes onto ErrNotFound, ErrIncorrectState
and ErrRouteExists. Memory keeps everything in process and is used for
--dry-run and for tests; it can inject failures per operation and counts
calls so tests can assert that converged routes are not rewritten.

Credentials are never read from configuration files. LoadAWSConfig uses the
SDK default chain, which on a NAT instance resolves to its instance role.
*/
package cloud
