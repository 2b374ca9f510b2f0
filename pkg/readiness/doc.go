/*
Package readiness gates sessions on challenge containers actually
listening.

Probe resolves a container id and network address for every service of a
challenge and TCP-dials the main service's internal port. EnsureReady
combines probing with an on-demand compose bring-up and bounded polling:
probe, bring up if not ready, then re-probe every 200 ms until ready or a
60 s budget expires.

Readiness is a precondition to dialing the target, not a monitor. A
container that dies mid-session is not this package's concern; the next
connection's probe will notice.

Concurrent EnsureReady calls for the same challenge serialize around the
bring-up so only one compose invocation is in flight per challenge, while
Probe stays lock-free. Handlers waiting for the bring-up slot abandon the
wait when their client goes away.
*/
package readiness
