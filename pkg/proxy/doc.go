/*
Package proxy is the connection-level core: the listener fleet, the
per-connection handler and the streaming session.

A handler learns which challenge it serves from the accepted socket's
local port, gates the session on readiness, dials the resolved container
address and splices the two sockets with one pump goroutine per
direction. Clean EOF propagates as a TCP half-close so the peer can
finish its side of the conversation; errors and cancellation close both
sockets at once. Sessions are transparent byte pipes: no headers, no
protocol, no TLS.
*/
package proxy
