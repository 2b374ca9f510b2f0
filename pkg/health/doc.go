/*
Package health provides the connect probe used by the readiness engine.

A TCPChecker verifies that an address completes a TCP handshake within a
bounded timeout. That single successful accept is the readiness signal
for a challenge's main service; nothing is written to the connection and
no protocol is assumed.
*/
package health
