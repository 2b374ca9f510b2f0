package health

import (
	"context"
	"net"
	"time"
)

// ProbeTimeout bounds a connect probe when the checker does not set its
// own timeout.
const ProbeTimeout = 2 * time.Second

// Result is the outcome of one connect probe.
type Result struct {
	Healthy bool
	Message string
}

// TCPChecker reports whether a TCP address currently accepts a fresh
// connection. The zero Timeout means ProbeTimeout. The handshake is the
// whole check; nothing is written to the connection.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// Check dials the address once and closes the connection immediately.
func (t TCPChecker) Check(ctx context.Context) Result {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = ProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{Message: "dial " + t.Address + ": " + err.Error()}
	}
	conn.Close()

	return Result{Healthy: true, Message: t.Address + " accepted a connection"}
}
