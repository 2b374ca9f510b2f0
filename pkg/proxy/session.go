package proxy

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/boedegoat/flyctf/pkg/metrics"
)

// chunkSize is the pump buffer size.
const chunkSize = 8 * 1024

type pumpResult struct {
	direction string
	bytes     int64
	err       error
}

// session owns one client connection, its dialed target connection and
// the two pump goroutines joining them. run does not return until both
// pumps are finished and both sockets are closed.
type session struct {
	id     string
	client net.Conn
	target net.Conn
	logger zerolog.Logger
}

func newSession(id string, client, target net.Conn, logger zerolog.Logger) *session {
	return &session{
		id:     id,
		client: client,
		target: target,
		logger: logger,
	}
}

// run streams both directions until end-of-stream. A pump that hits clean
// EOF half-closes its destination and lets the opposite direction finish;
// a pump that fails, or a cancelled context, tears the whole session
// down. Both sockets are closed unconditionally before returning.
func (s *session) run(ctx context.Context) {
	start := time.Now()
	metrics.SessionsActive.Inc()
	defer func() {
		metrics.SessionsActive.Dec()
		metrics.SessionDuration.Observe(time.Since(start).Seconds())
	}()

	done := make(chan pumpResult, 2)
	go s.pump(s.client, s.target, metrics.DirectionClientToTarget, done)
	go s.pump(s.target, s.client, metrics.DirectionTargetToClient, done)

	cancelled := ctx.Done()
	for finished := 0; finished < 2; {
		select {
		case <-cancelled:
			cancelled = nil
			s.close()
		case res := <-done:
			finished++
			if res.err != nil {
				// Resets and broken pipes are a normal way for a
				// session to end.
				s.logger.Debug().
					Err(res.err).
					Str("direction", res.direction).
					Int64("bytes", res.bytes).
					Msg("Stream ended with error")
				s.close()
			} else {
				s.logger.Debug().
					Str("direction", res.direction).
					Int64("bytes", res.bytes).
					Msg("Stream finished")
			}
		}
	}
	s.close()
}

// pump copies src to dst until EOF or error, then closes dst's write half
// so the peer observes end-of-stream.
func (s *session) pump(src, dst net.Conn, direction string, done chan<- pumpResult) {
	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(dst, src, buf)
	metrics.BytesForwardedTotal.WithLabelValues(direction).Add(float64(n))

	if tcp, ok := dst.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	done <- pumpResult{direction: direction, bytes: n, err: err}
}

// close shuts both sockets. Idempotent enough: extra closes only return
// errors, which nobody reads.
func (s *session) close() {
	_ = s.client.Close()
	_ = s.target.Close()
}
