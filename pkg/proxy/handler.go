package proxy

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/boedegoat/flyctf/pkg/log"
	"github.com/boedegoat/flyctf/pkg/metrics"
	"github.com/boedegoat/flyctf/pkg/types"
)

// DefaultDialTimeout bounds the connect to a target that ensure-ready has
// already verified as listening.
const DefaultDialTimeout = 5 * time.Second

// Lookup resolves a public port to its challenge.
type Lookup interface {
	Lookup(publicPort int) (*types.Challenge, bool)
}

// Gate decides whether a challenge can accept a session, starting it if
// needed.
type Gate interface {
	EnsureReady(ctx context.Context, ch *types.Challenge) bool
}

// Handler serves one accepted client connection: challenge lookup by
// listening port, readiness gate, target dial, then streaming.
type Handler struct {
	lookup      Lookup
	gate        Gate
	dialTimeout time.Duration
}

// NewHandler creates a connection handler.
func NewHandler(lookup Lookup, gate Gate) *Handler {
	return &Handler{
		lookup:      lookup,
		gate:        gate,
		dialTimeout: DefaultDialTimeout,
	}
}

// Handle runs a full session on conn and closes it before returning. The
// client is never told why a session was rejected; the socket just
// closes.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sessionID := uuid.NewString()[:8]
	logger := log.WithSession(sessionID)

	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		logger.Error().Str("addr", conn.LocalAddr().String()).Msg("Accepted connection has no TCP local address")
		return
	}
	publicPort := local.Port
	peer := conn.RemoteAddr().String()

	logger.Debug().Str("peer", peer).Int("public_port", publicPort).Msg("Accepted connection")

	ch, ok := h.lookup.Lookup(publicPort)
	if !ok {
		logger.Error().Int("public_port", publicPort).Msg("No challenge configured for port, closing connection")
		metrics.SessionsTotal.WithLabelValues("unknown", metrics.OutcomeNoChallenge).Inc()
		return
	}
	logger = logger.With().Str("challenge", ch.Name).Logger()

	if !h.gate.EnsureReady(ctx, ch) {
		logger.Warn().Msg("Challenge not ready, closing connection")
		metrics.SessionsTotal.WithLabelValues(ch.Name, metrics.OutcomeNotReady).Inc()
		return
	}

	ip, port, ok := ch.Target()
	if !ok {
		// Ready raced with a probe that has since failed.
		logger.Error().Msg("Challenge reported ready but target is unresolved, closing connection")
		metrics.SessionsTotal.WithLabelValues(ch.Name, metrics.OutcomeNotReady).Inc()
		return
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: h.dialTimeout}
	target, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		logger.Error().Err(err).Str("target", addr).Msg("Failed to dial target")
		metrics.SessionsTotal.WithLabelValues(ch.Name, metrics.OutcomeDialError).Inc()
		return
	}

	logger.Info().Str("peer", peer).Str("target", addr).Msg("Proxying session")
	newSession(sessionID, conn, target, logger).run(ctx)
	metrics.SessionsTotal.WithLabelValues(ch.Name, metrics.OutcomeCompleted).Inc()
	logger.Info().Str("peer", peer).Msg("Session closed")
}
