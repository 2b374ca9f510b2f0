package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/boedegoat/flyctf/pkg/log"
	"github.com/boedegoat/flyctf/pkg/metrics"
)

// Registry is the slice of the challenge registry the supervisor needs.
type Registry interface {
	Lookup
	Ports() []int
}

// Supervisor binds one listener per discovered public port and dispatches
// every accepted connection to the handler.
type Supervisor struct {
	registry Registry
	handler  *Handler
	logger   zerolog.Logger

	// bindHost is "0.0.0.0" in production; tests narrow it to loopback.
	bindHost string
}

// NewSupervisor creates a supervisor serving the given registry, gating
// sessions through gate.
func NewSupervisor(reg Registry, gate Gate) *Supervisor {
	return &Supervisor{
		registry: reg,
		handler:  NewHandler(reg, gate),
		logger:   log.WithComponent("supervisor"),
		bindHost: "0.0.0.0",
	}
}

// WithBindHost overrides the listen address host.
func (s *Supervisor) WithBindHost(host string) *Supervisor {
	s.bindHost = host
	return s
}

// Run binds the listener fleet and serves until ctx is cancelled. One bad
// port does not prevent the other challenges from serving, and a fleet of
// zero listeners keeps the process alive and idle rather than exiting.
// In-flight sessions are not drained on shutdown; closing the listeners
// is the whole of it.
func (s *Supervisor) Run(ctx context.Context) error {
	ports := s.registry.Ports()

	var listeners []net.Listener
	for _, port := range ports {
		l, err := net.Listen("tcp", net.JoinHostPort(s.bindHost, fmt.Sprint(port)))
		if err != nil {
			s.logger.Error().Err(err).Int("public_port", port).Msg("Failed to bind public port")
			continue
		}
		s.logger.Info().Int("public_port", port).Msg("Proxy listening")
		listeners = append(listeners, l)
	}

	metrics.ListenersActive.Set(float64(len(listeners)))
	switch {
	case len(ports) == 0:
		metrics.ReportComponent("supervisor", true, "no challenges configured")
	case len(listeners) == 0:
		s.logger.Error().Msg("No listeners could be bound, running idle")
		metrics.ReportComponent("supervisor", false, "no listeners bound")
	default:
		metrics.ReportComponent("supervisor", true, fmt.Sprintf("%d listeners", len(listeners)))
	}

	if len(listeners) == 0 {
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			s.acceptLoop(ctx, l)
		}(l)
	}

	<-ctx.Done()
	for _, l := range listeners {
		_ = l.Close()
	}
	wg.Wait()
	return nil
}

func (s *Supervisor) acceptLoop(ctx context.Context, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Str("listener", l.Addr().String()).Msg("Accept failed")
			continue
		}
		go s.handler.Handle(ctx, conn)
	}
}
