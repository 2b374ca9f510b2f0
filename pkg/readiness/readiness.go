package readiness

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boedegoat/flyctf/pkg/health"
	"github.com/boedegoat/flyctf/pkg/log"
	"github.com/boedegoat/flyctf/pkg/metrics"
	"github.com/boedegoat/flyctf/pkg/types"
)

// Timing constants. The connect-probe timeout and the total budget are
// correctness constants; the poll interval is a tuning knob.
const (
	DefaultProbeTimeout = health.ProbeTimeout
	DefaultPollInterval = 200 * time.Millisecond
	DefaultBudget       = 60 * time.Second
)

// Driver is the slice of the container driver the engine needs.
type Driver interface {
	ListContainerIDs(ctx context.Context, composePath, dir, service string) ([]string, error)
	ContainerIP(ctx context.Context, containerID string) (string, error)
	Up(ctx context.Context, composePath, dir string) error
}

// Engine decides whether a challenge can accept a session, starting its
// containers on demand. Bring-up is serialized per challenge so
// concurrent handlers do not issue redundant compose invocations; probing
// is never serialized.
type Engine struct {
	driver Driver
	logger zerolog.Logger

	probeTimeout time.Duration
	pollInterval time.Duration
	budget       time.Duration

	mu       sync.Mutex
	bringups map[int]chan struct{}
}

// NewEngine creates an engine with the default timings.
func NewEngine(driver Driver) *Engine {
	return &Engine{
		driver:       driver,
		logger:       log.WithComponent("readiness"),
		probeTimeout: DefaultProbeTimeout,
		pollInterval: DefaultPollInterval,
		budget:       DefaultBudget,
		bringups:     make(map[int]chan struct{}),
	}
}

// WithTimings overrides the probe timeout, poll interval and total
// budget. Zero values keep the defaults.
func (e *Engine) WithTimings(probeTimeout, pollInterval, budget time.Duration) *Engine {
	if probeTimeout > 0 {
		e.probeTimeout = probeTimeout
	}
	if pollInterval > 0 {
		e.pollInterval = pollInterval
	}
	if budget > 0 {
		e.budget = budget
	}
	return e
}

// Probe refreshes the runtime observation of every service in the
// challenge and reports whether all of them are ready. It visits every
// service even after the first failure so that state stays current. Safe
// to call concurrently; its only side effect is the state update.
func (e *Engine) Probe(ctx context.Context, ch *types.Challenge) bool {
	ready := true
	for _, name := range ch.ServiceNames() {
		if !e.probeService(ctx, ch, name) {
			ready = false
		}
	}
	return ready
}

func (e *Engine) probeService(ctx context.Context, ch *types.Challenge, name string) bool {
	ids, err := e.driver.ListContainerIDs(ctx, ch.ComposePath, ch.Dir, name)
	if err != nil || len(ids) == 0 {
		if err != nil {
			e.logger.Warn().Err(err).Str("challenge", ch.Name).Str("service", name).Msg("Failed to list containers")
		}
		ch.UpdateService(name, func(s *types.ServiceState) {
			s.ContainerID = ""
			s.IPAddress = ""
			s.AcceptsConnections = false
			s.LastError = "container not running"
		})
		return false
	}

	containerID := ids[0]
	ip, err := e.driver.ContainerIP(ctx, containerID)
	if err != nil || ip == "" {
		if err != nil {
			e.logger.Warn().Err(err).Str("challenge", ch.Name).Str("service", name).Msg("Failed to inspect container")
		}
		ch.UpdateService(name, func(s *types.ServiceState) {
			s.ContainerID = containerID
			s.IPAddress = ""
			s.AcceptsConnections = false
			s.LastError = "no network address"
		})
		return false
	}

	// Sidecars count as ready once they are running with an address.
	// Only the main service's port gates the session.
	if name != ch.MainService {
		ch.UpdateService(name, func(s *types.ServiceState) {
			s.ContainerID = containerID
			s.IPAddress = ip
			s.LastError = ""
		})
		return true
	}

	address := net.JoinHostPort(ip, strconv.Itoa(ch.InternalPort))
	result := health.TCPChecker{Address: address, Timeout: e.probeTimeout}.Check(ctx)

	ch.UpdateService(name, func(s *types.ServiceState) {
		s.ContainerID = containerID
		s.IPAddress = ip
		s.AcceptsConnections = result.Healthy
		if result.Healthy {
			s.LastError = ""
		} else {
			s.LastError = result.Message
		}
	})
	return result.Healthy
}

// EnsureReady makes the challenge ready to accept a session, bringing it
// up if needed and polling until it answers or the budget runs out. An
// already-ready challenge returns immediately without a compose
// invocation.
func (e *Engine) EnsureReady(ctx context.Context, ch *types.Challenge) bool {
	if e.Probe(ctx, ch) {
		return true
	}

	release, ok := e.acquireBringUp(ctx, ch.PublicPort)
	if !ok {
		return false
	}
	defer release()

	// Another handler may have completed the bring-up while we waited.
	if e.Probe(ctx, ch) {
		return true
	}

	e.logger.Info().Str("challenge", ch.Name).Int("public_port", ch.PublicPort).Msg("Bringing up challenge")
	metrics.BringUpsTotal.WithLabelValues(ch.Name).Inc()

	if err := e.driver.Up(ctx, ch.ComposePath, ch.Dir); err != nil {
		e.logger.Error().Err(err).Str("challenge", ch.Name).Msg("Bring-up failed")
		metrics.ReadinessFailuresTotal.WithLabelValues(ch.Name, "bring_up").Inc()
		return false
	}

	deadline := time.Now().Add(e.budget)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if e.Probe(ctx, ch) {
				return true
			}
			if time.Now().After(deadline) {
				e.logger.Warn().
					Str("challenge", ch.Name).
					Dur("budget", e.budget).
					Msg("Challenge did not become ready within budget")
				metrics.ReadinessFailuresTotal.WithLabelValues(ch.Name, "timeout").Inc()
				return false
			}
		}
	}
}

// acquireBringUp takes the per-challenge bring-up slot, aborting when the
// caller's context is cancelled while waiting. The returned func releases
// the slot.
func (e *Engine) acquireBringUp(ctx context.Context, publicPort int) (func(), bool) {
	e.mu.Lock()
	sem, ok := e.bringups[publicPort]
	if !ok {
		sem = make(chan struct{}, 1)
		e.bringups[publicPort] = sem
	}
	e.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	case <-ctx.Done():
		return nil, false
	}
}
