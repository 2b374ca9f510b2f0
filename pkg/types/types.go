package types

import (
	"sync"
)

// Port ranges accepted during discovery. Public ports stay out of the
// privileged range so the proxy can run unprivileged.
const (
	MinPublicPort   = 1024
	MinInternalPort = 1
	MaxPort         = 65535
)

// ServiceState is the last runtime observation for one compose service.
// All fields besides Name and IsMain are written by the readiness engine.
type ServiceState struct {
	Name   string
	IsMain bool

	// ContainerID is the last observed container id. Empty means the
	// service is not running as far as we know.
	ContainerID string

	// IPAddress is the last observed container network address.
	IPAddress string

	// AcceptsConnections is only meaningful for the main service and is
	// set by the readiness connect probe.
	AcceptsConnections bool

	// LastError is the diagnostic from the most recent failed probe.
	LastError string
}

// Challenge describes one discovered challenge, keyed by its public port.
// The descriptor itself is immutable after discovery; only the per-service
// observations change, guarded by mu.
type Challenge struct {
	// Name is the challenge directory basename, used only for logging.
	Name string

	// Dir is the working directory for compose invocations.
	Dir string

	// ComposePath is the manifest passed to docker-compose via -f.
	ComposePath string

	PublicPort   int
	InternalPort int

	// MainService is the compose service the proxy terminates at.
	MainService string

	mu       sync.RWMutex
	services map[string]*ServiceState
	order    []string
}

// NewChallenge creates a descriptor with no services. AddService populates
// it during discovery, before the descriptor is shared.
func NewChallenge(name, dir, composePath string, publicPort, internalPort int) *Challenge {
	return &Challenge{
		Name:         name,
		Dir:          dir,
		ComposePath:  composePath,
		PublicPort:   publicPort,
		InternalPort: internalPort,
		services:     make(map[string]*ServiceState),
	}
}

// AddService registers a compose service on the descriptor. Discovery-time
// only; not safe to call once the descriptor is published.
func (c *Challenge) AddService(name string, isMain bool) {
	if _, exists := c.services[name]; exists {
		return
	}
	c.services[name] = &ServiceState{Name: name, IsMain: isMain}
	c.order = append(c.order, name)
	if isMain {
		c.MainService = name
	}
}

// ServiceNames returns the service names in manifest order.
func (c *Challenge) ServiceNames() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Service returns a snapshot of the named service's state.
func (c *Challenge) Service(name string) (ServiceState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, ok := c.services[name]
	if !ok {
		return ServiceState{}, false
	}
	return *state, true
}

// UpdateService mutates the named service's state under the descriptor
// lock. No-op for unknown services.
func (c *Challenge) UpdateService(name string, fn func(*ServiceState)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.services[name]; ok {
		fn(state)
	}
}

// Target returns the main service's address and the internal port, and
// whether the service currently accepts connections.
func (c *Challenge) Target() (ip string, port int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, exists := c.services[c.MainService]
	if !exists || state.IPAddress == "" || !state.AcceptsConnections {
		return "", 0, false
	}
	return state.IPAddress, c.InternalPort, true
}

// ValidPublicPort reports whether p is usable as a public port.
func ValidPublicPort(p int) bool {
	return p >= MinPublicPort && p <= MaxPort
}

// ValidInternalPort reports whether p is usable as an internal port.
func ValidInternalPort(p int) bool {
	return p >= MinInternalPort && p <= MaxPort
}
