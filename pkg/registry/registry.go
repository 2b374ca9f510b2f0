package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/boedegoat/flyctf/pkg/log"
	"github.com/boedegoat/flyctf/pkg/types"
)

// Registry is the immutable mapping from public port to challenge
// descriptor produced by discovery.
type Registry struct {
	challenges map[int]*types.Challenge
}

// Lookup returns the challenge serving the given public port.
func (r *Registry) Lookup(publicPort int) (*types.Challenge, bool) {
	ch, ok := r.challenges[publicPort]
	return ch, ok
}

// Ports returns the public ports in ascending order.
func (r *Registry) Ports() []int {
	ports := make([]int, 0, len(r.challenges))
	for p := range r.challenges {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// Len returns the number of discovered challenges.
func (r *Registry) Len() int {
	return len(r.challenges)
}

// Directories skipped during the scan besides hidden ones.
var skipDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
}

// Discover scans the immediate children of rootDir for challenge bundles
// and builds the registry. A broken directory never fails the scan as a
// whole; it is skipped with a warning. Duplicate public ports keep the
// first-seen descriptor (directory iteration is lexical).
func Discover(rootDir string) *Registry {
	logger := log.WithComponent("registry")
	logger.Info().Str("dir", rootDir).Msg("Scanning for challenges")

	reg := &Registry{challenges: make(map[int]*types.Challenge)}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		logger.Error().Err(err).Str("dir", rootDir).Msg("Failed to read challenges directory")
		return reg
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name[0] == '.' || skipDirs[name] {
			continue
		}

		dir := filepath.Join(rootDir, name)
		composePath := firstExisting(dir, "docker-compose.yml", "docker-compose.yaml")
		metadataPath := firstExisting(dir, "challenge.yaml", "challenge.yml")

		switch {
		case composePath == "" && metadataPath == "":
			continue
		case metadataPath == "":
			logger.Warn().Str("dir", name).Msg("Skipping directory: compose manifest present but no challenge metadata")
			continue
		case composePath == "":
			logger.Warn().Str("dir", name).Msg("Skipping directory: challenge metadata present but no compose manifest")
			continue
		}

		ch, err := loadChallenge(name, dir, metadataPath, composePath)
		if err != nil {
			logger.Warn().Err(err).Str("dir", name).Msg("Skipping challenge directory")
			continue
		}

		if existing, dup := reg.challenges[ch.PublicPort]; dup {
			logger.Error().
				Int("public_port", ch.PublicPort).
				Str("kept", existing.Name).
				Str("rejected", ch.Name).
				Msg("Duplicate public port, keeping first-seen challenge")
			continue
		}
		reg.challenges[ch.PublicPort] = ch

		logger.Info().
			Str("challenge", ch.Name).
			Int("public_port", ch.PublicPort).
			Int("internal_port", ch.InternalPort).
			Str("main_service", ch.MainService).
			Int("services", len(ch.ServiceNames())).
			Msg("Discovered challenge")
	}

	if reg.Len() == 0 {
		logger.Warn().Msg("No valid challenges found, proxy will serve nothing")
	}
	return reg
}

// loadChallenge parses one candidate directory into a descriptor.
func loadChallenge(name, dir, metadataPath, composePath string) (*types.Challenge, error) {
	meta, err := parseMetadata(metadataPath)
	if err != nil {
		return nil, err
	}
	if !types.ValidPublicPort(meta.PublicPort) {
		return nil, fmt.Errorf("public port %d out of range [%d, %d]", meta.PublicPort, types.MinPublicPort, types.MaxPort)
	}
	if !types.ValidInternalPort(meta.InternalPort) {
		return nil, fmt.Errorf("internal port %d out of range [%d, %d]", meta.InternalPort, types.MinInternalPort, types.MaxPort)
	}

	services, err := parseComposeServices(composePath)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no services in %s", filepath.Base(composePath))
	}

	main := selectMainService(name, services, meta)

	for _, svc := range services {
		if svc.Name == main && !svc.ExposesPort(meta.InternalPort) {
			log.WithChallenge(name).Warn().
				Str("service", main).
				Int("internal_port", meta.InternalPort).
				Msg("Internal port is not in the main service's expose list, connections might fail")
		}
	}

	ch := types.NewChallenge(name, dir, composePath, meta.PublicPort, meta.InternalPort)
	for _, svc := range services {
		ch.AddService(svc.Name, svc.Name == main)
	}
	return ch, nil
}

// selectMainService applies the ordered fallback policy: the unique
// service exposing the internal port, then the first service with any
// expose list, then the metadata hint, then the first service. Every step
// past the first logs a warning.
func selectMainService(challenge string, services []composeService, meta *metadata) string {
	logger := log.WithChallenge(challenge)

	var exposingInternal []composeService
	for _, svc := range services {
		if svc.ExposesPort(meta.InternalPort) {
			exposingInternal = append(exposingInternal, svc)
		}
	}
	if len(exposingInternal) == 1 {
		return exposingInternal[0].Name
	}

	for _, svc := range services {
		if len(svc.Expose) > 0 {
			logger.Warn().
				Str("service", svc.Name).
				Int("internal_port", meta.InternalPort).
				Msg("No unique service exposes the internal port, falling back to first service with an expose list")
			return svc.Name
		}
	}

	if meta.ServiceName != "" {
		for _, svc := range services {
			if svc.Name == meta.ServiceName {
				logger.Warn().
					Str("service", svc.Name).
					Msg("No service declares an expose list, using service_name from metadata")
				return svc.Name
			}
		}
	}

	logger.Warn().
		Str("service", services[0].Name).
		Msg("Could not identify the main service, falling back to first service in the manifest")
	return services[0].Name
}

func firstExisting(dir string, names ...string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
