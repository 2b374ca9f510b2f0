package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// metadata is the challenge.yaml document. public_port and internal_port
// are required; absence leaves them zero and range validation rejects the
// directory.
type metadata struct {
	PublicPort   int    `yaml:"public_port"`
	InternalPort int    `yaml:"internal_port"`
	ServiceName  string `yaml:"service_name"`
}

func parseMetadata(path string) (*metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

// composeService is the slice of a compose service definition the proxy
// consumes: its name and its expose list.
type composeService struct {
	Name   string
	Expose []string
}

// ExposesPort reports whether the service's expose list covers port.
// Compose allows bare ports, "port/proto" and "start-end" ranges.
func (s composeService) ExposesPort(port int) bool {
	for _, entry := range s.Expose {
		entry = strings.TrimSpace(entry)
		if i := strings.IndexByte(entry, '/'); i >= 0 {
			entry = entry[:i]
		}
		if start, end, ok := strings.Cut(entry, "-"); ok {
			lo, err1 := strconv.Atoi(start)
			hi, err2 := strconv.Atoi(end)
			if err1 == nil && err2 == nil && lo <= port && port <= hi {
				return true
			}
			continue
		}
		if n, err := strconv.Atoi(entry); err == nil && n == port {
			return true
		}
	}
	return false
}

// composeServiceDef is the per-service document shape.
type composeServiceDef struct {
	Expose []exposeEntry `yaml:"expose"`
}

// exposeEntry accepts both integer and string scalars.
type exposeEntry string

func (e *exposeEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expose entries must be scalars", value.Line)
	}
	*e = exposeEntry(value.Value)
	return nil
}

// parseComposeServices extracts the services section of a compose
// manifest, preserving document order. Order matters: the main-service
// fallback policy picks "the first service".
func parseComposeServices(path string) ([]composeService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose manifest: %w", err)
	}

	var doc struct {
		Services yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse compose manifest: %w", err)
	}
	if doc.Services.Kind == 0 || doc.Services.Tag == "!!null" {
		return nil, nil
	}
	if doc.Services.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("compose services section is not a mapping")
	}

	var services []composeService
	content := doc.Services.Content
	for i := 0; i+1 < len(content); i += 2 {
		nameNode, defNode := content[i], content[i+1]

		var def composeServiceDef
		if defNode.Tag != "!!null" {
			if err := defNode.Decode(&def); err != nil {
				return nil, fmt.Errorf("parse service %q: %w", nameNode.Value, err)
			}
		}

		expose := make([]string, 0, len(def.Expose))
		for _, entry := range def.Expose {
			expose = append(expose, string(entry))
		}
		services = append(services, composeService{Name: nameNode.Value, Expose: expose})
	}
	return services, nil
}
