package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/boedegoat/flyctf/pkg/log"
)

// Default CLI binaries. Overridable for environments that ship the compose
// plugin under a different name.
const (
	DefaultComposeBinary = "docker-compose"
	DefaultDockerBinary  = "docker"
)

// Driver is a thin typed wrapper over the compose and inspect CLIs. It
// holds no state; the CLIs are the source of truth about the runtime.
type Driver struct {
	composeBinary string
	dockerBinary  string
	logger        zerolog.Logger
}

// NewDriver creates a driver using the default binaries.
func NewDriver() *Driver {
	return &Driver{
		composeBinary: DefaultComposeBinary,
		dockerBinary:  DefaultDockerBinary,
		logger:        log.WithComponent("compose"),
	}
}

// WithBinaries overrides the compose and docker binaries.
func (d *Driver) WithBinaries(composeBinary, dockerBinary string) *Driver {
	if composeBinary != "" {
		d.composeBinary = composeBinary
	}
	if dockerBinary != "" {
		d.dockerBinary = dockerBinary
	}
	return d
}

// ListContainerIDs returns the container ids of a single compose service,
// one per line of `docker-compose ps -q`. A non-zero exit is reported as
// "no containers", not as an error; the error return is reserved for
// failures to launch the process at all.
func (d *Driver) ListContainerIDs(ctx context.Context, composePath, dir, service string) ([]string, error) {
	stdout, stderr, code, err := d.run(ctx, dir, d.composeBinary, "-f", composePath, "ps", "-q", service)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		d.logger.Debug().
			Str("service", service).
			Int("exit_code", code).
			Str("stderr", stderr).
			Msg("compose ps exited non-zero, treating as no containers")
		return nil, nil
	}

	var ids []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// inspectEntry mirrors the two fields of `docker inspect` output the
// driver consumes. Networks stays raw so it can be walked in document
// order: "first matching network wins" must mean first as inspect
// emitted it, not first in a randomized map iteration.
type inspectEntry struct {
	NetworkSettings struct {
		Networks json.RawMessage
	}
}

// networkAddr is one network's name and address in document order.
type networkAddr struct {
	name string
	ip   string
}

// decodeNetworks walks the Networks object token by token, preserving
// the order the inspect CLI emitted.
func decodeNetworks(raw json.RawMessage) ([]networkAddr, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("networks is not an object")
	}

	var networks []networkAddr
	for dec.More() {
		nameTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := nameTok.(string)

		var settings struct {
			IPAddress string
		}
		if err := dec.Decode(&settings); err != nil {
			return nil, err
		}
		networks = append(networks, networkAddr{name: name, ip: settings.IPAddress})
	}
	return networks, nil
}

// ContainerIP inspects a container and returns its network address.
// Networks whose name contains "bridge" or "default" win over others.
// Parse failures and missing addresses yield an empty string, not an
// error.
func (d *Driver) ContainerIP(ctx context.Context, containerID string) (string, error) {
	if containerID == "" {
		return "", nil
	}

	stdout, stderr, code, err := d.run(ctx, "", d.dockerBinary, "inspect", containerID)
	if err != nil {
		return "", err
	}
	if code != 0 {
		d.logger.Debug().
			Str("container_id", containerID).
			Int("exit_code", code).
			Str("stderr", stderr).
			Msg("docker inspect exited non-zero")
		return "", nil
	}

	var entries []inspectEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		d.logger.Warn().
			Err(err).
			Str("container_id", containerID).
			Msg("Failed to parse docker inspect output")
		return "", nil
	}
	if len(entries) == 0 {
		return "", nil
	}

	networks, err := decodeNetworks(entries[0].NetworkSettings.Networks)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("container_id", containerID).
			Msg("Failed to parse docker inspect networks")
		return "", nil
	}

	for _, network := range networks {
		lower := strings.ToLower(network.name)
		if (strings.Contains(lower, "bridge") || strings.Contains(lower, "default")) && network.ip != "" {
			return network.ip, nil
		}
	}
	for _, network := range networks {
		if network.ip != "" {
			return network.ip, nil
		}
	}
	return "", nil
}

// Up brings up every service of the manifest: build, detached, orphans
// removed. Idempotent at the runtime level for already-running services.
func (d *Driver) Up(ctx context.Context, composePath, dir string) error {
	_, stderr, code, err := d.run(ctx, dir, d.composeBinary, "-f", composePath, "up", "--build", "-d", "--remove-orphans")
	if err != nil {
		return err
	}
	if code != 0 {
		d.logger.Error().
			Int("exit_code", code).
			Str("compose_path", composePath).
			Str("stderr", stderr).
			Msg("compose up failed")
		return errors.New("compose up exited non-zero")
	}
	return nil
}

// run executes one CLI invocation and waits for it. The returned error is
// non-nil only when the process could not be launched or the context was
// cancelled; CLI failures surface through the exit code.
func (d *Driver) run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, code int, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	d.logger.Debug().
		Str("cmd", name+" "+strings.Join(args, " ")).
		Str("dir", dir).
		Msg("Running command")

	runErr := cmd.Run()
	stdout = strings.TrimSpace(outBuf.String())
	stderr = strings.TrimSpace(errBuf.String())

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && ctx.Err() == nil {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return stdout, stderr, -1, ctx.Err()
		}
		return stdout, stderr, -1, runErr
	}
	return stdout, stderr, 0, nil
}
