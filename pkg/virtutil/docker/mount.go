package docker

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

// ErrInvalidMount is returned for a volume spec that is not HOST:CONTAINER.
var ErrInvalidMount = errors.New("invalid mount, expected HOST_PATH:CONTAINER_PATH")

// ErrInvalidPort is returned for an unusable port mapping.
var ErrInvalidPort = errors.New("invalid port mapping")

// Mount is a validated bind mount.
type Mount struct {
	// Host is absolute.
	Host string
	// Container is absolute and slash-separated.
	Container string
	ReadOnly  bool
}

// Spec renders the mount for "docker run -v".
func (m Mount) Spec() string {
	s := m.Host + ":" + m.Container
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

// ParseMount validates a HOST:CONTAINER[:ro|:rw] spec. A relative host
// path is made absolute; the container path must already be absolute.
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Mount{}, fmt.Errorf("%w: %q", ErrInvalidMount, spec)
	}

	m := Mount{Host: strings.TrimSpace(parts[0]), Container: strings.TrimSpace(parts[1])}
	if m.Host == "" || m.Container == "" {
		return Mount{}, fmt.Errorf("%w: %q", ErrInvalidMount, spec)
	}
	if !path.IsAbs(m.Container) {
		return Mount{}, fmt.Errorf("%w: container path %q must be absolute", ErrInvalidMount, m.Container)
	}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			m.ReadOnly = true
		case "rw":
		default:
			return Mount{}, fmt.Errorf("%w: unknown mode %q in %q", ErrInvalidMount, parts[2], spec)
		}
	}

	abs, err := filepath.Abs(m.Host)
	if err != nil {
		return Mount{}, fmt.Errorf("%w: %q: %v", ErrInvalidMount, spec, err)
	}
	m.Host = abs
	m.Container = path.Clean(m.Container)
	return m, nil
}

// ParseMounts validates every spec, stopping at the first bad one.
func ParseMounts(specs []string) ([]Mount, error) {
	mounts := make([]Mount, 0, len(specs))
	for _, s := range specs {
		m, err := ParseMount(s)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      int
	ContainerPort int
}

// Spec renders the mapping for "docker run -p".
func (p PortMapping) Spec() string {
	return strconv.Itoa(p.HostPort) + ":" + strconv.Itoa(p.ContainerPort)
}

// Validate checks the mapping with Docker's own port-spec parser.
func (p PortMapping) Validate() error {
	if p.HostPort <= 0 || p.HostPort > 65535 || p.ContainerPort <= 0 || p.ContainerPort > 65535 {
		return fmt.Errorf("%w: %s", ErrInvalidPort, p.Spec())
	}
	if _, err := nat.ParsePortSpec(p.Spec()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPort, p.Spec(), err)
	}
	return nil
}

// TranslatePath maps a host path to its location inside the container using
// mounts. The longest matching host prefix wins. ok is false when no mount
// covers the path.
func TranslatePath(hostPath string, mounts []Mount) (string, bool) {
	hostPath = filepath.Clean(hostPath)
	best := -1
	for i, m := range mounts {
		if hostPath != m.Host && !strings.HasPrefix(hostPath, m.Host+string(filepath.Separator)) {
			continue
		}
		if best < 0 || len(m.Host) > len(mounts[best].Host) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	rest := strings.TrimPrefix(hostPath, mounts[best].Host)
	return path.Join(mounts[best].Container, filepath.ToSlash(rest)), true
}
