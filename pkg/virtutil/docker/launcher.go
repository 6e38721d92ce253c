// Package docker launches and inspects Virtuoso containers through the
// docker CLI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/virtutil/virtutil/pkg/virtutil/inifile"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
	"github.com/virtutil/virtutil/pkg/virtutil/proc"
	"github.com/virtutil/virtutil/pkg/virtutil/scanner"
	"github.com/virtutil/virtutil/pkg/virtutil/tuner"
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

// Errors returned by Launcher.
var (
	ErrDockerUnavailable = errors.New("docker is not installed or not in PATH")
	ErrContainerExists   = errors.New("container already exists")
	ErrNotReady          = errors.New("server did not become ready")
	ErrInvalidOptions    = errors.New("invalid launch options")
	ErrCommandFailed     = errors.New("docker command failed")
)

// Ports the engine listens on inside the image.
const (
	ContainerHTTPPort = 8890
	ContainerISQLPort = 1111
)

// Launch defaults.
const (
	DefaultName             = "virtuoso"
	DefaultImage            = "openlink/virtuoso-opensource-7"
	DefaultVersion          = "latest"
	DefaultContainerDataDir = "/opt/virtuoso-opensource/database"
	DefaultMaxRows          = 100000
	DefaultWaitInterval     = 2 * time.Second
	DefaultWaitTimeout      = 120 * time.Second
)

// readyMarker is logged by the engine once it accepts isql connections.
const readyMarker = "Server online at "

// LaunchOptions is the full description of a container to start.
type LaunchOptions struct {
	Name    string
	Image   string
	Version string

	HTTPPort int
	ISQLPort int

	// DataDir on the host, bound to ContainerDataDir.
	DataDir          string
	ContainerDataDir string

	// Volumes are extra HOST:CONTAINER specs.
	Volumes []string

	// Memory is a docker --memory value such as "4g". It should match the
	// memory Params was computed from.
	Memory   string
	CPULimit float64
	Network  string

	DBAPassword string
	MaxRows     int
	Params      tuner.Parameters

	Detach      bool
	ForceRemove bool

	// WaitReady polls the container log for the ready marker. It implies
	// Detach.
	WaitReady    bool
	WaitInterval time.Duration
	WaitTimeout  time.Duration
}

func (o *LaunchOptions) applyDefaults() {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.Version == "" {
		o.Version = DefaultVersion
	}
	if o.HTTPPort == 0 {
		o.HTTPPort = ContainerHTTPPort
	}
	if o.ISQLPort == 0 {
		o.ISQLPort = ContainerISQLPort
	}
	if o.ContainerDataDir == "" {
		o.ContainerDataDir = DefaultContainerDataDir
	}
	if o.MaxRows == 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = DefaultWaitInterval
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.WaitReady {
		o.Detach = true
	}
}

// plan is a validated LaunchOptions.
type plan struct {
	opts   LaunchOptions
	data   Mount
	mounts []Mount
	ports  []PortMapping
}

func (o LaunchOptions) validate() (plan, error) {
	o.applyDefaults()
	p := plan{opts: o}

	if o.DataDir == "" {
		return p, fmt.Errorf("%w: data directory is required", ErrInvalidOptions)
	}
	if o.DBAPassword == "" {
		return p, fmt.Errorf("%w: DBA password is required", ErrInvalidOptions)
	}
	if o.CPULimit < 0 {
		return p, fmt.Errorf("%w: cpu limit must not be negative", ErrInvalidOptions)
	}
	if o.Memory != "" {
		if _, err := types.ParseMemory(o.Memory); err != nil {
			return p, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}

	data, err := ParseMount(o.DataDir + ":" + o.ContainerDataDir)
	if err != nil {
		return p, err
	}
	p.data = data

	if p.mounts, err = ParseMounts(o.Volumes); err != nil {
		return p, err
	}

	p.ports = []PortMapping{
		{HostPort: o.HTTPPort, ContainerPort: ContainerHTTPPort},
		{HostPort: o.ISQLPort, ContainerPort: ContainerISQLPort},
	}
	for _, pm := range p.ports {
		if err := pm.Validate(); err != nil {
			return p, err
		}
	}
	if o.HTTPPort == o.ISQLPort {
		return p, fmt.Errorf("%w: HTTP and isql ports are both %d", ErrInvalidPort, o.HTTPPort)
	}
	return p, nil
}

// Deployment describes a started container.
type Deployment struct {
	Name             string
	Image            string
	HostDataDir      string
	ContainerDataDir string
	Mounts           []Mount
	HTTPPort         int
	ISQLPort         int
	Memory           string

	// Existing is true when the data directory already held engine state
	// and tuning went through virtuoso.ini instead of the environment.
	Existing   bool
	IniChanges []inifile.Change
	// IniError is the patch failure, if any. The launch still proceeds.
	IniError error

	Ready bool
}

// ConductorURL is the web UI address.
func (d Deployment) ConductorURL() string {
	return fmt.Sprintf("http://localhost:%d/conductor", d.HTTPPort)
}

// Launcher runs docker commands.
type Launcher struct {
	docker string
	exec   proc.Executor
	log    *logging.Logger
	sleep  func(time.Duration)
}

// NewLauncher returns a Launcher using the docker binary at path.
func NewLauncher(path string, e proc.Executor) *Launcher {
	if path == "" {
		path = "docker"
	}
	return &Launcher{docker: path, exec: e, log: logging.Get("docker")}
}

func (l *Launcher) run(ctx context.Context, args ...string) (proc.Output, error) {
	return l.exec.Run(ctx, proc.Command{Path: l.docker, Args: args})
}

func (l *Launcher) mustRun(ctx context.Context, args ...string) (proc.Output, error) {
	out, err := l.run(ctx, args...)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrDockerUnavailable, err)
	}
	if out.ExitCode != 0 {
		return out, fmt.Errorf("%w: docker %s: %s", ErrCommandFailed, args[0], strings.TrimSpace(out.Stderr))
	}
	return out, nil
}

// Available checks that the docker CLI runs.
func (l *Launcher) Available(ctx context.Context) error {
	out, err := l.run(ctx, "--version")
	if err != nil || out.ExitCode != 0 {
		return ErrDockerUnavailable
	}
	return nil
}

// Exists reports whether a container with exactly this name exists, in any
// state.
func (l *Launcher) Exists(ctx context.Context, name string) (bool, error) {
	out, err := l.mustRun(ctx, "ps", "-a", "--filter", "name=^/"+name+"$", "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out.Stdout, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// Remove force-removes a container.
func (l *Launcher) Remove(ctx context.Context, name string) error {
	_, err := l.mustRun(ctx, "rm", "-f", name)
	return err
}

// RunArgs returns the arguments of "docker run" for opts, after validation.
func RunArgs(opts LaunchOptions) ([]string, error) {
	p, err := opts.validate()
	if err != nil {
		return nil, err
	}
	return p.runArgs(!HasEngineState(p.data.Host)), nil
}

func (p plan) runArgs(fresh bool) []string {
	o := p.opts
	args := []string{"run", "--name", o.Name}
	for _, pm := range p.ports {
		args = append(args, "-p", pm.Spec())
	}
	args = append(args, "-v", p.data.Spec())
	for _, m := range p.mounts {
		args = append(args, "-v", m.Spec())
	}
	if o.Memory != "" {
		args = append(args, "--memory", o.Memory)
	}
	if o.CPULimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(o.CPULimit, 'f', -1, 64))
	}
	if o.Network != "" {
		args = append(args, "--network", o.Network)
	}

	var env []string
	if fresh {
		env = Env(o.DBAPassword, o.Params, DirsAllowed(o.ContainerDataDir, p.mounts), o.MaxRows)
	} else {
		env = Env(o.DBAPassword, tuner.Parameters{}, "", 0)
	}
	for _, e := range env {
		args = append(args, "-e", e)
	}

	if o.Detach {
		args = append(args, "-d")
	}
	return append(args, o.Image+":"+o.Version)
}

// Launch validates opts, clears or refuses an existing container of the
// same name, applies tuning, starts the container and optionally waits for
// readiness. When readiness times out the Deployment is returned together
// with ErrNotReady and the container keeps running.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (*Deployment, error) {
	p, err := opts.validate()
	if err != nil {
		return nil, err
	}
	o := p.opts

	if err := l.Available(ctx); err != nil {
		return nil, err
	}

	exists, err := l.Exists(ctx, o.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		if !o.ForceRemove {
			return nil, fmt.Errorf("%w: %s (use --force-remove to replace it)", ErrContainerExists, o.Name)
		}
		l.log.Info("removing existing container", "name", o.Name)
		if err := l.Remove(ctx, o.Name); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(p.data.Host, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dep := &Deployment{
		Name:             o.Name,
		Image:            o.Image + ":" + o.Version,
		HostDataDir:      p.data.Host,
		ContainerDataDir: p.data.Container,
		Mounts:           p.mounts,
		HTTPPort:         o.HTTPPort,
		ISQLPort:         o.ISQLPort,
		Memory:           o.Memory,
		Existing:         HasEngineState(p.data.Host),
	}

	if dep.Existing {
		iniPath := filepath.Join(p.data.Host, IniName)
		edits := IniEdits(o.Params, DirsAllowed(o.ContainerDataDir, p.mounts), o.MaxRows)
		dep.IniChanges, dep.IniError = inifile.Patch(iniPath, edits)
		if dep.IniError != nil {
			l.log.Warn("tuning not applied to existing configuration", "path", iniPath, "error", dep.IniError)
		} else {
			for _, c := range dep.IniChanges {
				l.log.Info("configuration updated", "change", c.String())
			}
		}
	}

	args := p.runArgs(!dep.Existing)
	l.log.Info("starting container", "cmd", proc.Command{Path: l.docker, Args: args, Secrets: []string{o.DBAPassword}}.String())
	if _, err := l.mustRun(ctx, args...); err != nil {
		return nil, err
	}

	if o.WaitReady {
		retries := int(o.WaitTimeout / o.WaitInterval)
		if err := l.WaitReady(ctx, o.Name, o.WaitInterval, retries); err != nil {
			return dep, err
		}
		dep.Ready = true
	}
	return dep, nil
}

// WaitReady polls "docker logs" every interval, at most retries+1 times,
// until the engine reports it is online.
func (l *Launcher) WaitReady(ctx context.Context, name string, interval time.Duration, retries int) error {
	marker := readyMarker + strconv.Itoa(ContainerISQLPort)
	attempts := 0

	op := func() error {
		attempts++
		out, err := l.run(ctx, "logs", name)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrDockerUnavailable, err))
		}
		if strings.Contains(out.Stdout, marker) || strings.Contains(out.Stderr, marker) {
			return nil
		}
		return ErrNotReady
	}

	var b backoff.BackOff = backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(max(retries, 0)))
	b = backoff.WithContext(b, ctx)

	var err error
	if l.sleep != nil {
		err = retryWithSleep(op, b, l.sleep)
	} else {
		err = backoff.Retry(op, b)
	}
	if err != nil {
		l.log.Warn("container not ready", "name", name, "attempts", attempts)
		if errors.Is(err, ErrNotReady) {
			return fmt.Errorf("%w: %s after %d checks", ErrNotReady, name, attempts)
		}
		return err
	}
	l.log.Info("container ready", "name", name, "attempts", attempts)
	return nil
}

func retryWithSleep(op backoff.Operation, b backoff.BackOff, sleep func(time.Duration)) error {
	return backoff.RetryNotifyWithTimer(op, b, nil, &sleepTimer{sleep: sleep})
}

// sleepTimer is a backoff.Timer that fires immediately after calling sleep.
type sleepTimer struct {
	sleep func(time.Duration)
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	t.sleep(d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }

// Find lists files under dir inside a running container, filtered with the
// same pattern rules as local discovery.
func (l *Launcher) Find(ctx context.Context, container, dir, pattern string, recursive bool) ([]string, error) {
	args := []string{"exec", container, "find", dir}
	if !recursive {
		args = append(args, "-maxdepth", "1")
	}
	args = append(args, "-type", "f", "-print")

	out, err := l.mustRun(ctx, args...)
	if err != nil {
		return nil, err
	}
	var listing []string
	for _, line := range strings.Split(out.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			listing = append(listing, line)
		}
	}
	return scanner.Filter(strings.TrimSuffix(dir, "/"), listing, pattern, nil), nil
}
