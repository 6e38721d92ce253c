package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/pkg/virtutil/config"
	"github.com/virtutil/virtutil/pkg/virtutil/docker"
	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/output"
	"github.com/virtutil/virtutil/pkg/virtutil/proc"
	"github.com/virtutil/virtutil/pkg/virtutil/tuner"
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start a tuned Virtuoso container",
	Long: `Start a Virtuoso container with buffer settings computed from its memory limit.

When --memory is not given, two thirds of the host memory (or the cgroup
limit) is used. A data directory that already holds virtuoso.db or
virtuoso.ini keeps its configuration; the tuned values are patched into
virtuoso.ini instead of being passed as environment variables.

Examples:
  virtutil launch --memory 8g -d ./data
  virtutil launch --mount-volume /srv/rdf:/import --wait-ready
  virtutil launch --force-remove --estimated-db-size 200G`,
	Args: cobra.NoArgs,
	RunE: runLaunch,
}

var launchFlags struct {
	name             string
	image            string
	version          string
	httpPort         int
	isqlPort         int
	dataDir          string
	containerDataDir string
	volumes          []string
	memory           string
	cpuLimit         float64
	network          string
	dbaPassword      string
	maxRows          int
	buffers          int64
	dirtyBuffers     int64
	estimatedDBSize  string
	checkpointRemap  int64
	waitReady        bool
	waitTimeout      int
	detach           bool
	forceRemove      bool
}

func init() {
	f := launchCmd.Flags()
	f.StringVar(&launchFlags.name, "name", docker.DefaultName, "container name")
	f.StringVar(&launchFlags.image, "image", docker.DefaultImage, "image repository")
	f.StringVar(&launchFlags.version, "version", docker.DefaultVersion, "image tag")
	f.IntVar(&launchFlags.httpPort, "http-port", docker.ContainerHTTPPort, "host port for the HTTP endpoint")
	f.IntVar(&launchFlags.isqlPort, "isql-port", docker.ContainerISQLPort, "host port for isql")
	f.StringVarP(&launchFlags.dataDir, "data-dir", "d", "./virtuoso-data", "host directory for the database")
	f.StringVar(&launchFlags.containerDataDir, "container-data-dir", docker.DefaultContainerDataDir, "database directory inside the container")
	f.StringArrayVar(&launchFlags.volumes, "mount-volume", nil, "extra HOST:CONTAINER mount, added to DirsAllowed (repeatable)")
	f.StringVar(&launchFlags.memory, "memory", "", "container memory limit, e.g. 8g (default: 2/3 of host memory)")
	f.Float64Var(&launchFlags.cpuLimit, "cpu-limit", 0, "CPU limit (0 = unlimited)")
	f.StringVar(&launchFlags.network, "network", "", "docker network to attach")
	f.StringVar(&launchFlags.dbaPassword, "dba-password", "dba", "password for the dba user")
	f.IntVar(&launchFlags.maxRows, "max-rows", docker.DefaultMaxRows, "ResultSetMaxRows")
	f.Int64Var(&launchFlags.buffers, "number-of-buffers", 0, "override NumberOfBuffers")
	f.Int64Var(&launchFlags.dirtyBuffers, "max-dirty-buffers", 0, "override MaxDirtyBuffers")
	f.StringVar(&launchFlags.estimatedDBSize, "estimated-db-size", "", "expected database size, e.g. 200G, for MaxCheckpointRemap")
	f.Int64Var(&launchFlags.checkpointRemap, "max-checkpoint-remap", 0, "override MaxCheckpointRemap")
	f.BoolVar(&launchFlags.waitReady, "wait-ready", false, "wait until the server accepts connections")
	f.IntVar(&launchFlags.waitTimeout, "wait-timeout", int(docker.DefaultWaitTimeout.Seconds()), "seconds to wait with --wait-ready")
	f.BoolVar(&launchFlags.detach, "detach", true, "run the container in the background")
	f.BoolVar(&launchFlags.forceRemove, "force-remove", false, "remove an existing container with the same name")
	f.String("docker-path", config.DefaultDocker, "docker binary")

	rootCmd.AddCommand(launchCmd)
}

// launchOptions turns the flags into LaunchOptions.
func launchOptions() (docker.LaunchOptions, error) {
	lf := launchFlags

	memory := lf.memory
	if memory == "" {
		res, err := tuner.Detect()
		if err != nil {
			return docker.LaunchOptions{}, fmt.Errorf("--memory not given and %w", err)
		}
		memory = types.FormatMemory(tuner.DefaultMemory(res))
		printVerbose("using %s of %s host memory", memory, types.FormatSize(res.TotalRAM))
	}
	memBytes, err := types.ParseMemory(memory)
	if err != nil {
		return docker.LaunchOptions{}, fmt.Errorf("%w: %w", docker.ErrInvalidOptions, err)
	}

	dbSize, err := parseOptionalSize(lf.estimatedDBSize)
	if err != nil {
		return docker.LaunchOptions{}, fmt.Errorf("%w: --estimated-db-size: %w", docker.ErrInvalidOptions, err)
	}

	params := tuner.Calculate(memBytes, dbSize, tuner.Overrides{
		NumberOfBuffers:    lf.buffers,
		MaxDirtyBuffers:    lf.dirtyBuffers,
		MaxCheckpointRemap: lf.checkpointRemap,
	})

	return docker.LaunchOptions{
		Name:             lf.name,
		Image:            lf.image,
		Version:          lf.version,
		HTTPPort:         lf.httpPort,
		ISQLPort:         lf.isqlPort,
		DataDir:          lf.dataDir,
		ContainerDataDir: lf.containerDataDir,
		Volumes:          lf.volumes,
		Memory:           memory,
		CPULimit:         lf.cpuLimit,
		Network:          lf.network,
		DBAPassword:      lf.dbaPassword,
		MaxRows:          lf.maxRows,
		Params:           params,
		Detach:           lf.detach,
		ForceRemove:      lf.forceRemove,
		WaitReady:        lf.waitReady,
		WaitTimeout:      secondsFlag(lf.waitTimeout),
	}, nil
}

// parseOptionalSize parses a size flag; empty means zero.
func parseOptionalSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return types.ParseSize(s)
}

// runLaunch starts the container and prints the connection summary.
func runLaunch(cmd *cobra.Command, args []string) error {
	opts, err := launchOptions()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	launcher := docker.NewLauncher(cfg.Docker.Path, proc.OS{})

	printInfo(cmd.ErrOrStderr(), "Starting %s (%s:%s, memory %s)...", opts.Name, opts.Image, opts.Version, opts.Memory)
	dep, err := launcher.Launch(ctx, opts)

	entry := &history.Entry{
		Operation: history.OpLaunch,
		Target:    "localhost:" + strconv.Itoa(opts.ISQLPort),
		Dir:       opts.DataDir,
	}
	if dep == nil {
		if err == nil {
			err = errors.New("launch returned no deployment")
		}
		return render(cmd.OutOrStdout(), &output.Result{Command: "launch"}, entry, err)
	}
	return render(cmd.OutOrStdout(), output.NewLaunch(dep), entry, err)
}
