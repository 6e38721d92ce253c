package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/pkg/virtutil/docker"
	"github.com/virtutil/virtutil/pkg/virtutil/inifile"
	"github.com/virtutil/virtutil/pkg/virtutil/output"
	"github.com/virtutil/virtutil/pkg/virtutil/scanner"
	"github.com/virtutil/virtutil/pkg/virtutil/tuner"
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Compute buffer and checkpoint settings",
	Long: `Compute NumberOfBuffers, MaxDirtyBuffers and MaxCheckpointRemap for a
memory limit and an expected database size.

Without --memory the host memory (or cgroup limit) is used. With --data-dir
and no --estimated-db-size, the size of the *.db files there is used.
--apply-ini writes the values into <data-dir>/virtuoso.ini.

Examples:
  virtutil tune --memory 16g
  virtutil tune --memory 64g --estimated-db-size 500G
  virtutil tune --memory 8g -d ./virtuoso-data --apply-ini`,
	Args: cobra.NoArgs,
	RunE: runTune,
}

var tuneFlags struct {
	memory          string
	estimatedDBSize string
	dataDir         string
	applyINI        bool
}

func init() {
	f := tuneCmd.Flags()
	f.StringVar(&tuneFlags.memory, "memory", "", "memory available to the server, e.g. 16g (default: host memory)")
	f.StringVar(&tuneFlags.estimatedDBSize, "estimated-db-size", "", "expected database size, e.g. 500G")
	f.StringVarP(&tuneFlags.dataDir, "data-dir", "d", "", "database directory to measure and patch")
	f.BoolVar(&tuneFlags.applyINI, "apply-ini", false, "write the values into virtuoso.ini in --data-dir")
	rootCmd.AddCommand(tuneCmd)
}

// databaseSize sums the *.db files directly in dir.
func databaseSize(ctx context.Context, dir string) (int64, error) {
	files, err := scanner.Discover(ctx, scanner.Options{Root: dir, Pattern: "*.db"})
	if err != nil {
		return 0, err
	}
	return scanner.TotalSize(files), nil
}

// runTune prints the computed settings and optionally patches the INI file.
func runTune(cmd *cobra.Command, args []string) error {
	if tuneFlags.applyINI && tuneFlags.dataDir == "" {
		return fmt.Errorf("--apply-ini needs --data-dir")
	}

	var res *tuner.SystemResources
	if detected, err := tuner.Detect(); err == nil {
		res = &detected
	} else if tuneFlags.memory == "" {
		return fmt.Errorf("--memory not given and %w", err)
	}

	var memory int64
	if tuneFlags.memory != "" {
		m, err := types.ParseMemory(tuneFlags.memory)
		if err != nil {
			return err
		}
		memory = m
	} else {
		memory = res.TotalRAM
	}

	dbSize, err := parseOptionalSize(tuneFlags.estimatedDBSize)
	if err != nil {
		return fmt.Errorf("--estimated-db-size: %w", err)
	}
	if dbSize == 0 && tuneFlags.dataDir != "" {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		if dbSize, err = databaseSize(ctx, tuneFlags.dataDir); err != nil {
			return err
		}
		printVerbose("measured database size %s", types.FormatSize(dbSize))
	}

	params := tuner.Calculate(memory, dbSize, tuner.Overrides{})

	var changes []inifile.Change
	if tuneFlags.applyINI {
		path := filepath.Join(tuneFlags.dataDir, docker.IniName)
		changes, err = inifile.Patch(path, docker.IniEdits(params, "", 0))
		if err != nil {
			return render(cmd.OutOrStdout(), output.NewTuning(params, res, nil), nil, fmt.Errorf("patching %s: %w", path, err))
		}
	}
	return render(cmd.OutOrStdout(), output.NewTuning(params, res, changes), nil, nil)
}
