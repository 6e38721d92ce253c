package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	crdb "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/virtutil/virtutil/pkg/virtutil/config"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	outputFormat string

	// v and cfg are set by bootstrap before any RunE.
	v   *viper.Viper
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "virtutil",
		Short: "Operate Virtuoso RDF servers",
		Long: `virtutil launches, tunes and bulk loads Virtuoso RDF servers.

It drives the server through the isql command-line client, either on the
host or inside a container with "docker exec".

Examples:
  virtutil launch --memory 8g -d ./data         # Start a tuned container
  virtutil load-parallel -d /data/import -n 4   # Load *.nq files with 4 workers
  virtutil load -d /data/import --recursive     # Register and load *.nq.gz
  virtutil dump --output-dir /dumps             # Export all graphs as N-Quads
  virtutil rebuild-index                        # Rebuild the full-text index
  virtutil tune --memory 32g                    # Show recommended settings`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: bootstrap,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Close()
		},
	}
)

// errReported marks an error already rendered to the user.
var errReported = errors.New("reported")

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/virtutil/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output on stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only errors on stderr")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "pretty", "output format: pretty, plain, json, yaml, paths")
}

// Execute runs the root command and prints errors that were not rendered
// as part of a command result.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errReported) {
		printError("%v", err)
		for _, hint := range crdb.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
	}
	return err
}

// bootstrap loads configuration, binds the command's flags and starts
// logging.
func bootstrap(cmd *cobra.Command, args []string) error {
	var err error
	v, err = config.New(cfgFile)
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	cfg, err = config.Unmarshal(v)
	if err != nil {
		return err
	}

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	logCfg.ConsoleLevel = consoleLevel()
	if err := logging.Init(logCfg); err != nil {
		// Logging is best effort; the command still runs.
		printVerbose("logging disabled: %v", err)
	}
	return nil
}

// consoleLevel maps -v and -q to the stderr log threshold.
func consoleLevel() string {
	switch {
	case quiet:
		return "error"
	case verbose:
		return "debug"
	default:
		return "warn"
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(w io.Writer, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(w, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
