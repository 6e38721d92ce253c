package main

import (
	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/pkg/virtutil/dump"
	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/output"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export all graphs as N-Quads",
	Long: `Export every user graph to outputNNNNNN.nq files written by the server.

The dump_nquads procedure is installed on first use. System graphs are
skipped. --output-dir is a path on the server and must be listed in
DirsAllowed.

Examples:
  virtutil dump --output-dir /opt/virtuoso-opensource/database/dumps
  virtutil dump --output-dir /dumps --compress=false --file-length-limit 500000000`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

var dumpFlags dump.Options

func init() {
	f := dumpCmd.Flags()
	f.StringVar(&dumpFlags.OutputDir, "output-dir", "", "server-side directory for the dump files (required)")
	f.Int64Var(&dumpFlags.FileSizeLimit, "file-length-limit", dump.DefaultFileSizeLimit, "uncompressed bytes per output file")
	f.BoolVar(&dumpFlags.Compress, "compress", true, "gzip the output files")
	f.IntVar(&dumpFlags.StartFrom, "start-from", dump.DefaultStartFrom, "number of the first output file")
	_ = dumpCmd.MarkFlagRequired("output-dir")
	addConnectionFlags(dumpCmd)
	rootCmd.AddCommand(dumpCmd)
}

// runDump installs the procedure when needed and runs it.
func runDump(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	printInfo(cmd.ErrOrStderr(), "Dumping graphs to %s on %s...", dumpFlags.OutputDir, targetLabel())
	result, err := dump.NewDriver(newClient()).Run(ctx, dumpFlags)

	entry := &history.Entry{Operation: history.OpDump, Target: targetLabel(), Dir: dumpFlags.OutputDir}
	res := &output.Result{Command: "dump"}
	if result != nil {
		entry.Summary.Duration = result.Duration
		res = output.NewDump(result, dumpFlags)
	}
	return render(cmd.OutOrStdout(), res, entry, err)
}
