package main

import (
	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/pkg/virtutil/fulltext"
	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/output"
)

var rebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the RDF full-text index",
	Long: `Drop and recreate the full-text index over RDF literals, register the
index rule for all graphs and refill it, in one isql session.

The server must be restarted afterwards for the new index to be used.`,
	Args: cobra.NoArgs,
	RunE: runRebuildIndex,
}

func init() {
	addConnectionFlags(rebuildIndexCmd)
	rootCmd.AddCommand(rebuildIndexCmd)
}

// runRebuildIndex runs the rebuild steps.
func runRebuildIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	printInfo(cmd.ErrOrStderr(), "Rebuilding the full-text index on %s...", targetLabel())
	result, err := fulltext.NewRebuilder(newClient()).Rebuild(ctx)

	entry := &history.Entry{Operation: history.OpReindex, Target: targetLabel()}
	res := &output.Result{Command: "rebuild-index"}
	if result != nil {
		entry.Summary.Duration = result.Duration
		res = output.NewReindex(result)
	}
	return render(cmd.OutOrStdout(), res, entry, err)
}
