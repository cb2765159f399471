package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/topicindex/internal/models"
)

func newTopicsCmd(a *app) *cobra.Command {
	var (
		streamID int64
		prefix   string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "topics <scenario.yaml>",
		Short: "List a stream's recent topic names after replaying a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if streamID <= 0 {
				return Exitf(exitUsage, "--stream must be a positive stream id")
			}
			report, err := a.runScenario(cmd, args[0])
			if err != nil {
				return err
			}
			stream, ok := report.Stream(models.StreamID(streamID))
			if !ok {
				return Exitf(exitUsage, "stream %d does not appear in %s", streamID, args[0])
			}

			names := stream.TopicNames(prefix)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), names)
			}
			for _, name := range names {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&streamID, "stream", 0, "stream id (required)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "only topics starting with this prefix (case-insensitive)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	_ = cmd.MarkFlagRequired("stream")
	return cmd
}
