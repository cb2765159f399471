package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tOgg1/topicindex/internal/models"
	"github.com/tOgg1/topicindex/internal/scenario"
)

func newReplayCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a scenario and print every stream's topic history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.runScenario(cmd, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func (a *app) runScenario(cmd *cobra.Command, path string) (*scenario.Report, error) {
	s, err := scenario.Load(path)
	if err != nil {
		if errors.Is(err, scenario.ErrScenarioInvalid) {
			return nil, Exitf(exitUsage, "%s: %v", path, err)
		}
		return nil, Exitf(exitFailure, "%v", err)
	}
	report, err := scenario.Run(cmd.Context(), s, a.cfg)
	if err != nil {
		return nil, Exitf(exitFailure, "replay %s: %v", path, err)
	}
	return report, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReport(out io.Writer, report *scenario.Report) error {
	rows := make([][]string, 0, len(report.Streams))
	for _, s := range report.Streams {
		rows = append(rows, []string{
			strconv.FormatInt(int64(s.StreamID), 10),
			s.Name,
			formatYesNo(s.Complete),
			formatMessageID(s.FirstMessageID),
			strconv.FormatInt(int64(s.MaxMessageID), 10),
			strconv.Itoa(len(s.Topics)),
		})
	}
	if err := writeTable(out, []string{"STREAM", "NAME", "COMPLETE", "FIRST", "MAX", "TOPICS"}, rows); err != nil {
		return err
	}

	for _, s := range report.Streams {
		if len(s.Topics) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(out, "\nstream %d\n", s.StreamID); err != nil {
			return err
		}
		topicRows := make([][]string, 0, len(s.Topics))
		for _, topic := range s.Topics {
			topicRows = append(topicRows, []string{
				topic.PrettyName,
				strconv.FormatInt(int64(topic.MessageID), 10),
				strconv.Itoa(topic.Count),
			})
		}
		if err := writeTable(out, []string{"TOPIC", "MESSAGE", "COUNT"}, topicRows); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(out, "\n%d events\n", len(report.Events))
	return err
}

func formatMessageID(id *models.MessageID) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(int64(*id), 10)
}
