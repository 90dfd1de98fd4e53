package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/stats"
	"github.com/marcus/makemagic/internal/task"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics",
	Long: `Display aggregate statistics across all stored tasks.

Shows task counts, completion times, item states and a per-requirement
breakdown. Use --json for machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := stats.New(engine).Compute(cmd.Context())
	if err != nil {
		return fmt.Errorf("computing stats: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	renderStatsHuman(cmd.OutOrStdout(), result)
	return nil
}

func renderStatsHuman(w io.Writer, result *stats.Result) {
	fmt.Fprintln(w, "Magic Stats")
	fmt.Fprintln(w, "================================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Tasks")
	fmt.Fprintf(w, "  Total:        %d\n", result.TotalTasks)
	fmt.Fprintf(w, "  Open:         %d", result.OpenTasks)
	if result.Blocked > 0 {
		fmt.Fprintf(w, " (%d blocked)", result.Blocked)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Completed:    %d\n", result.CompletedTasks)
	if result.FirstCreatedAt != nil {
		fmt.Fprintf(w, "  First:        %s\n", result.FirstCreatedAt.Format("Jan 2, 2006"))
	}
	if result.LastCreatedAt != nil {
		fmt.Fprintf(w, "  Last:         %s\n", result.LastCreatedAt.Format("Jan 2, 2006"))
	}
	if result.CompletedTasks > 0 {
		fmt.Fprintf(w, "  Avg to done:  %s (max %s)\n", result.AvgCompletion, result.MaxCompletion)
	}
	if result.Unreadable > 0 {
		fmt.Fprintf(w, "  Unreadable:   %d\n", result.Unreadable)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Items (%d)\n", result.TotalItems)
	for _, st := range task.States {
		fmt.Fprintf(w, "  %-16s %d\n", st, result.ItemStates[string(st)])
	}

	if len(result.RequirementBreakdown) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Requirements")
		for _, rs := range result.RequirementBreakdown {
			fmt.Fprintf(w, "  %-16s %d tasks, %d completed\n", rs.Name, rs.Tasks, rs.Completed)
		}
	}
}
