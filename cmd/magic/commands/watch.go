package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <uuid>",
	Short: "Monitor a task's progress",
	Long: `Open a live view of one task: progress, items ready to run, and the
state of every item. The store is polled every --interval.

When stdout is not a terminal, or with --once, a plain snapshot is
printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", 2*time.Second, "Poll interval")
	watchCmd.Flags().Bool("once", false, "Print one snapshot and exit")
	watchCmd.Flags().Bool("no-color", false, "Disable colored output")
	rootCmd.AddCommand(watchCmd)
}

func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func runWatch(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	once, _ := cmd.Flags().GetBool("once")
	noColor, _ := cmd.Flags().GetBool("no-color")
	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	id := args[0]
	if once || !isTTY() {
		t, err := engine.Task(ctx, id)
		if err != nil {
			return notFoundHint(err, id)
		}
		ready, err := engine.ReadyToRun(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderPlain(t, ready))
		return nil
	}

	if _, err := engine.Metadata(ctx, id); err != nil {
		return notFoundHint(err, id)
	}
	return ui.New(engine, id, interval).Run()
}
