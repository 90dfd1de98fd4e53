package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/magic"
	"github.com/marcus/makemagic/internal/task"
	"github.com/marcus/makemagic/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and manage tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Resolve the catalog into a new task",
	Long: `Resolve the catalog against the given requirements and store the
resulting task. Items whose predicates fail are dropped, groups are
flattened, and every item starts INCOMPLETE.

Examples:
  magic task create --require coffee,hungry
  magic task create -r coffee --meta owner=ops --meta priority=2`,
	Args: cobra.NoArgs,
	RunE: runTaskCreate,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show a task and what is ready to run",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete a task and all its items",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready <uuid>",
	Short: "List items that can start now",
	Long: `List the INCOMPLETE items whose dependencies are all COMPLETE.

With --settle, a task whose goals are all complete is marked complete
first, the same as polling the available endpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskReady,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <uuid>",
	Short: "Mark a task complete once its goals are done",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskComplete,
}

var taskExportCmd = &cobra.Command{
	Use:   "export <uuid>",
	Short: "Write a task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskExport,
}

var taskImportCmd = &cobra.Command{
	Use:   "import [file|-]",
	Short: "Store a task previously written by export",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskImport,
}

var taskPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete tasks that finished long ago",
	Long: `Delete every task whose completion time is older than --older-than.
Defaults to maintenance.retention from config. Open tasks are never purged.`,
	Args: cobra.NoArgs,
	RunE: runTaskPurge,
}

func init() {
	taskCreateCmd.Flags().StringSliceP("require", "r", nil, "Task requirements (repeat or comma separate)")
	taskCreateCmd.Flags().StringArrayP("meta", "m", nil, "Metadata key=value (repeatable)")
	taskCreateCmd.Flags().String("uuid", "", "Use this task uuid instead of generating one")
	taskCreateCmd.Flags().Bool("json", false, "Print the created task as JSON")
	_ = taskCreateCmd.MarkFlagRequired("require")

	taskShowCmd.Flags().Bool("json", false, "Print the task as JSON")
	taskReadyCmd.Flags().Bool("json", false, "Print ready items as JSON")
	taskReadyCmd.Flags().Bool("settle", false, "Complete the task first if all goals are done")
	taskExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	taskPurgeCmd.Flags().Duration("older-than", 0, "Purge tasks completed before this long ago")
	taskPurgeCmd.Flags().Bool("dry-run", false, "List tasks that would be purged")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskReadyCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskExportCmd)
	taskCmd.AddCommand(taskImportCmd)
	taskCmd.AddCommand(taskPurgeCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskList(cmd *cobra.Command, _ []string) error {
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	ids, err := engine.Tasks(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tREQUIREMENTS\tPROGRESS\tSTATUS")
	for _, id := range ids {
		t, err := engine.Task(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\terror: %v\n", id, err)
			continue
		}
		counts := task.Counts(t.Items)
		total := len(t.Items) - 1
		status := "open"
		if t.Complete() {
			status = "complete"
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", id, strings.Join(t.Requirements, ","),
			counts[task.Complete], total, status)
	}
	return w.Flush()
}

func runTaskCreate(cmd *cobra.Command, _ []string) error {
	reqs, _ := cmd.Flags().GetStringSlice("require")
	metaArgs, _ := cmd.Flags().GetStringArray("meta")
	id, _ := cmd.Flags().GetString("uuid")
	asJSON, _ := cmd.Flags().GetBool("json")

	meta, err := parseAssignments(metaArgs)
	if err != nil {
		return err
	}
	if id != "" {
		meta[task.MetaUUID] = id
	}

	engine, cleanup, err := openEngine(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := engine.CreateTask(cmd.Context(), splitList(reqs), meta)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created task %s (%d items, goals: %s)\n",
		t.UUID, len(t.Items)-1, strings.Join(t.Goals(), ", "))
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	t, err := engine.Task(ctx, args[0])
	if err != nil {
		return notFoundHint(err, args[0])
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), t)
	}
	ready, err := task.ReadyToRun(t.Items)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), ui.RenderPlain(t, ready))
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.DeleteTask(cmd.Context(), args[0]); err != nil {
		return notFoundHint(err, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted task %s\n", args[0])
	return nil
}

func runTaskReady(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	settle, _ := cmd.Flags().GetBool("settle")
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	var items []task.Item
	if settle {
		items, err = engine.Available(ctx, args[0])
	} else {
		var ready task.Ready
		ready, err = engine.ReadyToRun(ctx, args[0])
		items = ready.Items
	}
	if err != nil {
		return notFoundHint(err, args[0])
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if items == nil {
			items = []task.Item{}
		}
		return printJSON(out, items)
	}
	for _, it := range items {
		fmt.Fprintln(out, it.Name)
	}
	return nil
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	completed, err := engine.CompleteTask(cmd.Context(), args[0])
	if err != nil {
		return notFoundHint(err, args[0])
	}
	if completed {
		fmt.Fprintf(cmd.OutOrStdout(), "task %s complete\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "task %s was already complete\n", args[0])
	}
	return nil
}

func runTaskExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := engine.Task(cmd.Context(), args[0])
	if err != nil {
		return notFoundHint(err, args[0])
	}
	if output == "" {
		return printJSON(cmd.OutOrStdout(), t)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer f.Close()
	if err := printJSON(f, t); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported task %s to %s\n", t.UUID, output)
	return nil
}

func runTaskImport(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	r, err := fileOrStdin(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var t task.Task
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return fmt.Errorf("reading task: %w", err)
	}

	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.ImportTask(cmd.Context(), &t); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported task %s (%d items)\n", t.UUID, len(t.Items))
	return nil
}

func runTaskPurge(cmd *cobra.Command, _ []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if olderThan <= 0 {
		olderThan = cfg.Maintenance.Retention
	}

	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if dryRun {
		ids, err := engine.Tasks(ctx)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-olderThan)
		for _, id := range ids {
			meta, err := engine.Metadata(ctx, id)
			if err != nil {
				continue
			}
			if at, ok := magic.CompletedAt(meta); ok && !at.After(cutoff) {
				fmt.Fprintf(out, "would purge %s (completed %s)\n", id, at.Format(time.RFC3339))
			}
		}
		return nil
	}

	purged, err := engine.PurgeFinished(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "purged %d task(s)\n", len(purged))
	return nil
}
