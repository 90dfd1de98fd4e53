package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/task"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Inspect and update task items",
}

var itemShowCmd = &cobra.Command{
	Use:   "show <uuid> <name>",
	Short: "Print one item document",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemShow,
}

var itemUpdateCmd = &cobra.Command{
	Use:   "update <uuid> <name> key=value...",
	Short: "Set item fields, optionally only if others match",
	Long: `Set fields on an item. Values are parsed as JSON when possible, so
count=3 stores a number and note=hi stores a string.

With --onlyif, the update is applied only if every given field currently
holds the given value. The item is printed as it is afterwards either way.

Examples:
  magic item update $ID get_up state=IN_PROGRESS --onlyif state=INCOMPLETE
  magic item update $ID get_up owner='{"name":"ops"}'`,
	Args: cobra.MinimumNArgs(3),
	RunE: runItemUpdate,
}

var itemClaimCmd = &cobra.Command{
	Use:   "claim <uuid> <name>",
	Short: "Move an item between states and report who won",
	Long: `Atomically move an item from one state to another. Exits non-zero
if another caller changed the item first.`,
	Args: cobra.ExactArgs(2),
	RunE: runItemClaim,
}

func init() {
	itemUpdateCmd.Flags().StringArray("onlyif", nil, "Match condition key=value (repeatable)")
	itemClaimCmd.Flags().String("from", string(task.Incomplete), "Expected current state")
	itemClaimCmd.Flags().String("to", string(task.InProgress), "New state")

	itemCmd.AddCommand(itemShowCmd)
	itemCmd.AddCommand(itemUpdateCmd)
	itemCmd.AddCommand(itemClaimCmd)
	rootCmd.AddCommand(itemCmd)
}

func runItemShow(cmd *cobra.Command, args []string) error {
	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	it, err := engine.Item(cmd.Context(), args[0], args[1])
	if err != nil {
		return notFoundHint(err, args[0])
	}
	return printJSON(cmd.OutOrStdout(), it)
}

func runItemUpdate(cmd *cobra.Command, args []string) error {
	onlyifArgs, _ := cmd.Flags().GetStringArray("onlyif")
	set, err := parseAssignments(args[2:])
	if err != nil {
		return err
	}
	onlyif, err := parseAssignments(onlyifArgs)
	if err != nil {
		return err
	}

	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	it, err := engine.UpdateItem(cmd.Context(), args[0], args[1], set, onlyif)
	if err != nil {
		return notFoundHint(err, args[0])
	}
	return printJSON(cmd.OutOrStdout(), it)
}

func runItemClaim(cmd *cobra.Command, args []string) error {
	fromFlag, _ := cmd.Flags().GetString("from")
	toFlag, _ := cmd.Flags().GetString("to")
	from, err := task.ParseState(fromFlag)
	if err != nil {
		return err
	}
	to, err := task.ParseState(toFlag)
	if err != nil {
		return err
	}

	engine, cleanup, err := openEngine(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	it, won, err := engine.Claim(cmd.Context(), args[0], args[1], from, to)
	if err != nil {
		return notFoundHint(err, args[0])
	}
	if !won {
		return fmt.Errorf("%s is %s, not claimed", it.Name, it.State)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "claimed %s: %s -> %s\n", it.Name, from, to)
	return nil
}
