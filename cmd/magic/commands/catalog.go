package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/deps"
	"github.com/marcus/makemagic/internal/predicate"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the item catalog",
	Long:  `Check, export and preview the item catalog without touching the store.`,
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a catalog and report problems",
	Long: `Load a catalog, print a summary, and report predicates that fail on
an empty requirement set and cycles among items or groups.

Exits non-zero if the catalog does not load, or if --strict is set and
any problem is reported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogCheck,
}

var catalogExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Print the catalog in normalized JSON form",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCatalogExport,
}

var catalogOrderCmd = &cobra.Command{
	Use:   "order [root...]",
	Short: "Show the resolved item order for a requirement set",
	Long: `Resolve the catalog against --require and print each item with its
flattened dependencies, in the order a task would run them.

With root names, only those items and what they reach are resolved.`,
	RunE: runCatalogOrder,
}

var catalogDotCmd = &cobra.Command{
	Use:   "dot [root...]",
	Short: "Write the resolved graph in Graphviz dot format",
	RunE:  runCatalogDot,
}

func init() {
	catalogCheckCmd.Flags().Bool("strict", false, "Fail when problems are found")
	for _, c := range []*cobra.Command{catalogOrderCmd, catalogDotCmd} {
		c.Flags().StringSliceP("require", "r", nil, "Task requirements (repeat or comma separate)")
	}

	catalogCmd.AddCommand(catalogCheckCmd)
	catalogCmd.AddCommand(catalogExportCmd)
	catalogCmd.AddCommand(catalogOrderCmd)
	catalogCmd.AddCommand(catalogDotCmd)
	rootCmd.AddCommand(catalogCmd)
}

// loadCatalog reads the catalog named by args[0], --catalog, or config.
func loadCatalog(cmd *cobra.Command, args []string) (*catalog.Catalog, string, error) {
	if len(args) > 0 {
		cat, err := catalog.Load(args[0])
		return cat, args[0], err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	return cat, cfg.Catalog.Path, err
}

func runCatalogCheck(cmd *cobra.Command, args []string) error {
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	cat, path, err := loadCatalog(cmd, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", path, cat.Summary())

	issues := cat.Lint()
	if len(issues) == 0 {
		fmt.Fprintln(out, "no problems found")
		return nil
	}
	for _, issue := range issues {
		fmt.Fprintf(out, "  %s\n", issue)
	}
	if strict {
		return fmt.Errorf("%d problem(s) in %s", len(issues), path)
	}
	return nil
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	cat, _, err := loadCatalog(cmd, args)
	if err != nil {
		return err
	}
	b, err := cat.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func resolveFromFlags(cmd *cobra.Command, roots []string) (*deps.Resolution, error) {
	reqs, _ := cmd.Flags().GetStringSlice("require")
	cat, _, err := loadCatalog(cmd, nil)
	if err != nil {
		return nil, err
	}
	return deps.Resolve(cat, predicate.NewRequirements(splitList(reqs)...), roots...)
}

func runCatalogOrder(cmd *cobra.Command, args []string) error {
	res, err := resolveFromFlags(cmd, args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, line := range res.Describe() {
		fmt.Fprintln(out, line)
	}
	if len(res.Dropped) > 0 {
		fmt.Fprintf(out, "\ndropped: %s\n", strings.Join(res.Dropped, ", "))
	}
	return nil
}

func runCatalogDot(cmd *cobra.Command, args []string) error {
	res, err := resolveFromFlags(cmd, args)
	if err != nil {
		return err
	}
	if err := res.Graph().WriteDot(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("writing dot: %w", err)
	}
	return nil
}
