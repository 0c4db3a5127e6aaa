package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/reunite/internal/database"
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Review and confirm match candidates",
}

var matchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored match candidates",
	Long: `List stored match candidates between active, valid records, best first.
Nothing is computed; run "reunite rescan" to refresh candidates.

Examples:
  # Strong candidates only
  reunite matches list --tier strong

  # Candidates for one missing person
  reunite matches list --record 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed`,
	Args: cobra.NoArgs,
	RunE: runMatchesList,
}

var matchesConfirmCmd = &cobra.Command{
	Use:   "confirm <missing-id> <sighting-id>",
	Short: "Confirm that a missing person and a sighting are the same individual",
	Long: `Confirm a stored candidate. Both records are resolved and linked to each
other in one transaction; resolved records take no further part in matching.`,
	Args: cobra.ExactArgs(2),
	RunE: runMatchesConfirm,
}

func init() {
	rootCmd.AddCommand(matchesCmd)
	matchesCmd.AddCommand(matchesListCmd)
	matchesCmd.AddCommand(matchesConfirmCmd)

	matchesListCmd.Flags().String("pool", "", "Pool of --record (looked up when empty)")
	matchesListCmd.Flags().String("record", "", "Only candidates involving this record")
	matchesListCmd.Flags().String("tier", "", "Filter by tier: strong or potential")
	matchesListCmd.Flags().Int("limit", 50, "Maximum number of candidates")
	matchesListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runMatchesList(cmd *cobra.Command, args []string) error {
	pool, err := poolFlag(cmd, false)
	if err != nil {
		return err
	}
	var tier database.Tier
	if raw := mustGetString(cmd, "tier"); raw != "" {
		if tier, err = database.ParseTier(raw); err != nil {
			return err
		}
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	candidates, err := a.registry.ListMatches(ctx, database.CandidateFilter{
		Pool:     pool,
		RecordID: mustGetString(cmd, "record"),
		Tier:     tier,
		Limit:    mustGetInt(cmd, "limit"),
	})
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(candidates)
	}

	if len(candidates) == 0 {
		fmt.Println("No candidates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MISSING\tSIGHTING\tTIER\tCONFIDENCE\tDISTANCE\tREVIEWED")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\t%.4f\t%t\n",
			c.MissingID, c.SightingID, c.Tier, c.Confidence, c.Distance, c.Reviewed)
	}
	w.Flush()
	fmt.Printf("\n%d candidates\n", len(candidates))
	return nil
}

func runMatchesConfirm(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registry.ConfirmMatch(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Confirmed: missing person %s matches sighting %s\n", args[0], args[1])
	return nil
}
