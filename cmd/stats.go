package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.registry.Statistics(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(st)
	}

	fmt.Printf("%-16s %8s %8s %8s %8s\n", "", "TOTAL", "ACTIVE", "RESOLVED", "INVALID")
	fmt.Printf("%-16s %8d %8d %8d %8d\n", "Missing persons", st.Missing.Total, st.Missing.Active, st.Missing.Resolved, st.Missing.Invalid)
	fmt.Printf("%-16s %8d %8d %8d %8d\n", "Sightings", st.Sightings.Total, st.Sightings.Active, st.Sightings.Resolved, st.Sightings.Invalid)
	fmt.Println()
	fmt.Printf("Strong candidates:    %d\n", st.StrongCandidates)
	fmt.Printf("Potential candidates: %d\n", st.PotentialCandidates)
	fmt.Printf("Confirmed pairs:      %d\n", st.ConfirmedPairs)
	return nil
}
