package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Find records flagged valid whose embedding is empty or all zero",
	Long: `Find records that are flagged valid although their embedding cannot be
compared (empty or zero vectors from a failed face detection). Such records
silently never match.

By default the command only reports them. Use --apply to invalidate them;
records are kept, and resolved records are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().Bool("apply", false, "Invalidate the records that were found")
	auditCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	apply := mustGetBool(cmd, "apply")

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.registry.AuditDegenerate(ctx, apply)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(result)
	}

	if len(result.Found) == 0 {
		fmt.Println("No degenerate records found")
		return nil
	}

	fmt.Printf("Found %d records with unusable embeddings:\n", len(result.Found))
	for _, rec := range result.Found {
		fmt.Printf("  %-8s %s  %s\n", rec.Pool, rec.ID, rec.Label)
	}

	if !apply {
		fmt.Println("\nDry run. Use --apply to invalidate them.")
		return nil
	}
	fmt.Printf("\nInvalidated %d records", result.Invalidated)
	if result.Skipped > 0 {
		fmt.Printf(", skipped %d already resolved", result.Skipped)
	}
	fmt.Println()
	return nil
}
