package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/fingerprint"
	"github.com/kozaktomas/reunite/internal/registry"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage missing person and sighting records",
}

var recordsAddCmd = &cobra.Command{
	Use:   "add <image>",
	Short: "Submit a photo as a missing person or a sighting",
	Long: `Extract the face embedding of a photo with the embedding server and store
it as a new record, then match it against the opposite pool. A photo without a
detectable face is stored but excluded from matching.

Examples:
  reunite records add photo.jpg --pool missing --label "Jana Nováková" --location "Brno"
  reunite records add frame.jpg --pool sighting --location "Main station, camera 4"`,
	Args: cobra.ExactArgs(1),
	RunE: runRecordsAdd,
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records",
	Args:  cobra.NoArgs,
	RunE:  runRecordsList,
}

var recordsInvalidateCmd = &cobra.Command{
	Use:   "invalidate <id>",
	Short: "Exclude a record from all future matching",
	Long: `Mark a record invalid and delete every candidate that references it.
The record itself is kept for audit. Resolved records cannot be invalidated.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecordsInvalidate,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsAddCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsInvalidateCmd)

	recordsAddCmd.Flags().String("pool", "", "missing or sighting (required)")
	recordsAddCmd.Flags().String("label", "", "Name of the missing person or a short description")
	recordsAddCmd.Flags().String("location", "", "Last seen or sighting location")
	recordsAddCmd.Flags().String("submitted-by", "cli", "Who submitted the record")

	recordsListCmd.Flags().String("pool", "", "missing or sighting (default both)")
	recordsListCmd.Flags().String("query", "", "Search labels (case and accent insensitive)")
	recordsListCmd.Flags().Bool("all", false, "Include resolved records")
	recordsListCmd.Flags().Int("limit", 100, "Maximum number of records")
	recordsListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecordsAdd(cmd *cobra.Command, args []string) error {
	pool, err := poolFlag(cmd, true)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	faces := fingerprint.NewFaceClient(a.cfg.Embedding.URL, 0)
	emb, err := faces.ExtractEmbedding(ctx, data)
	if err != nil {
		return fmt.Errorf("extracting embedding: %w", err)
	}
	if !emb.Valid {
		fmt.Printf("Warning: no usable face found in %s, the record will not be matched\n", args[0])
	} else if emb.FacesCount > 1 {
		fmt.Printf("Found %d faces, using the most confident one (score %.2f)\n", emb.FacesCount, emb.DetScore)
	}

	rec, err := a.registry.SubmitRecord(ctx, registry.SubmitRequest{
		Pool:        pool,
		Vector:      emb.Vector,
		Valid:       emb.Valid,
		Label:       mustGetString(cmd, "label"),
		Location:    mustGetString(cmd, "location"),
		SubmittedBy: mustGetString(cmd, "submitted-by"),
	})
	if err != nil {
		return err
	}
	a.registry.Coordinator().Wait()

	fmt.Printf("Stored %s record %s (valid: %t)\n", rec.Pool, rec.ID, rec.Valid)
	if !rec.Valid {
		return nil
	}

	candidates, err := a.registry.ListMatches(ctx, database.CandidateFilter{Pool: rec.Pool, RecordID: rec.ID})
	if err != nil {
		return err
	}
	fmt.Printf("%d candidates found\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %s  %-9s %.2f%%\n", c.PartnerID(rec.Pool.Opposite()), c.Tier, c.Confidence)
	}
	return nil
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	pool, err := poolFlag(cmd, false)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.registry.ListRecords(ctx, database.RecordFilter{
		Pool:            pool,
		Query:           mustGetString(cmd, "query"),
		IncludeResolved: mustGetBool(cmd, "all"),
		Limit:           mustGetInt(cmd, "limit"),
	})
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(recs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPOOL\tSTATE\tVALID\tLABEL\tLOCATION\tCREATED")
	for _, r := range recs {
		state := string(r.Lifecycle)
		if r.LinkedID != "" {
			state += " -> " + r.LinkedID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			r.ID, r.Pool, state, r.Valid, r.Label, r.Location, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func runRecordsInvalidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registry.InvalidateRecord(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Record %s invalidated, its candidates were removed\n", args[0])
	return nil
}
