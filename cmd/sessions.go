package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trial-eligibility/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Fetch the configured sessions and print them normalized",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sessions"); err != nil {
			return err
		}

		client := initHeidi()
		token, err := client.IssueToken(ctx, heidiCredentials())
		if err != nil {
			return err
		}

		records, err := session.FetchBatch(ctx, client, token, cfg.Heidi.SessionKeys)
		if err != nil {
			return eris.Wrap(err, "sessions")
		}
		zap.L().Info("sessions fetched",
			zap.Int("requested", len(cfg.Heidi.SessionKeys)),
			zap.Int("present", len(records)),
		)

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeSessionsJSON(os.Stdout, records)
		}

		now := time.Now()
		patients := make([]session.Patient, len(records))
		for i, rec := range records {
			patients[i] = session.DerivePatient(i, rec, now)
		}
		formatPatients(os.Stdout, patients)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Bool("json", false, "print the normalized session fields as JSON")
	rootCmd.AddCommand(sessionsCmd)
}

// writeSessionsJSON prints each normalized session keyed by its session key.
func writeSessionsJSON(w io.Writer, records []session.Record) error {
	out := make(map[string]session.Flat, len(records))
	for _, rec := range records {
		out[rec.Key] = rec.Flat
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatPatients(w io.Writer, patients []session.Patient) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tNAME\tAGE\tGENDER\tMRN\tLAST VISIT")
	for _, p := range patients {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", p.ID, p.Name, p.Age, p.Gender, p.MRN, p.LastVisit)
	}
	tw.Flush() //nolint:errcheck
}
