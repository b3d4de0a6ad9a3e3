package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/trial-eligibility/internal/dashboard"
)

var enrollmentsCmd = &cobra.Command{
	Use:   "enrollments",
	Short: "List enrolled patients and per-trial enrollment counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		trialID, _ := cmd.Flags().GetString("trial")

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Service.Enrollments(ctx, trialID)
		if err != nil {
			return err
		}
		if len(view.Patients) == 0 {
			fmt.Fprintln(os.Stderr, "No enrolled patients.")
		}
		formatEnrollments(os.Stdout, view)
		return nil
	},
}

func init() {
	enrollmentsCmd.Flags().String("trial", "", "filter by trial id or protocol id")
	rootCmd.AddCommand(enrollmentsCmd)
}

func formatEnrollments(w io.Writer, view dashboard.EnrollmentView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIAL\tPROTOCOL\tENROLLED\tTARGET")
	for _, t := range view.Trials {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", t.Name, t.ProtocolID, t.Enrolled, t.EnrollmentTarget)
	}
	tw.Flush() //nolint:errcheck

	if len(view.Patients) == 0 {
		return
	}
	fmt.Fprintln(w)

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATIENT\tSESSION\tPROTOCOL\tSCORE\tSTAGE\tENROLLED AT")
	for _, p := range view.Patients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			p.PatientName, p.PatientSessionID, p.TrialProtocolID, p.EligibilityScore, p.Stage,
			p.EnrolledAt.Format("2006-01-02"))
	}
	tw.Flush() //nolint:errcheck
}
