package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trial-eligibility/internal/model"
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess one patient session against a trial and cache the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		sessionID, _ := cmd.Flags().GetString("session")
		trialID, _ := cmd.Flags().GetString("trial")

		env, err := initService(ctx, "assess")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Service.Assess(ctx, sessionID, trialID)
		if err != nil {
			return eris.Wrap(err, "assess")
		}

		verbose, _ := cmd.Flags().GetBool("verbose")
		formatAssessment(os.Stdout, rec, verbose)
		return nil
	},
}

var prescreenCmd = &cobra.Command{
	Use:   "prescreen",
	Short: "Record a patient at the Pre-Screening stage of a trial",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		sessionID, _ := cmd.Flags().GetString("session")
		trialID, _ := cmd.Flags().GetString("trial")

		env, err := initService(ctx, "prescreen")
		if err != nil {
			return err
		}
		defer env.Close()

		ep, err := env.Service.Prescreen(ctx, sessionID, trialID)
		if err != nil {
			return eris.Wrap(err, "prescreen")
		}

		fmt.Fprintf(os.Stdout, "%s (%s) enrolled in %s at %s, eligibility %d%%\n",
			ep.PatientName, ep.PatientSessionID, ep.TrialProtocolID, ep.Stage, ep.EligibilityScore)
		return nil
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Move an enrolled patient forward to a later trial stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		sessionID, _ := cmd.Flags().GetString("session")
		trialID, _ := cmd.Flags().GetString("trial")
		stageName, _ := cmd.Flags().GetString("stage")

		stage, err := model.ParseStage(stageName)
		if err != nil {
			return err
		}

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.AdvanceStage(ctx, sessionID, trialID, stage); err != nil {
			return eris.Wrap(err, "advance")
		}
		fmt.Fprintf(os.Stdout, "%s moved to %s\n", sessionID, stage)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{assessCmd, prescreenCmd, advanceCmd} {
		c.Flags().String("session", "", "patient session id")
		c.Flags().String("trial", "", "trial id or protocol id")
		_ = c.MarkFlagRequired("session")
		_ = c.MarkFlagRequired("trial")
		rootCmd.AddCommand(c)
	}
	assessCmd.Flags().BoolP("verbose", "v", false, "print the full assessment text")
	advanceCmd.Flags().String("stage", "", "target stage, e.g. \"Randomisation\"")
	_ = advanceCmd.MarkFlagRequired("stage")
}

func formatAssessment(w io.Writer, rec *model.AssessmentRecord, verbose bool) {
	fmt.Fprintf(w, "Patient:     %s (%s)\n", rec.PatientName, rec.PatientSessionID)
	fmt.Fprintf(w, "Trial:       %s (%s)\n", rec.TrialName, rec.TrialProtocolID)
	fmt.Fprintf(w, "Status:      %s\n", rec.EligibilityStatus)
	fmt.Fprintf(w, "Eligibility: %d%%\n", rec.EligibilityPercentage)
	if verbose {
		fmt.Fprintf(w, "\n%s\n", rec.AssessmentResult)
	}
}
